package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sunny/manager"
	"sunny/predictor"
)

// solveCmd represents the solve command
var solveCmd = &cobra.Command{
	Use:   "solve MODEL [DATA]",
	Short: "Solve an instance with a solver portfolio",
	Long: `sunny solve command.

Schedules a portfolio for the instance, launches every solver on its share of
the cores and streams their output until all of them exit.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cores, _ := cmd.Flags().GetInt("cores")
		rawFeatures, _ := cmd.Flags().GetString("features")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if cmd.Flags().Changed("scheduler") {
			cfg.Scheduler, _ = cmd.Flags().GetString("scheduler")
		}

		features, err := predictor.ParseFeatures(rawFeatures)
		if err != nil {
			return fmt.Errorf("features %w", err)
		}

		req := manager.Request{Features: features, Cores: cores}
		if req.Model, err = filepath.Abs(args[0]); err != nil {
			return err
		}
		if len(args) == 2 {
			if req.Data, err = filepath.Abs(args[1]); err != nil {
				return err
			}
		}

		m, err := manager.New(cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		go m.Worker.EnforceMemory(ctx, cfg.MemoryEnforcerInterval)

		run, err := m.Solve(ctx, req)
		if err != nil {
			return err
		}
		slog.Info("Launched portfolio.", "run", run.ID, "cores", run.Cores, "tasks", len(run.Tasks))

		if err := m.Worker.Wait(ctx); err != nil {
			slog.Warn("Stopping solvers.", "reason", err)
		}

		shutdown, cancel := context.WithTimeout(context.Background(), cfg.StopGracePeriod+5*time.Second)
		defer cancel()
		return m.Close(shutdown)
	},
}

func init() {
	rootCmd.AddCommand(solveCmd)

	solveCmd.Flags().IntP("cores", "p", 0, "Number of cores to use (default: all cores of the host)")
	solveCmd.Flags().StringP("features", "f", "", "Comma-separated instance features passed to the classifier")
	solveCmd.Flags().StringP("scheduler", "s", "proportional", "Scheduler: proportional, static or command")
	solveCmd.Flags().Duration("timeout", 0, "Stop all solvers after this long (0 disables)")
}
