package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"sunny/manager"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the allocation and run API over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")

		m, err := manager.New(cfg)
		if err != nil {
			return err
		}
		api := manager.NewApi(host, port, m)
		srv := api.Server()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			m.Worker.CollectStats(ctx, 15*time.Second)
			return nil
		})
		g.Go(func() error {
			m.Worker.EnforceMemory(ctx, cfg.MemoryEnforcerInterval)
			return nil
		})
		g.Go(func() error {
			slog.Info("Starting API.", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), cfg.StopGracePeriod+5*time.Second)
			defer cancel()
			return errors.Join(srv.Shutdown(shutdown), m.Close(shutdown))
		})

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "localhost", "Hostname or IP address to listen on")
	serveCmd.Flags().Int("port", 5555, "Port to listen on")
}
