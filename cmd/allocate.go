package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sunny/allocator"
	"sunny/predictor"
)

// allocateCmd represents the allocate command
var allocateCmd = &cobra.Command{
	Use:   "allocate",
	Short: "Split a core budget by engine weights",
	Long: `sunny allocate command.

Prints one engine_id,core_count line per engine that receives cores, in
catalog order. Weights are given in catalog order; see 'sunny catalog'.`,
	Example: "  sunny allocate --weights 0.1,0,0.8,0.1,0,0 -p 16",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("weights")
		cores, _ := cmd.Flags().GetInt("cores")
		explain, _ := cmd.Flags().GetBool("explain")

		weights, err := predictor.ParseFeatures(raw)
		if err != nil {
			return fmt.Errorf("weights %w", err)
		}

		catalog, err := cfg.Catalog()
		if err != nil {
			return err
		}

		alloc, passes, err := allocator.New(catalog).AllocateTrace(weights, cores)
		if err != nil {
			return err
		}

		if explain {
			for _, p := range passes {
				fmt.Fprintf(cmd.ErrOrStderr(), "# %s\n", p)
			}
		}
		return alloc.Portfolio().Format(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringP("weights", "w", "", "Comma-separated engine weights, one per catalog engine")
	allocateCmd.Flags().IntP("cores", "p", 1, "Number of cores to allocate")
	allocateCmd.Flags().Bool("explain", false, "Print each allocation pass to stderr")
	_ = allocateCmd.MarkFlagRequired("weights")
}
