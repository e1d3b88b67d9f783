/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"sunny/config"
	"sunny/logging"
)

var cfg = config.Default()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sunny",
	Short: "Portfolio solver launcher",
	Long: `sunny splits a core budget between constraint solvers.

Engine weights, either given directly or predicted from instance features,
are turned into a whole number of cores per engine, respecting engines that
only run on one core or on a minimum parallel width.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("verbosity") {
			loaded.Verbosity, _ = cmd.Flags().GetString("verbosity")
		}
		if cmd.Flags().Changed("catalog") {
			loaded.CatalogFile, _ = cmd.Flags().GetString("catalog")
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		return logging.Init(cfg.Verbosity)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file (YAML)")
	rootCmd.PersistentFlags().StringP("verbosity", "v", logging.Warning, "Log level: quiet, error, warning, info or debug")
	rootCmd.PersistentFlags().String("catalog", "", "Engine catalog file (YAML), replaces the built-in catalog")
}
