package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the engine catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := cfg.Catalog()
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tENGINE\tPROFILE\tROLE")
		for i, e := range catalog.Entries() {
			role := ""
			switch e.ID {
			case catalog.Flagship():
				role = "flagship"
			case catalog.Fallback():
				role = "fallback"
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, e.ID, e.Profile, role)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}
