package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sarchlab/sqlprof/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of sqlprof.",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "sqlprof %s\n", config.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
