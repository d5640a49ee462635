// Package cli implements the wardenctl command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "wardenctl",
		Short:         "warden administration CLI",
		Long:          "Administrative commands for the warden identity synchronization service.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newSourceSyncCmd())
	rootCmd.AddCommand(newSourceCheckCmd())
	return rootCmd
}
