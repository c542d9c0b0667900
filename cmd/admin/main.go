// Package main provides the autopublish admin CLI: schema migration,
// dashboard tokens, profile import and read-only views of runs and quotas.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "autopublish-admin",
		Short:         "Administer an autopublish data directory",
		Long:          "Operates directly on the databases under AUTOPUBLISH_DATA_DIR. Configuration is read from the environment and .env, like the server.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newMigrateCmd(),
		newTokenCmd(),
		newProfilesCmd(),
		newQuotaCmd(),
		newRunsCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
