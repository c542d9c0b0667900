package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, cfg, _, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			for name, db := range container.Databases() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", name, db.Path())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schemas applied in %s\n", cfg.DataDir)
			return nil
		},
	}
}
