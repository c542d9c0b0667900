package main

import (
	"fmt"

	"github.com/aristath/autopublish/internal/server"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	var hours int

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a dashboard bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if hours > 0 {
				cfg.JWT.ExpirationHours = hours
			}

			token, err := server.NewJWTService(cfg.JWT).GenerateToken(args[0])
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().IntVar(&hours, "hours", 0, "Token lifetime in hours (default JWT_EXPIRATION_HOURS)")
	return cmd
}
