package main

import (
	"github.com/aristath/autopublish/internal/domain"
	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var (
		owner  string
		active bool
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted run states",
		Long:  "Lists the latest run state of each profile of --owner, or every unfinished run with --active.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, _, _, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			var states []*domain.ProfileRunState
			if active {
				states, err = container.RunStates.ListByStatus(domain.RunStatusQueued, domain.RunStatusRunning, domain.RunStatusPaused)
			} else {
				states, err = container.RunStates.ListByUser(owner)
			}
			if err != nil {
				return err
			}
			if states == nil {
				states = []*domain.ProfileRunState{}
			}
			return printJSON(cmd.OutOrStdout(), states)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "User ID whose runs to list")
	cmd.Flags().BoolVar(&active, "active", false, "List unfinished runs of every user")
	cmd.MarkFlagsOneRequired("owner", "active")
	cmd.MarkFlagsMutuallyExclusive("owner", "active")
	return cmd
}
