package main

import (
	"fmt"
	"time"

	"github.com/aristath/autopublish/internal/domain"
	"github.com/spf13/cobra"
)

func newQuotaCmd() *cobra.Command {
	var day string

	cmd := &cobra.Command{
		Use:   "quota <profile-id>",
		Short: "Show the published-post counter of a profile for a day",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if day == "" {
				day = domain.DayOf(time.Now())
			} else if _, err := time.Parse(domain.DayLayout, day); err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}

			container, _, _, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			if _, err := container.ProfileRepo.Get(args[0]); err != nil {
				return err
			}
			counter, err := container.QuotaGuard.Get(args[0], day)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*domain.QuotaCounter
				Remaining int `json:"remaining"`
			}{counter, counter.Remaining()})
		},
	}

	cmd.Flags().StringVar(&day, "date", "", "Day as YYYY-MM-DD (default today, UTC)")
	return cmd
}
