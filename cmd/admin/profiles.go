package main

import (
	"fmt"
	"os"

	"github.com/aristath/autopublish/internal/modules/profiles"
	"github.com/spf13/cobra"
)

func newProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage publishing profiles",
	}
	cmd.AddCommand(newProfilesImportCmd(), newProfilesListCmd())
	return cmd
}

func newProfilesImportCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "import <file.toml>",
		Short: "Create or update profiles from a TOML file",
		Long:  "Validates every profile of the file first; nothing is written when any entry is invalid. Entries with an existing id are updated.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			file, err := profiles.ParseImport(f)
			if err != nil {
				return err
			}

			container, _, log, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			result, err := profiles.NewService(container.ProfileRepo, log).Import(owner, file)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "User ID owning the imported profiles (required)")
	if err := cmd.MarkFlagRequired("owner"); err != nil {
		panic(fmt.Sprintf("failed to mark owner flag as required: %v", err))
	}
	return cmd
}

func newProfilesListCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the profiles of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			container, _, _, err := openContainer()
			if err != nil {
				return err
			}
			defer container.Close()

			list, err := container.ProfileRepo.ListByOwner(owner)
			if err != nil {
				return err
			}
			views := make([]profiles.ProfileView, 0, len(list))
			for _, p := range list {
				views = append(views, profiles.NewProfileView(p))
			}
			return printJSON(cmd.OutOrStdout(), views)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "User ID (required)")
	if err := cmd.MarkFlagRequired("owner"); err != nil {
		panic(fmt.Sprintf("failed to mark owner flag as required: %v", err))
	}
	return cmd
}
