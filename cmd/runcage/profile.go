package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runcage/runcage/internal/profile"
)

// profileCmd groups operator-facing profile inspection subcommands.
func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect the merged operator profile",
	}
	cmd.AddCommand(profileShowCmd(), profileValidateCmd())
	return cmd
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged user+project profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
}

func profileValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the merged profile without running anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}
			if err := profile.Validate(p); err != nil {
				return err
			}
			fmt.Println("profile is valid")
			return nil
		},
	}
}
