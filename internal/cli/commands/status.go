// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package commands

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand returns the `hop status` command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report repository context, versions and the active manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			status, err := o.GetStatus(cmd.Context())
			if err != nil {
				return err
			}

			cmd.Printf("context:    %s\n", status.Context)
			cmd.Printf("branch:     %s\n", status.Branch)
			cmd.Printf("production: %s\n", status.ProductionVersion)
			if status.DatabaseVersion != "" {
				cmd.Printf("database:   %s\n", status.DatabaseVersion)
			}
			if status.Manifest != nil {
				cmd.Printf("manifest (%s):\n", status.Manifest.Version)
				for _, entry := range status.Manifest.Entries {
					cmd.Printf("  %-30s %s\n", entry.ID, entry.State)
				}
			}
			cmd.Printf("operations: %v\n", status.AllowedOps)
			return nil
		},
	}
}

// NewMigrateRepoCommand returns the `hop migrate-repo` command.
func NewMigrateRepoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate-repo",
		Short: "Upgrade the repository layout to the current hop version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			applied, err := o.MigrateRepo(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				cmd.Println("Repository layout is up to date")
				return nil
			}
			for _, a := range applied {
				cmd.Printf("%s: %s\n", a.Migration.Target, a.Outcome)
			}
			return nil
		},
	}
}
