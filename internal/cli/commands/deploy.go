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

// NewDeployCommand returns the `hop deploy` command.
func NewDeployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy <version>",
		Short: "Bring the attached database to a released version",
		Long:  "Applies the chain of production and hotfix snapshots between the database's current version and <version>, taking a backup before each snapshot.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.Deploy(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result.Fresh {
				cmd.Printf("Fresh database loaded at %s\n", result.To)
				return nil
			}
			cmd.Printf("Deployed %s -> %s (%d snapshot(s))\n", result.From, result.To, len(result.Steps))
			for _, step := range result.Steps {
				cmd.Printf("  %s (%d patch(es), backup %s)\n", step.File.FileName(), len(step.Patches), step.Backup)
			}
			return nil
		},
	}
}
