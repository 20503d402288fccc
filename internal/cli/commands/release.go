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

// NewNewReleaseCommand returns the `hop new-release` command.
func NewNewReleaseCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "new-release {patch|minor|major}",
		Short:     "Open the next release branch",
		Long:      "Creates ho-release/<next> from ho-prod with an empty patch manifest.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"patch", "minor", "major"},
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.NewRelease(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Release %s opened on %s\n", result.Version, result.Branch)
			return nil
		},
	}
}

// NewPromoteRCCommand returns the `hop promote-rc` command.
func NewPromoteRCCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote-rc",
		Short: "Promote the next eligible release to a release candidate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.PromoteRC(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Release %s promoted to %s (%s, tag %s)\n",
				result.Version, result.Phase, result.Snapshot, result.Tag)
			for _, branch := range result.BranchesDeleted {
				cmd.Printf("  deleted %s\n", branch)
			}
			if result.Notifications > 0 {
				cmd.Printf("  notified %d candidate branch(es)\n", result.Notifications)
			}
			return nil
		},
	}
}

// NewPromoteProdCommand returns the `hop promote-prod` command.
func NewPromoteProdCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote-prod",
		Short: "Promote the active release candidate to production",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.PromoteProd(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Release %s promoted to production (%s, tag %s)\n",
				result.Version, result.Snapshot, result.Tag)
			return nil
		},
	}
}

// NewHotfixCommand returns the `hop hotfix` command.
func NewHotfixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hotfix <version>",
		Short: "Reopen a production release for hotfix work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.HotfixOpen(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Hotfix line for %s opened on %s\n", result.Version, result.Branch)
			return nil
		},
	}
}

// NewPromoteHotfixCommand returns the `hop promote-hotfix` command.
func NewPromoteHotfixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "promote-hotfix",
		Short: "Promote the staged hotfix patches of the current release branch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.PromoteHotfix(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Release %s promoted to %s (%s, tag %s)\n",
				result.Version, result.Phase, result.Snapshot, result.Tag)
			return nil
		},
	}
}
