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

// NewCreatePatchCommand returns the `hop create-patch` command.
func NewCreatePatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-patch <id>",
		Short: "Reserve a patch id and create its branch and directory",
		Long:  "Reserves <id> globally via the patch-id tag, creates ho-patch/<id> and Patches/<id>/, and registers the patch as a candidate in the release manifest.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.CreatePatch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			cmd.Printf("Patch %s created on %s (reserved by %s)\n", result.ID, result.Branch, result.Tag)
			for _, warning := range result.Warnings {
				cmd.Printf("warning: %s\n", warning)
			}
			return nil
		},
	}
}

// NewApplyCommand returns the `hop apply` command.
func NewApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Replay the current patch against a pristine schema",
		Long:  "Resets the database to model/schema.sql, applies the staged patches of the release plus the current patch in order, and regenerates code from the introspected schema.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			if err := o.ApplyPatch(cmd.Context()); err != nil {
				return err
			}
			cmd.Println("Patch applied")
			return nil
		},
	}
}

// NewMergeCommand returns the `hop merge` command.
func NewMergeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "merge",
		Short: "Validate and integrate the current patch into its release",
		Long:  "Runs the validation branch protocol: merge onto ho-validate/<id>, stage the manifest entry, prove idempotency by replay, run the test suite, then fast-forward the release branch.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := openOrchestrator(cmd)
			if err != nil {
				return err
			}
			defer o.Close()

			result, err := o.MergePatch(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("Patch %s staged in release %s\n", result.ID, result.Release)
			for _, branch := range result.BranchesDeleted {
				cmd.Printf("  deleted %s\n", branch)
			}
			for _, warning := range result.Warnings {
				cmd.Printf("warning: %s\n", warning)
			}
			return nil
		},
	}
}
