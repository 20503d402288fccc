// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package cli wires together the hop root Cobra command and global options.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/half-orm/half-orm-dev/internal/cli/commands"
	"github.com/half-orm/half-orm-dev/internal/repo"
)

// NewRootCommand constructs the hop root Cobra command.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "hop",
		Short:         "hop – PostgreSQL schema patch and release workflow",
		Long:          "hop manages SQL schema changes against a PostgreSQL database using a Git repository as the coordination substrate.",
		SilenceUsage:  true, // don't dump usage on user errors
		SilenceErrors: true, // centralize error printing in main()
	}

	// Global flags - registered in lexicographic order for deterministic
	// help output.
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (defaults to $HOP_DATABASE_URL)")
	cmd.PersistentFlags().String("generator", "", "code generator to run after applies (default: none)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number of hop",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("hop version %s\n", repo.ToolVersion)
		},
	})

	// Subcommands - registrations kept in lexicographic order by .Use.
	cmd.AddCommand(commands.NewApplyCommand())
	cmd.AddCommand(commands.NewCreatePatchCommand())
	cmd.AddCommand(commands.NewDeployCommand())
	cmd.AddCommand(commands.NewHotfixCommand())
	cmd.AddCommand(commands.NewMergeCommand())
	cmd.AddCommand(commands.NewMigrateRepoCommand())
	cmd.AddCommand(commands.NewNewReleaseCommand())
	cmd.AddCommand(commands.NewPromoteHotfixCommand())
	cmd.AddCommand(commands.NewPromoteProdCommand())
	cmd.AddCommand(commands.NewPromoteRCCommand())
	cmd.AddCommand(commands.NewStatusCommand())

	return cmd
}
