// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package commands implements the hop subcommands. Each command is a thin
// wrapper: it resolves flags, opens the orchestrator and reports the
// result; the workflow itself lives in the orchestrator and lifecycles.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/half-orm/half-orm-dev/internal/orchestrator"
)

// Flags are the resolved global flags.
type Flags struct {
	DatabaseURL string
	Generator   string
	Verbose     bool
}

// ResolveFlags reads the global flags, falling back to the environment for
// the connection string. Credential collection beyond that belongs to the
// operator's tooling.
func ResolveFlags(cmd *cobra.Command) (Flags, error) {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return Flags{}, fmt.Errorf("resolving verbose flag: %w", err)
	}
	dbURL, err := cmd.Flags().GetString("database-url")
	if err != nil {
		return Flags{}, fmt.Errorf("resolving database-url flag: %w", err)
	}
	if dbURL == "" {
		dbURL = os.Getenv("HOP_DATABASE_URL")
	}
	gen, err := cmd.Flags().GetString("generator")
	if err != nil {
		return Flags{}, fmt.Errorf("resolving generator flag: %w", err)
	}
	return Flags{DatabaseURL: dbURL, Generator: gen, Verbose: verbose}, nil
}

// openOrchestrator opens the orchestrator over the current directory.
func openOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, error) {
	flags, err := ResolveFlags(cmd)
	if err != nil {
		return nil, err
	}
	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	return orchestrator.New(orchestrator.Options{
		Dir:         dir,
		DSN:         flags.DatabaseURL,
		GeneratorID: flags.Generator,
		Verbose:     flags.Verbose,
	})
}
