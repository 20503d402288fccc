// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package main

import (
	"fmt"
	"os"

	"github.com/half-orm/half-orm-dev/internal/cli"
	"github.com/half-orm/half-orm-dev/internal/orchestrator"
)

func main() {
	rootCmd := cli.NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		// Error printing and exit codes are centralized here; components
		// only return typed errors.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(orchestrator.ExitCode(err))
	}
}
