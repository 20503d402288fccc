// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package generator defines the interface for code generators invoked
// after successful SQL application.
package generator

import (
	"context"

	"github.com/half-orm/half-orm-dev/pkg/model"
)

// Feature: GENERATOR_INTERFACE

// Request is the input of a generation run.
type Request struct {
	// Model is the freshly introspected schema.
	Model model.SchemaModel

	// OutputDir is the directory generated sources are written to.
	OutputDir string
}

// Result reports what a generation run produced.
type Result struct {
	// Files lists the paths written, relative to the repository root.
	// The apply rollback reverts exactly these.
	Files []string
}

// Generator emits target-language sources from an introspected schema.
type Generator interface {
	// ID returns the stable generator identifier (e.g. "none", "python").
	ID() string

	// Generate runs the generator.
	Generate(ctx context.Context, req Request) (Result, error)
}
