// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package none provides the no-op code generator for repositories that
// track schema only.
package none

import (
	"context"

	"github.com/half-orm/half-orm-dev/pkg/providers/generator"
)

// Generator is the no-op generator.
type Generator struct{}

// Ensure Generator implements generator.Generator.
var _ generator.Generator = (*Generator)(nil)

// ID returns the generator identifier.
func (g *Generator) ID() string {
	return "none"
}

// Generate does nothing.
func (g *Generator) Generate(ctx context.Context, req generator.Request) (generator.Result, error) {
	return generator.Result{}, nil
}

func init() {
	generator.Register(&Generator{})
}
