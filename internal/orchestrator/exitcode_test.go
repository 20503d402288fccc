// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/half-orm/half-orm-dev/internal/db"
	"github.com/half-orm/half-orm-dev/internal/git"
	"github.com/half-orm/half-orm-dev/internal/lifecycle"
	"github.com/half-orm/half-orm-dev/internal/lockservice"
	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/internal/repo"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	v1 := naming.Version{Major: 1, Minor: 0, Patch: 0}
	v2 := naming.Version{Major: 0, Minor: 3, Patch: 0}

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"precondition", &lifecycle.PreconditionError{Message: "wrong branch"}, ExitPrecondition},
		{"outside repo", repo.ErrOutsideRepo, ExitPrecondition},
		{"working copy busy", repo.ErrWorkingCopyBusy, ExitPrecondition},
		{"duplicate patch", fmt.Errorf("add: %w", manifest.ErrDuplicatePatch), ExitPrecondition},
		{"sequentiality", &lifecycle.SequentialityError{Attempted: v1, MustFirst: v2}, ExitPrecondition},
		{"active rc", &lifecycle.ActiveRCError{Active: v2, Attempted: v1}, ExitPrecondition},
		{"lock busy", &lockservice.BusyError{Scope: "ho-prod"}, ExitCoordination},
		{"reservation", fmt.Errorf("create: %w", lockservice.ErrReservedElsewhere), ExitCoordination},
		{"push rejected", &git.Error{Kind: git.ErrPushRejected}, ExitCoordination},
		{"remote down", &git.Error{Kind: git.ErrRemoteUnavailable}, ExitCoordination},
		{"apply failed", &lifecycle.ApplyError{Patch: "42-login", File: "01.sql", Cause: errors.New("boom")}, ExitValidation},
		{"idempotency", &lifecycle.IdempotencyError{Patch: "42-login", Paths: []string{"a.sql"}}, ExitValidation},
		{"tests failed", &lifecycle.TestsFailedError{ExitCode: 1}, ExitValidation},
		{"merge conflict", &git.Error{Kind: git.ErrMergeConflict}, ExitValidation},
		{"sql error", &db.Error{Kind: db.ErrSQL}, ExitValidation},
		{"db unreachable", &db.Error{Kind: db.ErrUnreachable}, ExitEnvironment},
		{"auth failed", &db.Error{Kind: db.ErrAuthFailed}, ExitEnvironment},
		{"permission denied", &db.Error{Kind: db.ErrPermissionDenied}, ExitEnvironment},
		{"dirty worktree", &git.Error{Kind: git.ErrDirtyWorktree}, ExitPrecondition},
		{"unknown", errors.New("who knows"), ExitInternal},
		{"git internal", &git.Error{Kind: git.ErrInternal}, ExitInternal},
	}

	for _, tc := range cases {
		if got := ExitCode(tc.err); got != tc.want {
			t.Errorf("%s: ExitCode = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestExitCode_WrappedErrors(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("merge: %w", &lifecycle.IdempotencyError{Patch: "42", Paths: []string{"x"}})
	if got := ExitCode(wrapped); got != ExitValidation {
		t.Errorf("wrapped idempotency: got %d", got)
	}

	deep := fmt.Errorf("op: %w", fmt.Errorf("lock: %w", lockservice.ErrBusy))
	if got := ExitCode(deep); got != ExitCoordination {
		t.Errorf("deeply wrapped busy: got %d", got)
	}
}
