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

	"github.com/half-orm/half-orm-dev/internal/db"
	"github.com/half-orm/half-orm-dev/internal/git"
	"github.com/half-orm/half-orm-dev/internal/lifecycle"
	"github.com/half-orm/half-orm-dev/internal/lockservice"
	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/repo"
)

// Feature: CORE_EXIT_CODES

// CLI exit code classes.
const (
	ExitOK           = 0
	ExitPrecondition = 1 // dirty worktree, wrong branch, invalid id
	ExitCoordination = 2 // lock busy, reservation taken, push rejected
	ExitValidation   = 3 // apply error, idempotency violation, test failure
	ExitEnvironment  = 4 // DB unreachable, permission denied
	ExitInternal     = 5 // internal or assertion error
)

// ExitCode translates any error of the component stack into the CLI exit
// code contract. This is the single translation point; components only
// return typed errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	// Precondition and invariant failures.
	var precond *lifecycle.PreconditionError
	var sequential *lifecycle.SequentialityError
	var activeRC *lifecycle.ActiveRCError
	if errors.As(err, &precond) || errors.As(err, &sequential) || errors.As(err, &activeRC) ||
		errors.Is(err, repo.ErrOutsideRepo) ||
		errors.Is(err, repo.ErrWorkingCopyBusy) ||
		errors.Is(err, manifest.ErrNotFound) ||
		errors.Is(err, manifest.ErrExists) ||
		errors.Is(err, manifest.ErrDuplicatePatch) ||
		errors.Is(err, manifest.ErrUnknownPatch) ||
		errors.Is(err, manifest.ErrAlreadyStaged) {
		return ExitPrecondition
	}

	// Remote coordination failures.
	if errors.Is(err, lockservice.ErrBusy) || errors.Is(err, lockservice.ErrReservedElsewhere) {
		return ExitCoordination
	}

	// Validation failures.
	var apply *lifecycle.ApplyError
	var idem *lifecycle.IdempotencyError
	var tests *lifecycle.TestsFailedError
	if errors.As(err, &apply) || errors.As(err, &idem) || errors.As(err, &tests) {
		return ExitValidation
	}

	if kind, ok := db.KindOf(err); ok {
		switch kind {
		case db.ErrUnreachable, db.ErrAuthFailed, db.ErrPermissionDenied:
			return ExitEnvironment
		case db.ErrSQL:
			return ExitValidation
		}
		return ExitInternal
	}

	if kind, ok := git.KindOf(err); ok {
		switch kind {
		case git.ErrPushRejected, git.ErrRemoteUnavailable:
			return ExitCoordination
		case git.ErrDirtyWorktree, git.ErrNotOnBranch, git.ErrBranchExists,
			git.ErrBranchMissing, git.ErrTagExists, git.ErrTagMissing:
			return ExitPrecondition
		case git.ErrMergeConflict:
			return ExitValidation
		}
		return ExitInternal
	}

	return ExitInternal
}
