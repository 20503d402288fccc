// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package lifecycle

import (
	"fmt"
	"strings"

	"github.com/half-orm/half-orm-dev/internal/naming"
)

// PreconditionError reports a failed operation precondition: wrong branch,
// dirty worktree, missing directory, malformed id, unknown version. The
// remediation hint tells the user how to get unstuck.
type PreconditionError struct {
	Message     string
	Remediation string
}

func (e *PreconditionError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Remediation)
	}
	return e.Message
}

func precondition(format string, args ...any) *PreconditionError {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// ApplyError reports a patch file that failed to apply.
type ApplyError struct {
	Patch naming.PatchID
	File  string
	Cause error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("applying patch %s failed at %s: %v", e.Patch, e.File, e.Cause)
}

func (e *ApplyError) Unwrap() error { return e.Cause }

// IdempotencyError reports a patch whose replay left the working tree
// changed: the patch is not idempotent with the declared state.
type IdempotencyError struct {
	Patch naming.PatchID
	Paths []string
}

func (e *IdempotencyError) Error() string {
	return fmt.Sprintf("patch %s is not idempotent with the declared state; changed after reapply: %s",
		e.Patch, strings.Join(e.Paths, ", "))
}

// TestsFailedError reports a failing test suite during merge validation.
type TestsFailedError struct {
	ExitCode int
	Tail     string
}

func (e *TestsFailedError) Error() string {
	return fmt.Sprintf("test suite failed with exit code %d:\n%s", e.ExitCode, e.Tail)
}

// SequentialityError reports a promotion attempted out of order.
type SequentialityError struct {
	Attempted naming.Version
	MustFirst naming.Version
}

func (e *SequentialityError) Error() string {
	return fmt.Sprintf("cannot promote %s: %s must be promoted to production first", e.Attempted, e.MustFirst)
}

// ActiveRCError reports a second version attempting promotion while an RC
// is active.
type ActiveRCError struct {
	Active    naming.Version
	Attempted naming.Version
}

func (e *ActiveRCError) Error() string {
	return fmt.Sprintf("release %s has an active release candidate; promote it to production before promoting %s",
		e.Active, e.Attempted)
}
