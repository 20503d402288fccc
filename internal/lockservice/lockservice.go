// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package lockservice implements distributed coordination over Git tags.
//
// Two primitives share the same atomic foundation, the remote tag push:
// permanent patch-id reservations (patch-id/<id>, first push wins) and
// scoped mutual-exclusion locks (lock-<scope>-<unix-ms>) with a staleness
// horizon so a crashed holder cannot block the workflow forever.
package lockservice

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/half-orm/half-orm-dev/internal/git"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/pkg/logging"
)

// Feature: CORE_LOCK_SERVICE

// StaleAfter is the lock staleness horizon. Any lock tag older than this
// may be swept by any caller before acquiring.
const StaleAfter = 30 * time.Minute

var (
	// ErrReservedElsewhere is returned when a patch id is already reserved.
	ErrReservedElsewhere = errors.New("patch id already reserved")
	// ErrBusy is returned when a non-stale lock holds the scope.
	ErrBusy = errors.New("scope is locked")
)

// ReservationTag formats the reservation tag for a patch id.
func ReservationTag(id naming.PatchID) string {
	return "patch-id/" + string(id)
}

// lockPrefix formats the tag prefix for a scope.
func lockPrefix(scope string) string {
	return "lock-" + scope + "-"
}

// lockTag formats a lock tag with its embedded timestamp.
func lockTag(scope string, at time.Time) string {
	return fmt.Sprintf("%s%d", lockPrefix(scope), at.UnixMilli())
}

// parseLockTimestamp extracts the unix-ms timestamp from a lock tag.
func parseLockTimestamp(tag, scope string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(tag, lockPrefix(scope))
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Service coordinates through the git driver.
type Service struct {
	git *git.Driver
	log logging.Logger
	now func() time.Time
}

// NewService creates a lock service.
func NewService(driver *git.Driver, log logging.Logger) *Service {
	return &Service{git: driver, log: log, now: time.Now}
}

// NewServiceWithClock allows injecting the clock for tests.
func NewServiceWithClock(driver *git.Driver, log logging.Logger, now func() time.Time) *Service {
	return &Service{git: driver, log: log, now: now}
}

// ReservePatch reserves a patch id globally by pushing patch-id/<id> on
// the commit that materializes the patch directory. The first push wins;
// a rejection means a concurrent caller owns the id.
//
// A successful reservation is the point of no return of create-patch.
func (s *Service) ReservePatch(ctx context.Context, id naming.PatchID, ref string) error {
	if err := s.git.Fetch(ctx); err != nil {
		return err
	}

	tag := ReservationTag(id)
	exists, err := s.git.TagExists(ctx, tag)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrReservedElsewhere, id)
	}

	if err := s.git.CreateTag(ctx, tag, ref, ""); err != nil {
		return err
	}

	status, err := s.git.PushTag(ctx, tag)
	if err != nil {
		_ = s.git.DeleteTag(ctx, tag, false)
		return err
	}
	if status == git.PushRejected {
		// Concurrent winner; leave no local trace.
		_ = s.git.DeleteTag(ctx, tag, false)
		return fmt.Errorf("%w: %s", ErrReservedElsewhere, id)
	}
	return nil
}

// Handle is an acquired scope lock. Release is safe to call more than once
// and is expected in a defer on every exit path.
type Handle struct {
	svc   *Service
	Tag   string
	Scope string
	done  bool
}

// Release deletes the lock tag locally and remotely. A failed remote
// delete is logged, never fatal: the staleness horizon reclaims it.
func (h *Handle) Release(ctx context.Context) {
	if h == nil || h.done {
		return
	}
	h.done = true
	if err := h.svc.git.DeleteTag(ctx, h.Tag, true); err != nil {
		h.svc.log.Warn("failed to release lock tag; it will expire",
			logging.NewField("tag", h.Tag),
			logging.NewField("error", err))
	}
}

// LockInfo describes a conflicting lock for error messages.
type LockInfo struct {
	Tag string
	Age time.Duration
}

// BusyError wraps ErrBusy with the conflicting lock.
type BusyError struct {
	Scope string
	Lock  LockInfo
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("scope %s is locked by %s (age %s)", e.Scope, e.Lock.Tag, e.Lock.Age.Round(time.Second))
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// Acquire takes the mutual-exclusion lock for a scope. Stale locks are
// swept best-effort first; a surviving lock or a lost push race returns
// ErrBusy.
func (s *Service) Acquire(ctx context.Context, scope string) (*Handle, error) {
	if err := s.git.Fetch(ctx); err != nil {
		return nil, err
	}

	tags, err := s.git.ListTags(ctx, lockPrefix(scope)+"*")
	if err != nil {
		return nil, err
	}

	now := s.now()
	for _, tag := range tags {
		at, ok := parseLockTimestamp(tag, scope)
		if !ok {
			continue
		}
		age := now.Sub(at)
		if age > StaleAfter {
			s.log.Warn("sweeping stale lock",
				logging.NewField("tag", tag),
				logging.NewField("age", age.Round(time.Second)))
			_ = s.git.DeleteTag(ctx, tag, true)
			continue
		}
		return nil, &BusyError{Scope: scope, Lock: LockInfo{Tag: tag, Age: age}}
	}

	tag := lockTag(scope, now)
	if err := s.git.CreateTag(ctx, tag, "HEAD", ""); err != nil {
		return nil, err
	}
	status, err := s.git.PushTag(ctx, tag)
	if err != nil {
		_ = s.git.DeleteTag(ctx, tag, false)
		return nil, err
	}
	if status == git.PushRejected {
		_ = s.git.DeleteTag(ctx, tag, false)
		return nil, &BusyError{Scope: scope, Lock: LockInfo{Tag: tag}}
	}

	return &Handle{svc: s, Tag: tag, Scope: scope}, nil
}
