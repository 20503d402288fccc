// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package lockservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/half-orm/half-orm-dev/internal/git"
	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/logging"
)

// scriptedRunner returns scripted results per command line; unknown
// commands succeed with empty output. Tags created through `git tag <name>
// <ref>` are listed by `git tag --list <name>` until `git tag -d` removes
// them.
type scriptedRunner struct {
	results map[string]scriptedResult
	calls   []string
	created map[string]bool
}

type scriptedResult struct {
	stdout string
	stderr string
	exit   int
}

func (f *scriptedRunner) Run(ctx context.Context, cmd executil.Command) (*executil.Result, error) {
	key := cmd.Name + " " + strings.Join(cmd.Args, " ")
	f.calls = append(f.calls, key)
	res := f.results[key]
	if len(cmd.Args) == 3 && cmd.Args[0] == "tag" {
		switch cmd.Args[1] {
		case "--list":
			if f.created[cmd.Args[2]] {
				res = scriptedResult{stdout: cmd.Args[2]}
			}
		case "-d":
			delete(f.created, cmd.Args[2])
		default:
			if f.created == nil {
				f.created = map[string]bool{}
			}
			f.created[cmd.Args[1]] = true
		}
	}
	result := &executil.Result{
		ExitCode: res.exit,
		Stdout:   []byte(res.stdout),
		Stderr:   []byte(res.stderr),
	}
	if res.exit != 0 {
		return result, fmt.Errorf("command failed with exit code %d", res.exit)
	}
	return result, nil
}

func (f *scriptedRunner) RunStream(ctx context.Context, cmd executil.Command, output io.Writer) error {
	res, err := f.Run(ctx, cmd)
	if res != nil {
		_, _ = output.Write(res.Stdout)
	}
	return err
}

func (f *scriptedRunner) called(key string) bool {
	for _, c := range f.calls {
		if c == key {
			return true
		}
	}
	return false
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newService(runner *scriptedRunner, at time.Time) *Service {
	driver := git.NewDriverWithRunner("/repo", runner)
	return NewServiceWithClock(driver, logging.NewLogger(false), fixedClock(at))
}

func TestReservationTag(t *testing.T) {
	t.Parallel()

	if got := ReservationTag("42-login"); got != "patch-id/42-login" {
		t.Errorf("ReservationTag = %q", got)
	}
}

func TestParseLockTimestamp(t *testing.T) {
	t.Parallel()

	at, ok := parseLockTimestamp("lock-ho-prod-1700000000000", "ho-prod")
	if !ok {
		t.Fatal("expected parse")
	}
	if at.UnixMilli() != 1700000000000 {
		t.Errorf("timestamp = %d", at.UnixMilli())
	}

	if _, ok := parseLockTimestamp("lock-ho-prod-xyz", "ho-prod"); ok {
		t.Error("expected failure for garbage timestamp")
	}
	if _, ok := parseLockTimestamp("lock-other-1700000000000", "ho-prod"); ok {
		t.Error("expected failure for other scope")
	}
}

func TestReservePatch_Success(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list patch-id/42-login": {stdout: ""},
	}}
	s := newService(runner, time.UnixMilli(1700000000000))

	if err := s.ReservePatch(context.Background(), "42-login", "HEAD"); err != nil {
		t.Fatalf("ReservePatch failed: %v", err)
	}

	if !runner.called("git push origin refs/tags/patch-id/42-login") {
		t.Error("expected tag push")
	}
}

func TestReservePatch_AlreadyReserved(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list patch-id/42-login": {stdout: "patch-id/42-login"},
	}}
	s := newService(runner, time.UnixMilli(1700000000000))

	err := s.ReservePatch(context.Background(), "42-login", "HEAD")
	if !errors.Is(err, ErrReservedElsewhere) {
		t.Fatalf("expected ErrReservedElsewhere, got %v", err)
	}
	if runner.called("git push origin refs/tags/patch-id/42-login") {
		t.Error("must not push when already reserved")
	}
}

func TestReservePatch_ConcurrentLoserRollsBack(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list patch-id/42-login": {stdout: ""},
		"git push origin refs/tags/patch-id/42-login": {
			stderr: "! [rejected] patch-id/42-login (already exists)\nerror: failed to push some refs",
			exit:   1,
		},
	}}
	s := newService(runner, time.UnixMilli(1700000000000))

	err := s.ReservePatch(context.Background(), "42-login", "HEAD")
	if !errors.Is(err, ErrReservedElsewhere) {
		t.Fatalf("expected ErrReservedElsewhere, got %v", err)
	}
	if !runner.called("git tag -d patch-id/42-login") {
		t.Error("expected local tag rollback after lost race")
	}
}

func TestAcquire_Success(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list lock-ho-prod-*": {stdout: ""},
	}}
	s := newService(runner, now)

	handle, err := s.Acquire(context.Background(), "ho-prod")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	wantTag := "lock-ho-prod-1700000000000"
	if handle.Tag != wantTag {
		t.Errorf("handle tag = %q, want %q", handle.Tag, wantTag)
	}
	if !runner.called("git push origin refs/tags/" + wantTag) {
		t.Error("expected lock tag push")
	}

	handle.Release(context.Background())
	if !runner.called("git tag -d "+wantTag) && !runner.called("git push origin --delete refs/tags/"+wantTag) {
		t.Error("expected release to delete the tag")
	}
}

func TestAcquire_BusyOnLiveLock(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	live := now.Add(-5 * time.Minute)
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list lock-ho-prod-*": {stdout: fmt.Sprintf("lock-ho-prod-%d", live.UnixMilli())},
	}}
	s := newService(runner, now)

	_, err := s.Acquire(context.Background(), "ho-prod")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}

	var busy *BusyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected BusyError, got %T", err)
	}
	if busy.Lock.Age.Round(time.Minute) != 5*time.Minute {
		t.Errorf("lock age = %v", busy.Lock.Age)
	}
}

func TestAcquire_SweepsStaleLock(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	stale := now.Add(-45 * time.Minute)
	staleTag := fmt.Sprintf("lock-ho-prod-%d", stale.UnixMilli())
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list lock-ho-prod-*": {stdout: staleTag},
		"git tag --list " + staleTag:    {stdout: staleTag},
	}}
	s := newService(runner, now)

	handle, err := s.Acquire(context.Background(), "ho-prod")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if handle == nil {
		t.Fatal("expected handle after sweeping stale lock")
	}
	if !runner.called("git tag -d " + staleTag) {
		t.Error("expected stale lock sweep")
	}
}

func TestAcquire_BusyOnPushRace(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	tag := "lock-ho-prod-1700000000000"
	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list lock-ho-prod-*": {stdout: ""},
		"git push origin refs/tags/" + tag: {
			stderr: "! [rejected] (already exists)\nerror: failed to push some refs",
			exit:   1,
		},
	}}
	s := newService(runner, now)

	_, err := s.Acquire(context.Background(), "ho-prod")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestHandle_ReleaseIdempotent(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{results: map[string]scriptedResult{
		"git tag --list lock-ho-prod-*": {stdout: ""},
	}}
	s := newService(runner, time.UnixMilli(1700000000000))

	handle, err := s.Acquire(context.Background(), "ho-prod")
	if err != nil {
		t.Fatal(err)
	}

	handle.Release(context.Background())
	before := len(runner.calls)
	handle.Release(context.Background())
	if len(runner.calls) != before {
		t.Error("second Release must be a no-op")
	}

	var nilHandle *Handle
	nilHandle.Release(context.Background()) // must not panic
}
