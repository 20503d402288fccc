// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package localdir

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/providers/backup"
)

type recordingRunner struct {
	calls []executil.Command
}

func (r *recordingRunner) Run(ctx context.Context, cmd executil.Command) (*executil.Result, error) {
	r.calls = append(r.calls, cmd)
	return &executil.Result{}, nil
}

func (r *recordingRunner) RunStream(ctx context.Context, cmd executil.Command, output io.Writer) error {
	_, err := r.Run(ctx, cmd)
	return err
}

func TestDump_NamesSnapshotByDatabaseAndVersion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	runner := &recordingRunner{}
	s := NewWithRunner(dir, "postgres://u@localhost/app", runner)
	s.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	snap, err := s.Dump(context.Background(), backup.Request{Database: "app", Version: "1.3.4"})
	if err != nil {
		t.Fatalf("Dump failed: %v", err)
	}

	if !strings.HasSuffix(snap.Path, "app-1.3.4-20250601T120000Z.dump") {
		t.Errorf("snapshot path = %q", snap.Path)
	}

	if len(runner.calls) != 1 || runner.calls[0].Name != "pg_dump" {
		t.Fatalf("expected one pg_dump call, got %v", runner.calls)
	}
	joined := strings.Join(runner.calls[0].Args, " ")
	if !strings.Contains(joined, "--format custom") {
		t.Errorf("expected custom format, got %q", joined)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewWithRunner(dir, "postgres://u@localhost/app", &recordingRunner{})

	// Empty directory lists nothing.
	snaps, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snaps))
	}

	for _, name := range []string{"app-1.0.0-a.dump", "app-1.1.0-b.dump", "notes.txt"} {
		if err := os.WriteFile(dir+"/"+name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	snaps, err = s.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}
