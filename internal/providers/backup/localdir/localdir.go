// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package localdir implements the backup store over a local directory.
// Snapshots are pg_dump custom-format archives under .hop/backups, which
// stays out of version control.
package localdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/providers/backup"
)

// Store writes pg_dump archives into a directory.
type Store struct {
	dir    string
	dsn    string
	runner executil.Runner
	now    func() time.Time
}

// Ensure Store implements backup.Store.
var _ backup.Store = (*Store)(nil)

// New creates a Store writing under dir for the database at dsn.
func New(dir, dsn string) *Store {
	return NewWithRunner(dir, dsn, executil.NewRunner())
}

// NewWithRunner allows injecting a runner for tests.
func NewWithRunner(dir, dsn string, runner executil.Runner) *Store {
	return &Store{dir: dir, dsn: dsn, runner: runner, now: time.Now}
}

// ID returns the store identifier.
func (s *Store) ID() string {
	return "localdir"
}

// Dump takes a custom-format pg_dump snapshot.
func (s *Store) Dump(ctx context.Context, req backup.Request) (backup.Snapshot, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return backup.Snapshot{}, fmt.Errorf("creating backup directory: %w", err)
	}

	at := s.now().UTC()
	name := fmt.Sprintf("%s-%s-%s.dump", req.Database, req.Version, at.Format("20060102T150405Z"))
	path := filepath.Join(s.dir, name)

	cmd := executil.NewCommand("pg_dump",
		"--dbname", s.dsn,
		"--format", "custom",
		"--file", path,
	)
	result, err := s.runner.Run(ctx, cmd)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(string(result.Stderr))
		}
		return backup.Snapshot{}, fmt.Errorf("pg_dump backup failed: %s: %w", stderr, err)
	}

	return backup.Snapshot{Path: path, CreatedAt: at}, nil
}

// List returns the snapshots in the directory, oldest first.
func (s *Store) List(ctx context.Context) ([]backup.Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}

	var snapshots []backup.Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".dump") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, backup.Snapshot{
			Path:      filepath.Join(s.dir, entry.Name()),
			CreatedAt: info.ModTime(),
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}
