// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package migrate upgrades the on-disk repository layout between hop
// versions. Migrations are ordered by target version, idempotent, and run
// only on repositories whose recorded version is older than the target.
package migrate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/half-orm/half-orm-dev/internal/repo"
	"github.com/half-orm/half-orm-dev/pkg/logging"
)

// Feature: CORE_MIGRATOR

// Outcome reports what a single migration did.
type Outcome string

const (
	// Migrated means the migration changed the repository.
	Migrated Outcome = "migrated"
	// AlreadyApplied means the repository was already in the target shape.
	AlreadyApplied Outcome = "already_applied"
)

// Migration is one layout upgrade.
type Migration struct {
	// Target is the hop version this migration brings the layout to.
	Target string

	// Summary is the one-line description used in the commit message.
	Summary string

	// Run performs the migration. It must be idempotent.
	Run func(r *repo.Repo) (Outcome, error)
}

// CommitMessage formats the migration commit message.
func (m Migration) CommitMessage() string {
	return fmt.Sprintf("[migrate %s] %s", m.Target, m.Summary)
}

// migrations is the ordered upgrade chain.
var migrations = []Migration{
	{
		Target:  "0.17.1",
		Summary: "relocate releases/, model/ and backups/ under .hop/ and ignore backups",
		Run:     relocateUnderHopDir,
	},
}

// Migrator runs pending layout migrations.
type Migrator struct {
	log logging.Logger
}

// New creates a Migrator.
func New(log logging.Logger) *Migrator {
	return &Migrator{log: log}
}

// Applied describes one executed migration.
type Applied struct {
	Migration Migration
	Outcome   Outcome
}

// Pending returns the migrations newer than the repository's recorded
// version, in order.
func (m *Migrator) Pending(r *repo.Repo) []Migration {
	recorded := canonical(r.Config().HopVersion)
	var pending []Migration
	for _, mig := range migrations {
		if semver.Compare(recorded, canonical(mig.Target)) < 0 {
			pending = append(pending, mig)
		}
	}
	return pending
}

// Run executes every pending migration and records the new tool version.
func (m *Migrator) Run(r *repo.Repo) ([]Applied, error) {
	var applied []Applied
	for _, mig := range m.Pending(r) {
		outcome, err := mig.Run(r)
		if err != nil {
			return applied, fmt.Errorf("migration %s: %w", mig.Target, err)
		}
		m.log.Info("layout migration",
			logging.NewField("target", mig.Target),
			logging.NewField("outcome", outcome))
		applied = append(applied, Applied{Migration: mig, Outcome: outcome})

		cfg := r.Config()
		cfg.HopVersion = mig.Target
		if err := r.SaveConfig(cfg); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// canonical maps "X.Y.Z" to the "vX.Y.Z" form semver.Compare wants.
func canonical(version string) string {
	if version == "" {
		return "v0.0.0"
	}
	if !strings.HasPrefix(version, "v") {
		version = "v" + version
	}
	if !semver.IsValid(version) {
		return "v0.0.0"
	}
	return version
}

// relocateUnderHopDir moves the legacy top-level releases/, model/ and
// backups/ directories under .hop/ and makes sure backups stay out of
// version control.
func relocateUnderHopDir(r *repo.Repo) (Outcome, error) {
	moved := false
	for _, name := range []string{"releases", "model", "backups"} {
		src := filepath.Join(r.Root(), name)
		dst := filepath.Join(r.Root(), repo.HopDir, name)

		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			continue
		}
		if _, err := os.Stat(dst); err == nil {
			// Both exist: the layout was already migrated and the legacy
			// directory reappeared; leave it for the operator.
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		if err := os.Rename(src, dst); err != nil {
			return "", fmt.Errorf("moving %s under %s: %w", name, repo.HopDir, err)
		}
		moved = true
	}

	changed, err := ensureGitignoreLine(filepath.Join(r.Root(), ".gitignore"), repo.HopDir+"/backups/")
	if err != nil {
		return "", err
	}

	if moved || changed {
		return Migrated, nil
	}
	return AlreadyApplied, nil
}

// ensureGitignoreLine appends a line to .gitignore when missing.
func ensureGitignoreLine(path, line string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return false, err
	}
	for _, existing := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(existing) == line {
			return false, nil
		}
	}
	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, err
	}
	return true, nil
}
