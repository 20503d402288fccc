// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package deploy applies released snapshots to a target database: the
// ordered chain of production releases above the database's current
// version, each followed by its hotfixes, with a backup before every step.
package deploy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/half-orm/half-orm-dev/internal/db"
	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/internal/patches"
	"github.com/half-orm/half-orm-dev/internal/repo"
	"github.com/half-orm/half-orm-dev/pkg/logging"
	"github.com/half-orm/half-orm-dev/pkg/providers/backup"
)

// Feature: CORE_DEPLOYER

// Deployer applies releases to an attached database.
type Deployer struct {
	Repo      *repo.Repo
	DB        *db.Driver
	Manifests *manifest.Store
	Patches   *patches.Store
	Backups   backup.Store
	Log       logging.Logger
}

// Step is one snapshot application within a deployment.
type Step struct {
	File    naming.ReleaseFile
	Patches []naming.PatchID
	Backup  string
}

// Result reports what Deploy did.
type Result struct {
	From  string
	To    naming.Version
	Steps []Step
	// Fresh is true when the fast path loaded the model dumps directly.
	Fresh bool
}

// plan computes the ordered snapshot chain from current (exclusive) to
// target (inclusive): production snapshots in semver order, each followed
// by its hotfix snapshots in number order.
func (d *Deployer) plan(current naming.Version, haveCurrent bool, currentHotfix int, target naming.Version) ([]naming.ReleaseFile, error) {
	files, err := d.Manifests.ListReleaseFiles()
	if err != nil {
		return nil, err
	}

	hotfixes := map[naming.Version][]naming.ReleaseFile{}
	var productions []naming.ReleaseFile
	for _, rf := range files {
		switch rf.Phase.Kind {
		case naming.PhaseProduction:
			productions = append(productions, rf)
		case naming.PhaseHotfix:
			hotfixes[rf.Version] = append(hotfixes[rf.Version], rf)
		}
	}

	var chain []naming.ReleaseFile
	appendHotfixes := func(v naming.Version, aboveN int) {
		for _, hf := range hotfixes[v] {
			if hf.Phase.N > aboveN {
				chain = append(chain, hf)
			}
		}
	}

	// Hotfixes of the version already deployed come first.
	if haveCurrent {
		appendHotfixes(current, currentHotfix)
	}
	for _, rf := range productions {
		if haveCurrent && rf.Version.Compare(current) <= 0 {
			continue
		}
		if rf.Version.Compare(target) > 0 {
			continue
		}
		chain = append(chain, rf)
		appendHotfixes(rf.Version, 0)
	}
	return chain, nil
}

// Deploy brings the attached database to the target version. Any error
// aborts the whole operation; the most recent backup is named in the
// failure so the operator can restore.
func (d *Deployer) Deploy(ctx context.Context, target naming.Version) (*Result, error) {
	prodFile := naming.ReleaseFile{Version: target, Phase: naming.Phase{Kind: naming.PhaseProduction}}
	if _, err := d.Manifests.ReadSnapshot(prodFile); err != nil {
		return nil, fmt.Errorf("target %s has no production snapshot: %w", target, err)
	}

	current, phase, haveCurrent, err := d.DB.ReadCurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	currentHotfix := parseHotfixPhase(phase)

	result := &Result{To: target}
	if haveCurrent {
		result.From = current.String()
	} else {
		result.From = "fresh"
	}

	// Fresh target: load the versioned dumps directly.
	if !haveCurrent {
		if err := d.deployFresh(ctx, target); err != nil {
			return nil, err
		}
		result.Fresh = true
		return result, nil
	}

	if target.Compare(current) < 0 {
		return nil, fmt.Errorf("database is at %s, beyond target %s; rollback past a backup is not supported", current, target)
	}

	chain, err := d.plan(current, haveCurrent, currentHotfix, target)
	if err != nil {
		return nil, err
	}

	for _, rf := range chain {
		step, err := d.applySnapshot(ctx, rf, current)
		if err != nil {
			if step != nil && step.Backup != "" {
				return result, fmt.Errorf("deploy of %s failed (backup retained at %s): %w", rf.FileName(), step.Backup, err)
			}
			return result, err
		}
		result.Steps = append(result.Steps, *step)
		if rf.Phase.Kind == naming.PhaseProduction {
			current = rf.Version
		}
	}
	return result, nil
}

// applySnapshot backs the database up, applies every patch of one snapshot
// in order and records the tracking row.
func (d *Deployer) applySnapshot(ctx context.Context, rf naming.ReleaseFile, current naming.Version) (*Step, error) {
	ids, err := d.Manifests.ReadSnapshot(rf)
	if err != nil {
		return nil, err
	}

	step := &Step{File: rf, Patches: ids}

	snap, err := d.Backups.Dump(ctx, backup.Request{
		Database: databaseLabel(d.DB.DSN()),
		Version:  current.String(),
	})
	if err != nil {
		return step, fmt.Errorf("pre-deployment backup: %w", err)
	}
	step.Backup = snap.Path

	for _, id := range ids {
		files, err := d.Patches.ExecutableFiles(id)
		if err != nil {
			return step, err
		}
		for _, file := range files {
			switch strings.ToLower(filepath.Ext(file)) {
			case ".sql":
				if err := d.DB.ApplySQLFile(ctx, file); err != nil {
					return step, err
				}
			case ".py":
				sctx := db.ScriptContext{Version: rf.Version.String()}
				if err := d.DB.ApplyScriptFile(ctx, file, sctx); err != nil {
					return step, err
				}
			}
		}
	}

	if err := d.DB.WriteReleaseRow(ctx, rf.Version, rf.Phase); err != nil {
		return step, err
	}

	d.Log.Info("snapshot applied",
		logging.NewField("release", rf.FileName()),
		logging.NewField("patches", len(ids)))
	return step, nil
}

// deployFresh loads schema, metadata and optional seed dumps directly.
func (d *Deployer) deployFresh(ctx context.Context, target naming.Version) error {
	modelDir := d.Repo.ModelDir()

	schemaPath := filepath.Join(modelDir, db.SchemaDumpName(target, 0))
	if err := d.DB.LoadFile(ctx, schemaPath); err != nil {
		return err
	}
	metadataPath := filepath.Join(modelDir, db.MetadataDumpName(target, 0))
	if err := d.DB.LoadFile(ctx, metadataPath); err != nil {
		return err
	}
	// The seed dump is optional.
	seedPath := filepath.Join(modelDir, db.SeedDumpName(target, 0))
	if _, err := os.Stat(seedPath); err == nil {
		if err := d.DB.LoadFile(ctx, seedPath); err != nil {
			return err
		}
	}

	return d.DB.WriteReleaseRow(ctx, target, naming.Phase{Kind: naming.PhaseProduction})
}

// databaseLabel extracts a short database label from a connection string
// for backup file names.
func databaseLabel(dsn string) string {
	trimmed := dsn
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	if trimmed == "" {
		return "db"
	}
	return trimmed
}

// parseHotfixPhase extracts N from a "hotfixN" tracking phase; other
// phases are 0.
func parseHotfixPhase(phase string) int {
	rest, ok := strings.CutPrefix(phase, "hotfix")
	if !ok {
		return 0
	}
	n := 0
	for _, c := range rest {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
