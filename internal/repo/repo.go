// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package repo models a hop working copy: the checked-out Git repository
// plus the .hop/ configuration record and its directory layout.
//
// Note: a working copy is owned by exactly one hop process at a time. The
// flock taken by Open enforces that; concurrent invocations fail fast
// instead of corrupting the working tree.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Feature: CORE_REPO

// ToolVersion is the version of the hop tool itself, printed by `hop version`.
// Layout migrations compare the recorded hop_version with their own
// targets, not with this constant.
const ToolVersion = "0.17.1"

const (
	// HopDir is the metadata directory at the repository root.
	HopDir = ".hop"
	// ConfigFile is the configuration record inside HopDir.
	ConfigFile = "config"
	// lockFile guards the working copy against concurrent hop processes.
	lockFile = "hop.lock"
)

// ErrOutsideRepo is returned when the directory has no .hop/config.
var ErrOutsideRepo = errors.New("not a hop repository (missing .hop/config)")

// ErrWorkingCopyBusy is returned when another hop process holds the
// working-copy lock.
var ErrWorkingCopyBusy = errors.New("working copy is in use by another hop process")

// Config is the .hop/config record.
type Config struct {
	// HopVersion is the tool version that last touched this repository.
	HopVersion string `yaml:"hop_version"`

	// RemoteURL is the Git remote the workflow coordinates through.
	// hop refuses to operate without one.
	RemoteURL string `yaml:"remote_url"`

	// Devel marks a development clone. Sync-only clones (devel: false)
	// may only deploy and report status.
	Devel bool `yaml:"devel"`
}

// Repo is an opened working copy.
type Repo struct {
	root   string
	config Config
	flk    *flock.Flock
}

// Open opens the working copy rooted at dir, loads .hop/config and takes
// the process-exclusive lock. Callers must Close.
func Open(dir string) (*Repo, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving repository root: %w", err)
	}

	cfgPath := filepath.Join(root, HopDir, ConfigFile)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrOutsideRepo
		}
		return nil, fmt.Errorf("reading %s: %w", cfgPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", cfgPath, err)
	}
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("%s: remote_url is required; hop only operates with a configured remote", cfgPath)
	}

	flk := flock.New(filepath.Join(root, HopDir, lockFile))
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking working copy: %w", err)
	}
	if !locked {
		return nil, ErrWorkingCopyBusy
	}

	return &Repo{root: root, config: cfg, flk: flk}, nil
}

// Close releases the working-copy lock.
func (r *Repo) Close() error {
	if r.flk == nil {
		return nil
	}
	err := r.flk.Unlock()
	r.flk = nil
	return err
}

// Root returns the repository root directory.
func (r *Repo) Root() string { return r.root }

// Config returns the loaded configuration record.
func (r *Repo) Config() Config { return r.config }

// SaveConfig writes the configuration record back to .hop/config.
func (r *Repo) SaveConfig(cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	path := filepath.Join(r.root, HopDir, ConfigFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	r.config = cfg
	return nil
}

// ReleasesDir is .hop/releases: manifests and promotion snapshots.
func (r *Repo) ReleasesDir() string {
	return filepath.Join(r.root, HopDir, "releases")
}

// ModelDir is .hop/model: versioned schema, metadata and seed dumps.
func (r *Repo) ModelDir() string {
	return filepath.Join(r.root, HopDir, "model")
}

// BackupsDir is .hop/backups: opaque pre-deployment snapshots, kept out
// of version control.
func (r *Repo) BackupsDir() string {
	return filepath.Join(r.root, HopDir, "backups")
}

// PatchesDir is Patches/ at the repository root.
func (r *Repo) PatchesDir() string {
	return filepath.Join(r.root, "Patches")
}

// SchemaSymlink is .hop/model/schema.sql, the link to the currently
// active versioned schema dump.
func (r *Repo) SchemaSymlink() string {
	return filepath.Join(r.ModelDir(), "schema.sql")
}

// CurrentSchemaTarget resolves the schema.sql symlink and returns the
// base name of its target (e.g. "schema-1.3.4.sql"). Returns ok=false when
// the symlink does not exist, which means no production release yet.
func (r *Repo) CurrentSchemaTarget() (string, bool, error) {
	target, err := os.Readlink(r.SchemaSymlink())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("reading schema symlink: %w", err)
	}
	return filepath.Base(target), true, nil
}

// SetSchemaSymlink repoints .hop/model/schema.sql at the given versioned
// dump file name (relative to the model directory). The replacement is
// done through a rename so readers never observe a missing link.
func (r *Repo) SetSchemaSymlink(targetName string) error {
	link := r.SchemaSymlink()
	tmp := link + ".tmp"
	_ = os.Remove(tmp)
	if err := os.Symlink(targetName, tmp); err != nil {
		return fmt.Errorf("creating schema symlink: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing schema symlink: %w", err)
	}
	return nil
}

// EnsureLayout creates the .hop directory tree if missing.
func (r *Repo) EnsureLayout() error {
	for _, dir := range []string{r.ReleasesDir(), r.ModelDir(), r.BackupsDir(), r.PatchesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
