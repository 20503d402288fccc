// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package lifecycle implements the patch and release state machines: patch
// creation, validation and integration, release creation, RC/production
// promotion, hotfix re-entry and deployment ordering.
package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/half-orm/half-orm-dev/internal/db"
	"github.com/half-orm/half-orm-dev/internal/git"
	"github.com/half-orm/half-orm-dev/internal/lockservice"
	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/internal/patches"
	"github.com/half-orm/half-orm-dev/internal/repo"
	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/logging"
	"github.com/half-orm/half-orm-dev/pkg/providers/backup"
	"github.com/half-orm/half-orm-dev/pkg/providers/generator"
)

// Feature: CORE_LIFECYCLE

// Components bundles the collaborators both lifecycles are built on. The
// working copy is borrowed from the orchestrator for the duration of a
// single operation.
type Components struct {
	Repo      *repo.Repo
	Git       *git.Driver
	DB        *db.Driver
	Manifests *manifest.Store
	Patches   *patches.Store
	Locks     *lockservice.Service
	Generator generator.Generator
	Backups   backup.Store
	Runner    executil.Runner
	Log       logging.Logger

	// Sleep is replaced in tests to skip retry backoff.
	Sleep func(time.Duration)
}

func (c *Components) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}

// pushWithRetry pushes a branch with bounded retry and exponential backoff.
func (c *Components) pushWithRetry(ctx context.Context, branch string, attempts int) error {
	backoff := time.Second
	var err error
	for i := 0; i < attempts; i++ {
		if err = c.Git.Push(ctx, branch); err == nil {
			return nil
		}
		if i < attempts-1 {
			c.sleep(backoff)
			backoff *= 2
		}
	}
	return err
}

// findPatchOnRemote scans the development manifests of every remote
// release branch for id. It enforces the one-manifest-per-patch invariant
// without depending on which branch is checked out.
func (c *Components) findPatchOnRemote(ctx context.Context, id naming.PatchID) (naming.Version, manifest.State, bool, error) {
	branches, err := c.Git.ListRemoteBranches(ctx, "ho-release/")
	if err != nil {
		return naming.Version{}, "", false, err
	}
	for _, branch := range branches {
		v, ok := naming.ParseReleaseBranch(branch)
		if !ok {
			continue
		}
		rf := naming.ReleaseFile{Version: v, Phase: naming.Phase{Kind: naming.PhaseDevelopment}}
		manifestPath := filepath.ToSlash(filepath.Join(repo.HopDir, "releases", rf.FileName()))
		content, err := c.Git.ShowFile(ctx, c.Git.Remote()+"/"+branch, manifestPath)
		if err != nil {
			continue // branch without a manifest
		}
		m, err := manifest.Parse([]byte(content))
		if err != nil {
			return naming.Version{}, "", false, fmt.Errorf("manifest of %s: %w", branch, err)
		}
		if at := m.Index(id); at >= 0 {
			return v, m.Entries[at].State, true, nil
		}
	}
	return naming.Version{}, "", false, nil
}

// resolveReleaseForPatch finds the release version a patch belongs to:
// the worktree manifest containing it, a single worktree manifest, or the
// remote scan as a fallback.
func (c *Components) resolveReleaseForPatch(ctx context.Context, id naming.PatchID) (naming.Version, bool, error) {
	if v, _, found, err := c.Manifests.FindPatch(id); err == nil && found {
		return v, true, nil
	} else if err != nil {
		return naming.Version{}, false, err
	}

	files, err := c.Manifests.ListReleaseFiles()
	if err != nil {
		return naming.Version{}, false, err
	}
	var dev []naming.Version
	for _, rf := range files {
		if rf.Phase.Kind == naming.PhaseDevelopment {
			dev = append(dev, rf.Version)
		}
	}
	if len(dev) == 1 {
		return dev[0], true, nil
	}

	if v, _, found, err := c.findPatchOnRemote(ctx, id); err != nil {
		return naming.Version{}, false, err
	} else if found {
		return v, true, nil
	}
	return naming.Version{}, false, nil
}

// loadManifest reads the development manifest for v from the worktree,
// falling back to the remote release branch blob when the checkout
// predates the manifest commit.
func (c *Components) loadManifest(ctx context.Context, v naming.Version) (*manifest.Manifest, error) {
	m, err := c.Manifests.Load(v)
	if err == nil {
		return m, nil
	}
	rf := naming.ReleaseFile{Version: v, Phase: naming.Phase{Kind: naming.PhaseDevelopment}}
	manifestPath := filepath.ToSlash(filepath.Join(repo.HopDir, "releases", rf.FileName()))
	content, showErr := c.Git.ShowFile(ctx, c.Git.Remote()+"/"+naming.ReleaseBranch(v), manifestPath)
	if showErr != nil {
		return nil, err
	}
	m, parseErr := manifest.Parse([]byte(content))
	if parseErr != nil {
		return nil, parseErr
	}
	m.Version = v
	return m, nil
}

// productionVersion reads the current production version from the
// model/schema.sql symlink; 0.0.0 when none exists yet.
func (c *Components) productionVersion() (naming.Version, error) {
	target, ok, err := c.Repo.CurrentSchemaTarget()
	if err != nil {
		return naming.Version{}, err
	}
	if !ok {
		return naming.Zero, nil
	}
	v, _, parsed := naming.ParseSchemaFileName(target)
	if !parsed {
		return naming.Version{}, precondition("schema symlink target %q is not a versioned schema dump", target)
	}
	return v, nil
}
