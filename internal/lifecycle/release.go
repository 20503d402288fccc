// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/pkg/logging"
)

// Feature: RELEASE_LIFECYCLE

// ReleaseLifecycle owns release creation, RC/production/hotfix promotion,
// sequential-promotion enforcement and branch cleanup.
type ReleaseLifecycle struct {
	*Components
}

// NewReleaseLifecycle creates the release lifecycle over shared components.
func NewReleaseLifecycle(c *Components) *ReleaseLifecycle {
	return &ReleaseLifecycle{Components: c}
}

// CreateReleaseResult reports what CreateRelease did.
type CreateReleaseResult struct {
	Version naming.Version
	Branch  string
}

// CreateRelease creates the integration branch and empty manifest for the
// next version at the given bump level.
func (r *ReleaseLifecycle) CreateRelease(ctx context.Context, level naming.Level) (*CreateReleaseResult, error) {
	if clean, err := r.Git.IsClean(ctx); err != nil {
		return nil, err
	} else if !clean {
		return nil, &PreconditionError{Message: "worktree has uncommitted changes"}
	}
	if err := r.Git.Fetch(ctx); err != nil {
		return nil, err
	}

	current, err := r.productionVersion()
	if err != nil {
		return nil, err
	}
	next := current.Next(level)
	branch := naming.ReleaseBranch(next)

	if exists, err := r.Git.BranchExists(ctx, branch); err != nil {
		return nil, err
	} else if exists {
		return nil, precondition("release %s already exists", next)
	}
	if exists, err := r.Git.RemoteBranchExists(ctx, branch); err != nil {
		return nil, err
	} else if exists {
		return nil, precondition("release %s already exists on origin", next)
	}
	if r.Manifests.Exists(next) {
		return nil, precondition("release %s already has a manifest", next)
	}

	if err := r.Git.Checkout(ctx, naming.ProdBranch, false); err != nil {
		return nil, err
	}
	if err := r.Git.FastForward(ctx, r.Git.Remote()+"/"+naming.ProdBranch); err != nil {
		return nil, err
	}
	if err := r.Git.Checkout(ctx, branch, true); err != nil {
		return nil, err
	}
	if err := r.Manifests.CreateEmpty(next); err != nil {
		return nil, err
	}
	manifestRel, err := filepath.Rel(r.Repo.Root(), r.Manifests.ManifestPath(next))
	if err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, fmt.Sprintf("Open release %s", next), manifestRel); err != nil {
		return nil, err
	}
	if err := r.Git.Push(ctx, branch); err != nil {
		return nil, err
	}

	return &CreateReleaseResult{Version: next, Branch: branch}, nil
}

// releaseBranchVersions lists the versions with a remote release branch,
// in semver order.
func (r *ReleaseLifecycle) releaseBranchVersions(ctx context.Context) ([]naming.Version, error) {
	branches, err := r.Git.ListRemoteBranches(ctx, "ho-release/")
	if err != nil {
		return nil, err
	}
	var versions []naming.Version
	for _, branch := range branches {
		if v, ok := naming.ParseReleaseBranch(branch); ok {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })
	return versions, nil
}

// activeRC returns the version with RC snapshots but no production
// snapshot yet, and its highest RC number.
func (r *ReleaseLifecycle) activeRC() (naming.Version, int, bool, error) {
	files, err := r.Manifests.ListReleaseFiles()
	if err != nil {
		return naming.Version{}, 0, false, err
	}

	produced := map[naming.Version]bool{}
	for _, rf := range files {
		if rf.Phase.Kind == naming.PhaseProduction {
			produced[rf.Version] = true
		}
	}

	var active naming.Version
	maxN := 0
	found := false
	for _, rf := range files {
		if rf.Phase.Kind != naming.PhaseCandidate || produced[rf.Version] {
			continue
		}
		if !found || rf.Version.Compare(active) == 0 {
			active = rf.Version
			found = true
			if rf.Phase.N > maxN {
				maxN = rf.Phase.N
			}
		}
	}
	return active, maxN, found, nil
}

// nextPromotable picks the version to promote: the smallest version with a
// non-empty staged set whose semver predecessor is in production. Release
// manifests live on their branches, so each candidate branch is checked
// out while its manifest is read.
func (r *ReleaseLifecycle) nextPromotable(ctx context.Context, production naming.Version) (naming.Version, *manifest.Manifest, error) {
	versions, err := r.releaseBranchVersions(ctx)
	if err != nil {
		return naming.Version{}, nil, err
	}

	for _, v := range versions {
		branch := naming.ReleaseBranch(v)
		if err := r.Git.Checkout(ctx, branch, false); err != nil {
			return naming.Version{}, nil, err
		}
		if err := r.Git.FastForward(ctx, r.Git.Remote()+"/"+branch); err != nil {
			return naming.Version{}, nil, err
		}
		m, err := r.Manifests.Load(v)
		if err != nil {
			if errors.Is(err, manifest.ErrNotFound) {
				continue
			}
			return naming.Version{}, nil, err
		}
		if len(m.Staged()) == 0 {
			continue
		}
		if v.IsSuccessorOf(production) {
			return v, m, nil
		}
		// Staged work exists but a predecessor release must go first.
		return naming.Version{}, nil, &SequentialityError{
			Attempted: v,
			MustFirst: production.Next(naming.LevelPatch),
		}
	}

	return naming.Version{}, nil, precondition("no release has staged patches to promote")
}

// PromoteResult reports what a promotion did.
type PromoteResult struct {
	Version         naming.Version
	Phase           naming.Phase
	Snapshot        string
	Tag             string
	BranchesDeleted []string
	Notifications   int
	LockTag         string
}

// PromoteRC promotes the next eligible release to a release candidate:
// snapshot of the staged set, code payload merged into the trunk, RC tag,
// staged patch branch cleanup and rebase notifications.
func (r *ReleaseLifecycle) PromoteRC(ctx context.Context) (*PromoteResult, error) {
	lock, err := r.Locks.Acquire(ctx, naming.ProdBranch)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	if err := r.Git.Checkout(ctx, naming.ProdBranch, false); err != nil {
		return nil, err
	}
	if err := r.Git.FastForward(ctx, r.Git.Remote()+"/"+naming.ProdBranch); err != nil {
		return nil, err
	}

	production, err := r.productionVersion()
	if err != nil {
		return nil, err
	}

	// Both reads below use the trunk checkout: the production version from
	// the symlink, the RC family from the snapshot files merged at RC time.
	active, maxN, haveActive, err := r.activeRC()
	if err != nil {
		return nil, err
	}

	version, m, err := r.nextPromotable(ctx, production)
	if err != nil {
		return nil, err
	}

	// Single active RC: while an RC family awaits production, only that
	// version may take another RC.
	n := 1
	if haveActive {
		if active.Compare(version) != 0 {
			return nil, &ActiveRCError{Active: active, Attempted: version}
		}
		n = maxN + 1
	}

	releaseBranch := naming.ReleaseBranch(version)
	staged := m.Staged()

	// nextPromotable leaves the chosen release branch checked out and
	// fast-forwarded; snapshot and manifest trimming happen here so the
	// merge below carries them to the trunk.
	rcFile := naming.ReleaseFile{Version: version, Phase: naming.Phase{Kind: naming.PhaseCandidate, N: n}}
	if err := r.Manifests.WriteSnapshot(rcFile, staged); err != nil {
		return nil, err
	}
	if err := r.Manifests.ClearStaged(version); err != nil {
		return nil, err
	}
	releasesRel, err := filepath.Rel(r.Repo.Root(), r.Manifests.Dir())
	if err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, fmt.Sprintf("Snapshot release %s rc%d", version, n), releasesRel); err != nil {
		return nil, err
	}
	if err := r.Git.Push(ctx, releaseBranch); err != nil {
		return nil, err
	}

	// The trunk adopts the code payload of the staged patches so the RC is
	// testable from trunk checkouts.
	if err := r.Git.Checkout(ctx, naming.ProdBranch, false); err != nil {
		return nil, err
	}
	if err := r.Git.Merge(ctx, releaseBranch, fmt.Sprintf("Promote release %s to rc%d", version, n)); err != nil {
		return nil, err
	}

	tag := naming.RCTag(version, n)
	if err := r.Git.CreateTag(ctx, tag, "HEAD", fmt.Sprintf("Release candidate %d of %s", n, version)); err != nil {
		return nil, err
	}
	if _, err := r.Git.PushTag(ctx, tag); err != nil {
		return nil, err
	}
	if err := r.Git.Push(ctx, naming.ProdBranch); err != nil {
		return nil, err
	}

	result := &PromoteResult{
		Version:  version,
		Phase:    naming.Phase{Kind: naming.PhaseCandidate, N: n},
		Snapshot: rcFile.FileName(),
		Tag:      tag,
		LockTag:  lock.Tag,
	}

	// Staged patch branches are done; provenance stays on patch-id tags.
	for _, id := range staged {
		branch := naming.PatchBranch(id)
		if err := r.Git.DeleteBranch(ctx, branch, true, true); err != nil {
			r.Log.Warn("could not delete staged patch branch",
				logging.NewField("branch", branch),
				logging.NewField("error", err))
			continue
		}
		result.BranchesDeleted = append(result.BranchesDeleted, branch)
	}

	// Surviving candidate branches must rebase on the moved trunk.
	notified, err := r.notifyPatchBranches(ctx,
		fmt.Sprintf("[notify] promote_rc: %s reached rc%d; run `git merge %s` to rebase this patch", version, n, naming.ProdBranch))
	if err != nil {
		r.Log.Warn("rebase notifications incomplete", logging.NewField("error", err))
	}
	result.Notifications = notified

	if err := r.Git.Checkout(ctx, naming.ProdBranch, false); err != nil {
		return result, err
	}
	return result, nil
}

// notifyPatchBranches emits an empty notification commit on every
// surviving remote patch branch.
func (r *ReleaseLifecycle) notifyPatchBranches(ctx context.Context, message string) (int, error) {
	branches, err := r.Git.ListRemoteBranches(ctx, "ho-patch/")
	if err != nil {
		return 0, err
	}

	notified := 0
	for _, branch := range branches {
		if err := r.Git.Checkout(ctx, branch, false); err != nil {
			continue
		}
		if err := r.Git.CommitEmpty(ctx, message); err != nil {
			continue
		}
		if err := r.Git.Push(ctx, branch); err != nil {
			continue
		}
		notified++
	}
	return notified, nil
}

// PromoteProd promotes the active RC to production: the snapshot becomes
// the production file, the deployer replays it against a pristine replica,
// versioned dumps land under model/ and the release branch is retired.
func (r *ReleaseLifecycle) PromoteProd(ctx context.Context) (*PromoteResult, error) {
	lock, err := r.Locks.Acquire(ctx, naming.ProdBranch)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	if err := r.Git.Checkout(ctx, naming.ProdBranch, false); err != nil {
		return nil, err
	}
	if err := r.Git.FastForward(ctx, r.Git.Remote()+"/"+naming.ProdBranch); err != nil {
		return nil, err
	}

	production, err := r.productionVersion()
	if err != nil {
		return nil, err
	}

	version, rcN, haveActive, err := r.activeRC()
	if err != nil {
		return nil, err
	}
	if !haveActive {
		return nil, precondition("no active release candidate to promote")
	}
	if !version.IsSuccessorOf(production) {
		return nil, &SequentialityError{Attempted: version, MustFirst: production.Next(naming.LevelPatch)}
	}

	rcFile := naming.ReleaseFile{Version: version, Phase: naming.Phase{Kind: naming.PhaseCandidate, N: rcN}}
	prodFile := naming.ReleaseFile{Version: version, Phase: naming.Phase{Kind: naming.PhaseProduction}}

	ids, err := r.Manifests.ReadSnapshot(rcFile)
	if err != nil {
		return nil, err
	}

	releasesRel, err := filepath.Rel(r.Repo.Root(), r.Manifests.Dir())
	if err != nil {
		return nil, err
	}
	// Promote the snapshot file in place, preserving history, and retire
	// the mutable manifest.
	if err := r.Git.Move(ctx, filepath.Join(releasesRel, rcFile.FileName()), filepath.Join(releasesRel, prodFile.FileName())); err != nil {
		return nil, err
	}
	manifestRel := filepath.Join(releasesRel, naming.ReleaseFile{Version: version, Phase: naming.Phase{Kind: naming.PhaseDevelopment}}.FileName())
	if r.Manifests.Exists(version) {
		if err := r.Git.Remove(ctx, manifestRel); err != nil {
			return nil, err
		}
	}

	// Replay the release on a pristine replica and dump the new model.
	schemaName, err := r.rebuildModel(ctx, version, 0, ids)
	if err != nil {
		return nil, err
	}
	if err := r.Repo.SetSchemaSymlink(schemaName); err != nil {
		return nil, err
	}

	modelRel, err := filepath.Rel(r.Repo.Root(), r.Repo.ModelDir())
	if err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, fmt.Sprintf("Promote release %s to production", version), releasesRel, modelRel); err != nil {
		return nil, err
	}

	tag := naming.ReleaseTag(version)
	if err := r.Git.CreateTag(ctx, tag, "HEAD", fmt.Sprintf("Production release %s", version)); err != nil {
		return nil, err
	}
	if _, err := r.Git.PushTag(ctx, tag); err != nil {
		return nil, err
	}

	result := &PromoteResult{
		Version:  version,
		Phase:    naming.Phase{Kind: naming.PhaseProduction},
		Snapshot: prodFile.FileName(),
		Tag:      tag,
		LockTag:  lock.Tag,
	}

	releaseBranch := naming.ReleaseBranch(version)
	if err := r.Git.DeleteBranch(ctx, releaseBranch, true, true); err != nil {
		r.Log.Warn("could not delete release branch",
			logging.NewField("branch", releaseBranch),
			logging.NewField("error", err))
	} else {
		result.BranchesDeleted = append(result.BranchesDeleted, releaseBranch)
	}

	if err := r.Git.Push(ctx, naming.ProdBranch); err != nil {
		return result, err
	}
	return result, nil
}

// rebuildModel resets the replica to the current schema, applies the
// snapshot patches in order and dumps the new versioned model files. It
// returns the schema dump name.
func (r *ReleaseLifecycle) rebuildModel(ctx context.Context, version naming.Version, hotfix int, ids []naming.PatchID) (string, error) {
	schemaPath := r.Repo.SchemaSymlink()
	if _, ok, err := r.Repo.CurrentSchemaTarget(); err != nil {
		return "", err
	} else if ok {
		if err := r.DB.ResetToSchema(ctx, schemaPath); err != nil {
			return "", err
		}
	}

	patchLC := NewPatchLifecycle(r.Components)
	var generated []string
	if err := patchLC.applySequence(ctx, ids, version, &generated); err != nil {
		return "", err
	}

	modelDir := r.Repo.ModelDir()
	schemaName, err := r.DB.DumpSchema(ctx, modelDir, version, hotfix)
	if err != nil {
		return "", err
	}
	if _, err := r.DB.DumpMetadata(ctx, modelDir, version, hotfix); err != nil {
		return "", err
	}
	return schemaName, nil
}

// HotfixOpenResult reports what HotfixOpen did.
type HotfixOpenResult struct {
	Version naming.Version
	Branch  string
}

// HotfixOpen reopens the release branch of a production version from its
// release tag. Patch creation and merge then work unchanged.
func (r *ReleaseLifecycle) HotfixOpen(ctx context.Context, version naming.Version) (*HotfixOpenResult, error) {
	if err := r.Git.Fetch(ctx); err != nil {
		return nil, err
	}

	tag := naming.ReleaseTag(version)
	if exists, err := r.Git.TagExists(ctx, tag); err != nil {
		return nil, err
	} else if !exists {
		return nil, precondition("no production tag %s; only released versions can take hotfixes", tag)
	}

	branch := naming.ReleaseBranch(version)
	if exists, err := r.Git.BranchExists(ctx, branch); err != nil {
		return nil, err
	} else if exists {
		return nil, precondition("branch %s already exists", branch)
	}

	if err := r.Git.CreateBranch(ctx, branch, tag); err != nil {
		return nil, err
	}
	if err := r.Git.Checkout(ctx, branch, false); err != nil {
		return nil, err
	}
	if err := r.Manifests.CreateEmpty(version); err != nil {
		return nil, err
	}
	manifestRel, err := filepath.Rel(r.Repo.Root(), r.Manifests.ManifestPath(version))
	if err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, fmt.Sprintf("Open hotfix line for release %s", version), manifestRel); err != nil {
		return nil, err
	}
	if err := r.Git.Push(ctx, branch); err != nil {
		return nil, err
	}

	return &HotfixOpenResult{Version: version, Branch: branch}, nil
}

// nextHotfixNumber returns max(existing)+1 for the version. Numbers in gaps
// are never reused; deleting the highest-numbered file makes its number
// available again, since only the files present are scanned.
func (r *ReleaseLifecycle) nextHotfixNumber(version naming.Version) (int, error) {
	files, err := r.Manifests.ListReleaseFiles()
	if err != nil {
		return 0, err
	}
	maxN := 0
	for _, rf := range files {
		if rf.Phase.Kind == naming.PhaseHotfix && rf.Version.Compare(version) == 0 && rf.Phase.N > maxN {
			maxN = rf.Phase.N
		}
	}
	return maxN + 1, nil
}

// PromoteHotfix promotes the staged patches of a reopened release branch
// to a hotfix: snapshot, model rebuild, symlink update, hotfix tag, branch
// retirement.
func (r *ReleaseLifecycle) PromoteHotfix(ctx context.Context) (*PromoteResult, error) {
	branch, err := r.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	version, ok := naming.ParseReleaseBranch(branch)
	if !ok {
		return nil, precondition("promote-hotfix must run on a reopened release branch, not %s", branch)
	}

	production, err := r.productionVersion()
	if err != nil {
		return nil, err
	}
	if version.Compare(production) > 0 {
		return nil, precondition("release %s is not in production; use promote-rc instead", version)
	}

	lock, err := r.Locks.Acquire(ctx, naming.ProdBranch)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	m, err := r.Manifests.Load(version)
	if err != nil {
		return nil, err
	}
	staged := m.Staged()
	if len(staged) == 0 {
		return nil, precondition("release %s has no staged hotfix patches", version)
	}

	n, err := r.nextHotfixNumber(version)
	if err != nil {
		return nil, err
	}

	hotfixFile := naming.ReleaseFile{Version: version, Phase: naming.Phase{Kind: naming.PhaseHotfix, N: n}}
	if err := r.Manifests.WriteSnapshot(hotfixFile, staged); err != nil {
		return nil, err
	}
	if err := r.Manifests.ClearStaged(version); err != nil {
		return nil, err
	}
	releasesRel, err := filepath.Rel(r.Repo.Root(), r.Manifests.Dir())
	if err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, fmt.Sprintf("Snapshot hotfix %d of release %s", n, version), releasesRel); err != nil {
		return nil, err
	}
	if err := r.Git.Push(ctx, branch); err != nil {
		return nil, err
	}

	if err := r.Git.Checkout(ctx, naming.ProdBranch, false); err != nil {
		return nil, err
	}
	if err := r.Git.FastForward(ctx, r.Git.Remote()+"/"+naming.ProdBranch); err != nil {
		return nil, err
	}
	if err := r.Git.Merge(ctx, branch, fmt.Sprintf("Promote hotfix %d of release %s", n, version)); err != nil {
		return nil, err
	}

	schemaName, err := r.rebuildModel(ctx, version, n, staged)
	if err != nil {
		return nil, err
	}
	if err := r.Repo.SetSchemaSymlink(schemaName); err != nil {
		return nil, err
	}
	modelRel, err := filepath.Rel(r.Repo.Root(), r.Repo.ModelDir())
	if err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, fmt.Sprintf("Hotfix %d of release %s", n, version), modelRel); err != nil {
		return nil, err
	}

	tag := naming.HotfixTag(version, n)
	if err := r.Git.CreateTag(ctx, tag, "HEAD", fmt.Sprintf("Hotfix %d of release %s", n, version)); err != nil {
		return nil, err
	}
	if _, err := r.Git.PushTag(ctx, tag); err != nil {
		return nil, err
	}

	result := &PromoteResult{
		Version:  version,
		Phase:    naming.Phase{Kind: naming.PhaseHotfix, N: n},
		Snapshot: hotfixFile.FileName(),
		Tag:      tag,
		LockTag:  lock.Tag,
	}

	if err := r.Git.DeleteBranch(ctx, branch, true, true); err != nil {
		r.Log.Warn("could not delete hotfix branch",
			logging.NewField("branch", branch),
			logging.NewField("error", err))
	} else {
		result.BranchesDeleted = append(result.BranchesDeleted, branch)
	}

	if err := r.Git.Push(ctx, naming.ProdBranch); err != nil {
		return result, err
	}
	return result, nil
}
