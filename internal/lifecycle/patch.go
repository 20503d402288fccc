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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/half-orm/half-orm-dev/internal/db"
	"github.com/half-orm/half-orm-dev/internal/lockservice"
	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/logging"
	"github.com/half-orm/half-orm-dev/pkg/providers/generator"
)

// Feature: PATCH_LIFECYCLE

// PatchLifecycle owns patch creation, application and integration.
type PatchLifecycle struct {
	*Components
}

// NewPatchLifecycle creates the patch lifecycle over shared components.
func NewPatchLifecycle(c *Components) *PatchLifecycle {
	return &PatchLifecycle{Components: c}
}

// CreatePatchResult reports what CreatePatch did.
type CreatePatchResult struct {
	ID       naming.PatchID
	Release  naming.Version
	Branch   string
	Tag      string
	Warnings []string
}

// CreatePatch reserves a patch id and materializes its branch and
// directory. The reservation tag push is the point of no return: before it
// every side effect is local and rolled back on failure; after it the
// reservation stands even if later pushes fail.
func (p *PatchLifecycle) CreatePatch(ctx context.Context, rawID string) (*CreatePatchResult, error) {
	id, err := naming.ParsePatchID(rawID)
	if err != nil {
		return nil, &PreconditionError{Message: err.Error()}
	}

	releaseBranch, err := p.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	version, ok := naming.ParseReleaseBranch(releaseBranch)
	if !ok {
		return nil, precondition("create-patch must run on a release branch, not %s", releaseBranch)
	}

	if clean, err := p.Git.IsClean(ctx); err != nil {
		return nil, err
	} else if !clean {
		return nil, &PreconditionError{
			Message:     "worktree has uncommitted changes",
			Remediation: "commit or stash them first",
		}
	}

	if err := p.Git.Fetch(ctx); err != nil {
		return nil, err
	}
	if synced, err := p.Git.IsSyncedWith(ctx, releaseBranch); err != nil {
		return nil, err
	} else if !synced {
		return nil, &PreconditionError{
			Message:     fmt.Sprintf("%s is not synced with origin", releaseBranch),
			Remediation: "pull or push the release branch first",
		}
	}

	patchBranch := naming.PatchBranch(id)
	if exists, err := p.Git.BranchExists(ctx, patchBranch); err != nil {
		return nil, err
	} else if exists {
		return nil, precondition("branch %s already exists", patchBranch)
	}
	if exists, err := p.Git.RemoteBranchExists(ctx, patchBranch); err != nil {
		return nil, err
	} else if exists {
		return nil, precondition("branch %s already exists on origin", patchBranch)
	}
	if p.Patches.Exists(id) {
		return nil, precondition("Patches/%s already exists", id)
	}
	if owner, _, found, err := p.findPatchOnRemote(ctx, id); err != nil {
		return nil, err
	} else if found {
		return nil, precondition("patch %s is already tracked by the manifest of release %s", id, owner)
	}

	// Local materialization; everything below is undone on failure until
	// the reservation succeeds.
	rollback := func() {
		_ = p.Git.Checkout(ctx, releaseBranch, false)
		_ = p.Git.ResetHard(ctx, "HEAD")
		_ = p.Patches.Delete(id)
		_ = p.Git.DeleteBranch(ctx, patchBranch, true, false)
	}

	if err := p.Git.Checkout(ctx, patchBranch, true); err != nil {
		return nil, err
	}
	if err := p.Patches.Create(id); err != nil {
		rollback()
		return nil, err
	}
	relDir, err := filepath.Rel(p.Repo.Root(), p.Patches.Dir(id))
	if err != nil {
		rollback()
		return nil, err
	}
	if err := p.Git.Commit(ctx, fmt.Sprintf("Add Patches/%s directory", id), relDir); err != nil {
		rollback()
		return nil, err
	}

	// Point of no return.
	if err := p.Locks.ReservePatch(ctx, id, "HEAD"); err != nil {
		rollback()
		return nil, err
	}

	result := &CreatePatchResult{
		ID:      id,
		Release: version,
		Branch:  patchBranch,
		Tag:     lockservice.ReservationTag(id),
	}

	if err := p.pushWithRetry(ctx, patchBranch, 3); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("reservation holds but pushing %s failed: %v; push it manually", patchBranch, err))
	}

	// Manifest update happens on the release branch as a separate step; a
	// failure here leaves the reservation standing.
	if err := p.Git.Checkout(ctx, releaseBranch, false); err != nil {
		return result, err
	}
	if err := p.Manifests.AddCandidate(version, id, ""); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("could not add %s to the manifest: %v; add it manually", id, err))
	} else {
		manifestRel, err := filepath.Rel(p.Repo.Root(), p.Manifests.ManifestPath(version))
		if err == nil {
			err = p.Git.Commit(ctx, fmt.Sprintf("Add patch %s to release %s", id, version), manifestRel)
		}
		if err == nil {
			err = p.pushWithRetry(ctx, releaseBranch, 3)
		}
		if err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("manifest commit for %s not pushed: %v; push %s manually", id, err, releaseBranch))
		}
	}

	if err := p.Git.Checkout(ctx, patchBranch, false); err != nil {
		return result, err
	}
	return result, nil
}

// releaseContext computes the ordered patch sequence ApplyPatch replays:
// the staged patches of the release manifest plus the current patch. An
// already-staged current patch stays in its recorded position; otherwise it
// is appended.
func releaseContext(m *manifest.Manifest, id naming.PatchID) []naming.PatchID {
	var sequence []naming.PatchID
	included := false
	for _, e := range m.Entries {
		switch {
		case e.ID == id:
			sequence = append(sequence, e.ID)
			included = true
		case e.State == manifest.StateStaged:
			sequence = append(sequence, e.ID)
		}
	}
	if !included {
		sequence = append(sequence, id)
	}
	return sequence
}

// ApplyPatch resets the database to the production schema and replays the
// release context ending with the current patch, then regenerates code
// from the introspected schema. On failure the database is reset again and
// generated files are reverted; the original error wins.
func (p *PatchLifecycle) ApplyPatch(ctx context.Context) error {
	branch, err := p.Git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	id, ok := naming.ParsePatchBranch(branch)
	if !ok {
		return precondition("apply must run on a patch branch, not %s", branch)
	}
	return p.applyPatchByID(ctx, id)
}

// applyPatchByID is the shared application path used by ApplyPatch and by
// the merge validation replay.
func (p *PatchLifecycle) applyPatchByID(ctx context.Context, id naming.PatchID) error {
	if err := p.Patches.Validate(id); err != nil {
		return &PreconditionError{Message: err.Error()}
	}
	schemaPath := p.Repo.SchemaSymlink()
	if _, err := os.Stat(schemaPath); err != nil {
		return &PreconditionError{
			Message:     "model/schema.sql not found",
			Remediation: "attach a database or deploy a release first",
		}
	}

	version, found, err := p.resolveReleaseForPatch(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return precondition("patch %s is not tracked by any release manifest", id)
	}
	m, err := p.loadManifest(ctx, version)
	if err != nil {
		return err
	}
	sequence := releaseContext(m, id)

	if err := p.DB.ResetToSchema(ctx, schemaPath); err != nil {
		return err
	}

	var generated []string
	failure := p.applySequence(ctx, sequence, version, &generated)
	if failure != nil {
		// Restore the pristine schema and drop generated files. Rollback
		// failures are swallowed so the original error is preserved.
		_ = p.DB.ResetToSchema(ctx, schemaPath)
		p.revertGenerated(ctx, generated)
		return failure
	}
	return nil
}

// applySequence applies every executable file of every patch in order and
// runs the code generator over the result.
func (p *PatchLifecycle) applySequence(ctx context.Context, sequence []naming.PatchID, version naming.Version, generated *[]string) error {
	for _, patchID := range sequence {
		files, err := p.Patches.ExecutableFiles(patchID)
		if err != nil {
			return &ApplyError{Patch: patchID, Cause: err}
		}
		for _, file := range files {
			switch strings.ToLower(filepath.Ext(file)) {
			case ".sql":
				if err := p.DB.ApplySQLFile(ctx, file); err != nil {
					return &ApplyError{Patch: patchID, File: file, Cause: err}
				}
			case ".py":
				sctx := db.ScriptContext{Version: version.String()}
				if err := p.DB.ApplyScriptFile(ctx, file, sctx); err != nil {
					return &ApplyError{Patch: patchID, File: file, Cause: err}
				}
			}
		}
		p.Log.Debug("patch applied", logging.NewField("patch", patchID))
	}

	schemaModel, err := p.DB.Introspect(ctx)
	if err != nil {
		return err
	}
	result, err := p.Generator.Generate(ctx, generator.Request{
		Model:     schemaModel,
		OutputDir: p.Repo.Root(),
	})
	*generated = result.Files
	if err != nil {
		return fmt.Errorf("code generation: %w", err)
	}
	return nil
}

// revertGenerated restores tracked generated files and removes untracked
// ones. Best effort; errors are swallowed to keep the original failure.
func (p *PatchLifecycle) revertGenerated(ctx context.Context, files []string) {
	for _, file := range files {
		if _, err := p.Git.RevParse(ctx, "HEAD:"+file); err == nil {
			_ = p.Git.CheckoutPaths(ctx, "HEAD", file)
		} else {
			_ = os.Remove(filepath.Join(p.Repo.Root(), file))
		}
	}
}

// MergePatchResult reports what MergePatch did.
type MergePatchResult struct {
	ID              naming.PatchID
	Release         naming.Version
	BranchesDeleted []string
	Notifications   int
	LockTag         string
	Warnings        []string
}

// MergePatch integrates the current patch into its release branch through
// the ephemeral validation branch: merge, manifest staging, idempotency
// replay and test gate all happen on ho-validate/<id>; the release branch
// moves only at the final fast-forward, and the validation branch is
// deleted on every exit path.
func (p *PatchLifecycle) MergePatch(ctx context.Context) (*MergePatchResult, error) {
	patchBranch, err := p.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	id, ok := naming.ParsePatchBranch(patchBranch)
	if !ok {
		return nil, precondition("merge must run on a patch branch, not %s", patchBranch)
	}

	if clean, err := p.Git.IsClean(ctx); err != nil {
		return nil, err
	} else if !clean {
		return nil, &PreconditionError{
			Message:     "worktree has uncommitted changes",
			Remediation: "commit them to the patch branch first",
		}
	}

	if err := p.Git.Fetch(ctx); err != nil {
		return nil, err
	}
	version, found, err := p.resolveReleaseForPatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, precondition("patch %s is not tracked by any release manifest", id)
	}
	releaseBranch := naming.ReleaseBranch(version)

	lock, err := p.Locks.Acquire(ctx, releaseBranch)
	if err != nil {
		return nil, err
	}
	result := &MergePatchResult{ID: id, Release: version, LockTag: lock.Tag}
	defer lock.Release(ctx)

	// The fetch inside Acquire refreshed remote refs; bring the release
	// branch to the remote head and refuse divergence.
	if err := p.Git.Checkout(ctx, releaseBranch, false); err != nil {
		return nil, err
	}
	if err := p.Git.FastForward(ctx, p.Git.Remote()+"/"+releaseBranch); err != nil {
		return nil, &PreconditionError{
			Message:     fmt.Sprintf("%s has diverged from origin", releaseBranch),
			Remediation: "reconcile the release branch before merging",
		}
	}

	m, err := p.Manifests.Load(version)
	if err != nil {
		return nil, err
	}
	if at := m.Index(id); at >= 0 && m.Entries[at].State == manifest.StateStaged {
		return nil, precondition("patch %s is already staged in release %s", id, version)
	}

	validateBranch := naming.ValidateBranch(id)
	if err := p.Git.DeleteBranch(ctx, validateBranch, true, false); err != nil {
		return nil, err
	}
	if err := p.Git.CreateBranch(ctx, validateBranch, releaseBranch); err != nil {
		return nil, err
	}
	// Guaranteed deletion of the validation branch on all exit paths.
	defer func() {
		_ = p.Git.Checkout(ctx, releaseBranch, false)
		_ = p.Git.ResetHard(ctx, "HEAD")
		_ = p.Git.DeleteBranch(ctx, validateBranch, true, false)
	}()

	if err := p.Git.Checkout(ctx, validateBranch, false); err != nil {
		return nil, err
	}

	// Replay surviving staged patch branches first; a no-op when their
	// content is already merged into the release branch.
	for _, stagedID := range m.Staged() {
		stagedBranch := naming.PatchBranch(stagedID)
		if exists, err := p.Git.RemoteBranchExists(ctx, stagedBranch); err != nil {
			return nil, err
		} else if exists {
			msg := fmt.Sprintf("Merge %s into %s", stagedBranch, validateBranch)
			if err := p.Git.Merge(ctx, p.Git.Remote()+"/"+stagedBranch, msg); err != nil {
				return nil, err
			}
		}
	}

	mergeMsg := fmt.Sprintf("Merge %s into %s\n\nCloses #%d", patchBranch, releaseBranch, id.IssueNumber())
	if err := p.Git.Merge(ctx, patchBranch, mergeMsg); err != nil {
		return nil, err
	}

	if err := p.Manifests.SetStaged(version, id); err != nil {
		return nil, err
	}
	manifestRel, err := filepath.Rel(p.Repo.Root(), p.Manifests.ManifestPath(version))
	if err != nil {
		return nil, err
	}
	if err := p.Git.Commit(ctx, fmt.Sprintf("Stage patch %s for release %s", id, version), manifestRel); err != nil {
		return nil, err
	}

	// Idempotency gate: replay against a pristine schema; the working tree
	// must come out identical to the committed state.
	if err := p.applyPatchByID(ctx, id); err != nil {
		return nil, err
	}
	dirty, err := p.Git.DirtyPaths(ctx)
	if err != nil {
		return nil, err
	}
	if len(dirty) > 0 {
		_ = p.Git.ResetHard(ctx, "HEAD")
		return nil, &IdempotencyError{Patch: id, Paths: dirty}
	}

	// Test gate.
	if runner, found := p.detectTestRunner(); found {
		if err := p.runTests(ctx, runner); err != nil {
			return nil, err
		}
	} else {
		result.Warnings = append(result.Warnings, "no test runner configured; merge proceeds without a test gate")
	}

	// Atomic commit point: the release branch adopts the validated state.
	if err := p.Git.Checkout(ctx, releaseBranch, false); err != nil {
		return nil, err
	}
	if err := p.Git.FastForward(ctx, validateBranch); err != nil {
		return nil, err
	}
	if err := p.Git.Push(ctx, releaseBranch); err != nil {
		return nil, err
	}

	if err := p.Git.DeleteBranch(ctx, patchBranch, true, true); err != nil {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("could not delete %s: %v; delete it manually", patchBranch, err))
	} else {
		result.BranchesDeleted = append(result.BranchesDeleted, patchBranch)
	}

	notifyMsg := fmt.Sprintf("[notify] merge_patch: %s integrated into %s; update candidate branches with `git merge %s`",
		id, releaseBranch, releaseBranch)
	if err := p.Git.CommitEmpty(ctx, notifyMsg); err == nil {
		if err := p.Git.Push(ctx, releaseBranch); err == nil {
			result.Notifications++
		}
	}

	return result, nil
}

// detectTestRunner looks for a configured pytest setup: pytest.ini, a
// tests/ directory, or a pyproject.toml with a [tool.pytest section.
func (p *PatchLifecycle) detectTestRunner() (executil.Command, bool) {
	root := p.Repo.Root()
	if _, err := os.Stat(filepath.Join(root, "pytest.ini")); err == nil {
		return executil.NewCommand("python3", "-m", "pytest"), true
	}
	if info, err := os.Stat(filepath.Join(root, "tests")); err == nil && info.IsDir() {
		return executil.NewCommand("python3", "-m", "pytest", "tests"), true
	}
	if data, err := os.ReadFile(filepath.Join(root, "pyproject.toml")); err == nil {
		if strings.Contains(string(data), "[tool.pytest") {
			return executil.NewCommand("python3", "-m", "pytest"), true
		}
	}
	return executil.Command{}, false
}

// runTests runs the detected test suite from the project root.
func (p *PatchLifecycle) runTests(ctx context.Context, cmd executil.Command) error {
	cmd.Dir = p.Repo.Root()
	result, err := p.Runner.Run(ctx, cmd)
	if err != nil {
		exit := 1
		tail := ""
		if result != nil {
			exit = result.ExitCode
			tail = outputTail(string(result.Stdout)+string(result.Stderr), 20)
		}
		return &TestsFailedError{ExitCode: exit, Tail: tail}
	}
	return nil
}

// outputTail returns the last n lines of s.
func outputTail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
