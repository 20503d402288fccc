// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package git provides the typed git operations the release workflow is
// built on. It shells out to the git binary; the tag push primitive is the
// atomic operation the distributed lock and reservation protocols rely on,
// so PushTag reports Accepted or Rejected explicitly instead of folding
// both into an error.
package git

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/half-orm/half-orm-dev/pkg/executil"
)

// Feature: CORE_GIT_DRIVER

// DefaultRemote is the remote name every workflow operation targets.
const DefaultRemote = "origin"

// PushStatus is the outcome of a tag push.
type PushStatus int

const (
	// PushAccepted means the ref is now visible on the remote.
	PushAccepted PushStatus = iota
	// PushRejected means the remote already had a conflicting ref.
	PushRejected
)

// Driver executes git operations in a single working copy.
type Driver struct {
	runner executil.Runner
	dir    string
	remote string
}

// NewDriver creates a Driver for the working copy at dir.
func NewDriver(dir string) *Driver {
	return NewDriverWithRunner(dir, executil.NewRunner())
}

// NewDriverWithRunner allows injecting a runner for tests.
func NewDriverWithRunner(dir string, runner executil.Runner) *Driver {
	return &Driver{runner: runner, dir: dir, remote: DefaultRemote}
}

// Remote returns the remote name the driver targets.
func (d *Driver) Remote() string { return d.remote }

// git runs a git subcommand and returns trimmed stdout.
func (d *Driver) git(ctx context.Context, args ...string) (string, error) {
	cmd := executil.NewCommand("git", args...)
	cmd.Dir = d.dir
	// Stable output regardless of the user's locale.
	cmd.Env = map[string]string{
		"PATH":   os.Getenv("PATH"),
		"HOME":   os.Getenv("HOME"),
		"LANG":   "C",
		"LC_ALL": "C",
	}

	result, err := d.runner.Run(ctx, cmd)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = string(result.Stderr)
		}
		return "", classify(args, stderr, err)
	}
	return strings.TrimSpace(string(result.Stdout)), nil
}

// classify maps git stderr to a typed error.
func classify(args []string, stderr string, cause error) error {
	op := ""
	if len(args) > 0 {
		op = args[0]
	}
	low := strings.ToLower(stderr)

	switch {
	case strings.Contains(low, "could not read from remote"),
		strings.Contains(low, "could not resolve host"),
		strings.Contains(low, "connection refused"),
		strings.Contains(low, "connection timed out"):
		return newError(ErrRemoteUnavailable, "", firstLine(stderr), cause)
	case strings.Contains(low, "conflict"):
		return newError(ErrMergeConflict, "", firstLine(stderr), cause)
	case strings.Contains(low, "[rejected]"),
		strings.Contains(low, "failed to push some refs"),
		strings.Contains(low, "stale info"):
		return newError(ErrPushRejected, "", firstLine(stderr), cause)
	case strings.Contains(low, "already exists") && op == "tag":
		return newError(ErrTagExists, "", firstLine(stderr), cause)
	case strings.Contains(low, "already exists") && (op == "branch" || op == "checkout" || op == "switch"):
		return newError(ErrBranchExists, "", firstLine(stderr), cause)
	case strings.Contains(low, "not found") && op == "tag",
		strings.Contains(low, "no such ref"):
		return newError(ErrTagMissing, "", firstLine(stderr), cause)
	case strings.Contains(low, "did not match any"),
		strings.Contains(low, "unknown revision"),
		strings.Contains(low, "remote ref does not exist"),
		strings.Contains(low, "couldn't find remote ref"),
		strings.Contains(low, "not a valid ref"):
		return newError(ErrBranchMissing, "", firstLine(stderr), cause)
	default:
		return newError(ErrInternal, "", fmt.Sprintf("git %s: %s", op, firstLine(stderr)), cause)
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

// CurrentBranch returns the checked-out branch name.
func (d *Driver) CurrentBranch(ctx context.Context) (string, error) {
	out, err := d.git(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if out == "HEAD" {
		return "", newError(ErrNotOnBranch, "", "detached HEAD", nil)
	}
	return out, nil
}

// IsClean reports whether the worktree has no modified or untracked files.
func (d *Driver) IsClean(ctx context.Context) (bool, error) {
	out, err := d.git(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// DirtyPaths lists the paths reported by git status, used for the
// idempotency check after a validation replay.
func (d *Driver) DirtyPaths(ctx context.Context) ([]string, error) {
	out, err := d.git(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseStatusPaths(out), nil
}

// parseStatusPaths extracts paths from porcelain status output.
func parseStatusPaths(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := strings.TrimSpace(line[3:])
		// Renames come through as "old -> new"; the new path is the one
		// that matters for reporting.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		paths = append(paths, path)
	}
	return paths
}

// IsSyncedWith reports whether branch and its remote counterpart point at
// the same commit.
func (d *Driver) IsSyncedWith(ctx context.Context, branch string) (bool, error) {
	local, err := d.git(ctx, "rev-parse", branch)
	if err != nil {
		return false, err
	}
	remote, err := d.git(ctx, "rev-parse", d.remote+"/"+branch)
	if err != nil {
		return false, err
	}
	return local == remote, nil
}

// Fetch updates remote refs and tags, pruning removed ones.
func (d *Driver) Fetch(ctx context.Context) error {
	_, err := d.git(ctx, "fetch", "--prune", "--prune-tags", "--tags", d.remote)
	return err
}

// Checkout switches to branch, optionally creating it.
func (d *Driver) Checkout(ctx context.Context, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	_, err := d.git(ctx, args...)
	return err
}

// CreateBranch creates a local branch at fromRef without switching to it.
func (d *Driver) CreateBranch(ctx context.Context, name, fromRef string) error {
	exists, err := d.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return newError(ErrBranchExists, name, "branch already exists", nil)
	}
	_, err = d.git(ctx, "branch", name, fromRef)
	return err
}

// BranchExists reports whether a local branch exists.
func (d *Driver) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := d.git(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind != ErrRemoteUnavailable {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RemoteBranchExists reports whether the fetched remote-tracking branch exists.
func (d *Driver) RemoteBranchExists(ctx context.Context, name string) (bool, error) {
	_, err := d.git(ctx, "rev-parse", "--verify", "--quiet", "refs/remotes/"+d.remote+"/"+name)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind != ErrRemoteUnavailable {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteBranch removes a branch locally and, when remote is true, on the
// remote as well.
func (d *Driver) DeleteBranch(ctx context.Context, name string, force, remote bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if exists, err := d.BranchExists(ctx, name); err != nil {
		return err
	} else if exists {
		if _, err := d.git(ctx, "branch", flag, name); err != nil {
			return err
		}
	}
	if remote {
		if _, err := d.git(ctx, "push", d.remote, "--delete", name); err != nil {
			// Deleting a branch the remote no longer has is not a failure.
			if kind, ok := KindOf(err); ok && kind == ErrBranchMissing {
				return nil
			}
			return err
		}
	}
	return nil
}

// Merge merges branch into the current branch with --no-ff and the given
// message. On conflict the merge is aborted and ErrMergeConflict returned.
func (d *Driver) Merge(ctx context.Context, branch, message string) error {
	_, err := d.git(ctx, "merge", "--no-ff", "-m", message, branch)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == ErrMergeConflict {
			_, _ = d.git(ctx, "merge", "--abort")
		}
		return err
	}
	return nil
}

// FastForward merges ref into the current branch, fast-forward only.
func (d *Driver) FastForward(ctx context.Context, ref string) error {
	_, err := d.git(ctx, "merge", "--ff-only", ref)
	return err
}

// ListRemoteBranches lists branch names on the remote, optionally filtered
// by prefix.
func (d *Driver) ListRemoteBranches(ctx context.Context, prefix string) ([]string, error) {
	out, err := d.git(ctx, "ls-remote", "--heads", d.remote)
	if err != nil {
		return nil, err
	}
	return parseLsRemoteHeads(out, prefix), nil
}

// parseLsRemoteHeads extracts branch names from ls-remote --heads output.
func parseLsRemoteHeads(out, prefix string) []string {
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		name := strings.TrimPrefix(fields[1], "refs/heads/")
		if prefix == "" || strings.HasPrefix(name, prefix) {
			branches = append(branches, name)
		}
	}
	return branches
}

// ListTags lists local tags matching pattern (git glob), all when empty.
func (d *Driver) ListTags(ctx context.Context, pattern string) ([]string, error) {
	args := []string{"tag", "--list"}
	if pattern != "" {
		args = append(args, pattern)
	}
	out, err := d.git(ctx, args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// TagExists reports whether a local tag exists.
func (d *Driver) TagExists(ctx context.Context, name string) (bool, error) {
	tags, err := d.ListTags(ctx, name)
	if err != nil {
		return false, err
	}
	for _, t := range tags {
		if t == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateTag creates a tag at ref. A non-empty message makes it annotated.
func (d *Driver) CreateTag(ctx context.Context, name, ref, message string) error {
	args := []string{"tag"}
	if message != "" {
		args = append(args, "-a", "-m", message)
	}
	args = append(args, name)
	if ref != "" {
		args = append(args, ref)
	}
	_, err := d.git(ctx, args...)
	return err
}

// PushTag pushes a tag and reports whether the remote accepted it. A
// rejection means a concurrent writer won; network failures surface as
// ErrRemoteUnavailable. The push either becomes fully visible on the
// remote or has no effect.
func (d *Driver) PushTag(ctx context.Context, name string) (PushStatus, error) {
	_, err := d.git(ctx, "push", d.remote, "refs/tags/"+name)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind == ErrPushRejected {
			return PushRejected, nil
		}
		return PushRejected, err
	}
	return PushAccepted, nil
}

// DeleteTag removes a tag locally and, when remote is true, on the remote.
func (d *Driver) DeleteTag(ctx context.Context, name string, remote bool) error {
	if exists, err := d.TagExists(ctx, name); err != nil {
		return err
	} else if exists {
		if _, err := d.git(ctx, "tag", "-d", name); err != nil {
			return err
		}
	}
	if remote {
		if _, err := d.git(ctx, "push", d.remote, "--delete", "refs/tags/"+name); err != nil {
			if kind, ok := KindOf(err); ok && (kind == ErrTagMissing || kind == ErrBranchMissing) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Push pushes branch to the remote, setting upstream on first push.
func (d *Driver) Push(ctx context.Context, branch string) error {
	_, err := d.git(ctx, "push", "-u", d.remote, branch)
	return err
}

// CommitEmpty records an empty commit with the given message.
func (d *Driver) CommitEmpty(ctx context.Context, message string) error {
	_, err := d.git(ctx, "commit", "--allow-empty", "-m", message)
	return err
}

// Add stages the given paths.
func (d *Driver) Add(ctx context.Context, paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	_, err := d.git(ctx, args...)
	return err
}

// Commit stages paths and commits them with the given message. With no
// paths the current index is committed.
func (d *Driver) Commit(ctx context.Context, message string, paths ...string) error {
	if len(paths) > 0 {
		if err := d.Add(ctx, paths...); err != nil {
			return err
		}
	}
	_, err := d.git(ctx, "commit", "-m", message)
	return err
}

// Move renames a tracked path, preserving history.
func (d *Driver) Move(ctx context.Context, src, dst string) error {
	_, err := d.git(ctx, "mv", src, dst)
	return err
}

// Remove deletes a tracked path from the index and the worktree.
func (d *Driver) Remove(ctx context.Context, path string) error {
	_, err := d.git(ctx, "rm", "-r", "--", path)
	return err
}

// CheckoutPaths restores the given paths from ref.
func (d *Driver) CheckoutPaths(ctx context.Context, ref string, paths ...string) error {
	args := append([]string{"checkout", ref, "--"}, paths...)
	_, err := d.git(ctx, args...)
	return err
}

// ResetHard resets the current branch and worktree to ref.
func (d *Driver) ResetHard(ctx context.Context, ref string) error {
	_, err := d.git(ctx, "reset", "--hard", ref)
	return err
}

// ShowFile returns the content of path at ref without touching the
// worktree.
func (d *Driver) ShowFile(ctx context.Context, ref, path string) (string, error) {
	return d.git(ctx, "show", ref+":"+path)
}

// RevParse resolves a ref to a commit hash.
func (d *Driver) RevParse(ctx context.Context, ref string) (string, error) {
	return d.git(ctx, "rev-parse", ref)
}
