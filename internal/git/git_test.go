// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/half-orm/half-orm-dev/pkg/executil"
)

// fakeRunner scripts results per command line.
type fakeRunner struct {
	results map[string]fakeResult
	calls   []string
}

type fakeResult struct {
	stdout string
	stderr string
	exit   int
}

func (f *fakeRunner) key(cmd executil.Command) string {
	return cmd.Name + " " + strings.Join(cmd.Args, " ")
}

func (f *fakeRunner) Run(ctx context.Context, cmd executil.Command) (*executil.Result, error) {
	key := f.key(cmd)
	f.calls = append(f.calls, key)
	res, ok := f.results[key]
	if !ok {
		return &executil.Result{}, nil
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

func (f *fakeRunner) RunStream(ctx context.Context, cmd executil.Command, output io.Writer) error {
	res, err := f.Run(ctx, cmd)
	if res != nil {
		_, _ = output.Write(res.Stdout)
	}
	return err
}

func TestParseStatusPaths(t *testing.T) {
	t.Parallel()

	out := " M internal/db/db.go\n?? Patches/42-login/01.sql\nR  old.sql -> new.sql"
	paths := parseStatusPaths(out)

	want := []string{"internal/db/db.go", "Patches/42-login/01.sql", "new.sql"}
	if len(paths) != len(want) {
		t.Fatalf("expected %d paths, got %v", len(want), paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestParseStatusPaths_Empty(t *testing.T) {
	t.Parallel()

	if paths := parseStatusPaths(""); len(paths) != 0 {
		t.Errorf("expected no paths, got %v", paths)
	}
}

func TestParseLsRemoteHeads(t *testing.T) {
	t.Parallel()

	out := "abc123\trefs/heads/ho-prod\n" +
		"def456\trefs/heads/ho-patch/42-login\n" +
		"789abc\trefs/heads/ho-release/1.3.4\n"

	all := parseLsRemoteHeads(out, "")
	if len(all) != 3 {
		t.Fatalf("expected 3 branches, got %v", all)
	}

	patches := parseLsRemoteHeads(out, "ho-patch/")
	if len(patches) != 1 || patches[0] != "ho-patch/42-login" {
		t.Errorf("expected [ho-patch/42-login], got %v", patches)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		args   []string
		stderr string
		want   ErrorKind
	}{
		{[]string{"push"}, "ssh: Could not resolve host: example.com", ErrRemoteUnavailable},
		{[]string{"push"}, "! [rejected] refs/tags/lock-x (already exists)", ErrPushRejected},
		{[]string{"merge"}, "CONFLICT (content): Merge conflict in a.sql", ErrMergeConflict},
		{[]string{"tag"}, "fatal: tag 'patch-id/42' already exists", ErrTagExists},
		{[]string{"checkout"}, "fatal: a branch named 'ho-patch/42' already exists", ErrBranchExists},
		{[]string{"rev-parse"}, "fatal: ambiguous argument 'nope': unknown revision or path", ErrBranchMissing},
		{[]string{"gc"}, "something odd", ErrInternal},
	}

	for _, tc := range cases {
		err := classify(tc.args, tc.stderr, errors.New("exit 1"))
		kind, ok := KindOf(err)
		if !ok {
			t.Fatalf("classify(%v) did not return a git Error", tc.stderr)
		}
		if kind != tc.want {
			t.Errorf("classify(%q) = %s, want %s", tc.stderr, kind, tc.want)
		}
	}
}

func TestCurrentBranch_Detached(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git rev-parse --abbrev-ref HEAD": {stdout: "HEAD\n"},
	}}
	d := NewDriverWithRunner("/repo", runner)

	_, err := d.CurrentBranch(context.Background())
	if kind, ok := KindOf(err); !ok || kind != ErrNotOnBranch {
		t.Fatalf("expected ErrNotOnBranch, got %v", err)
	}
}

func TestPushTag_Accepted(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git push origin refs/tags/patch-id/42-login": {stdout: ""},
	}}
	d := NewDriverWithRunner("/repo", runner)

	status, err := d.PushTag(context.Background(), "patch-id/42-login")
	if err != nil {
		t.Fatalf("PushTag failed: %v", err)
	}
	if status != PushAccepted {
		t.Errorf("expected PushAccepted, got %v", status)
	}
}

func TestPushTag_Rejected(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git push origin refs/tags/patch-id/42-login": {
			stderr: "! [rejected] patch-id/42-login -> patch-id/42-login (already exists)\nerror: failed to push some refs",
			exit:   1,
		},
	}}
	d := NewDriverWithRunner("/repo", runner)

	status, err := d.PushTag(context.Background(), "patch-id/42-login")
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if status != PushRejected {
		t.Errorf("expected PushRejected, got %v", status)
	}
}

func TestPushTag_RemoteUnavailable(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git push origin refs/tags/patch-id/42-login": {
			stderr: "fatal: Could not read from remote repository.",
			exit:   128,
		},
	}}
	d := NewDriverWithRunner("/repo", runner)

	_, err := d.PushTag(context.Background(), "patch-id/42-login")
	if kind, ok := KindOf(err); !ok || kind != ErrRemoteUnavailable {
		t.Fatalf("expected ErrRemoteUnavailable, got %v", err)
	}
}

func TestIsClean(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git status --porcelain": {stdout: ""},
	}}
	d := NewDriverWithRunner("/repo", runner)

	clean, err := d.IsClean(context.Background())
	if err != nil {
		t.Fatalf("IsClean failed: %v", err)
	}
	if !clean {
		t.Error("expected clean")
	}

	runner.results["git status --porcelain"] = fakeResult{stdout: "?? junk.txt\n"}
	clean, err = d.IsClean(context.Background())
	if err != nil {
		t.Fatalf("IsClean failed: %v", err)
	}
	if clean {
		t.Error("expected dirty")
	}
}

func TestListTags(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git tag --list lock-ho-prod-*": {stdout: "lock-ho-prod-170000\nlock-ho-prod-171000"},
	}}
	d := NewDriverWithRunner("/repo", runner)

	tags, err := d.ListTags(context.Background(), "lock-ho-prod-*")
	if err != nil {
		t.Fatalf("ListTags failed: %v", err)
	}
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", tags)
	}
}

func TestMerge_ConflictAborts(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{results: map[string]fakeResult{
		"git merge --no-ff -m msg ho-patch/42": {
			stderr: "CONFLICT (content): Merge conflict in Patches/42/01.sql",
			exit:   1,
		},
	}}
	d := NewDriverWithRunner("/repo", runner)

	err := d.Merge(context.Background(), "ho-patch/42", "msg")
	if kind, ok := KindOf(err); !ok || kind != ErrMergeConflict {
		t.Fatalf("expected ErrMergeConflict, got %v", err)
	}

	aborted := false
	for _, call := range runner.calls {
		if call == "git merge --abort" {
			aborted = true
		}
	}
	if !aborted {
		t.Error("expected merge --abort after conflict")
	}
}
