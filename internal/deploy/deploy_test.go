// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/naming"
)

func mustVersion(t *testing.T, s string) naming.Version {
	t.Helper()
	v, err := naming.ParseVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func writeReleases(t *testing.T, dir string, names ...string) *manifest.Store {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("# release\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return manifest.NewStore(dir)
}

func planFileNames(t *testing.T, d *Deployer, current string, haveCurrent bool, currentHotfix int, target string) []string {
	t.Helper()
	var cur naming.Version
	if haveCurrent {
		cur = mustVersion(t, current)
	}
	chain, err := d.plan(cur, haveCurrent, currentHotfix, mustVersion(t, target))
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var names []string
	for _, rf := range chain {
		names = append(names, rf.FileName())
	}
	return names
}

func TestPlan_ChainWithHotfixes(t *testing.T) {
	t.Parallel()

	store := writeReleases(t, t.TempDir(),
		"1.3.3.txt",
		"1.3.4.txt",
		"1.3.4-hotfix1.txt",
		"1.3.4-hotfix2.txt",
		"1.4.0.txt",
		"1.4.0-rc1.txt",
	)
	d := &Deployer{Manifests: store}

	got := planFileNames(t, d, "1.3.3", true, 0, "1.4.0")
	want := []string{"1.3.4.txt", "1.3.4-hotfix1.txt", "1.3.4-hotfix2.txt", "1.4.0.txt"}
	if len(got) != len(want) {
		t.Fatalf("plan = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("plan[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPlan_PendingHotfixOfCurrentVersion(t *testing.T) {
	t.Parallel()

	store := writeReleases(t, t.TempDir(),
		"1.3.4.txt",
		"1.3.4-hotfix1.txt",
		"1.3.4-hotfix2.txt",
	)
	d := &Deployer{Manifests: store}

	// Database sits at 1.3.4 hotfix1; only hotfix2 remains.
	got := planFileNames(t, d, "1.3.4", true, 1, "1.3.4")
	if len(got) != 1 || got[0] != "1.3.4-hotfix2.txt" {
		t.Errorf("plan = %v, want [1.3.4-hotfix2.txt]", got)
	}
}

func TestPlan_TargetBound(t *testing.T) {
	t.Parallel()

	store := writeReleases(t, t.TempDir(),
		"0.2.0.txt",
		"0.3.0.txt",
		"1.0.0.txt",
	)
	d := &Deployer{Manifests: store}

	got := planFileNames(t, d, "0.2.0", true, 0, "0.3.0")
	if len(got) != 1 || got[0] != "0.3.0.txt" {
		t.Errorf("plan = %v, want [0.3.0.txt]", got)
	}
}

func TestPlan_NothingToDo(t *testing.T) {
	t.Parallel()

	store := writeReleases(t, t.TempDir(), "1.3.4.txt")
	d := &Deployer{Manifests: store}

	got := planFileNames(t, d, "1.3.4", true, 0, "1.3.4")
	if len(got) != 0 {
		t.Errorf("plan = %v, want empty", got)
	}
}

func TestParseHotfixPhase(t *testing.T) {
	t.Parallel()

	cases := []struct {
		phase string
		want  int
	}{
		{"production", 0},
		{"hotfix1", 1},
		{"hotfix12", 12},
		{"rc2", 0},
		{"hotfixx", 0},
	}
	for _, tc := range cases {
		if got := parseHotfixPhase(tc.phase); got != tc.want {
			t.Errorf("parseHotfixPhase(%q) = %d, want %d", tc.phase, got, tc.want)
		}
	}
}

func TestDatabaseLabel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		dsn  string
		want string
	}{
		{"postgres://u:p@localhost:5432/app", "app"},
		{"postgres://u@localhost/app?sslmode=disable", "app"},
		{"", "db"},
	}
	for _, tc := range cases {
		if got := databaseLabel(tc.dsn); got != tc.want {
			t.Errorf("databaseLabel(%q) = %q, want %q", tc.dsn, got, tc.want)
		}
	}
}
