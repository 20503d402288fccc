// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package naming defines release versions, release phases and patch
// identifiers, and the mapping between versions and on-disk release files.
package naming

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Feature: CORE_NAMING

// Version is a semantic version triple with a total order.
type Version struct {
	Major int
	Minor int
	Patch int
}

// Zero is the version of a repository with no production release yet.
var Zero = Version{0, 0, 0}

var versionRe = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)

// ParseVersion parses "X.Y.Z".
func ParseVersion(s string) (Version, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q: want X.Y.Z", s)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, nil
}

// String formats the version as "X.Y.Z".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// canonical returns the "vX.Y.Z" form consumed by golang.org/x/mod/semver.
func (v Version) canonical() string {
	return "v" + v.String()
}

// Compare returns -1, 0 or +1 comparing v to other in semver order.
func (v Version) Compare(other Version) int {
	return semver.Compare(v.canonical(), other.canonical())
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// IsZero reports whether v is 0.0.0.
func (v Version) IsZero() bool {
	return v == Zero
}

// Level is a version bump level.
type Level string

const (
	LevelPatch Level = "patch"
	LevelMinor Level = "minor"
	LevelMajor Level = "major"
)

// ParseLevel validates a bump level.
func ParseLevel(s string) (Level, error) {
	switch Level(s) {
	case LevelPatch, LevelMinor, LevelMajor:
		return Level(s), nil
	default:
		return "", fmt.Errorf("invalid release level %q: want patch, minor or major", s)
	}
}

// Next bumps the given level and zeroes the lower fields.
func (v Version) Next(level Level) Version {
	switch level {
	case LevelMajor:
		return Version{Major: v.Major + 1}
	case LevelMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}
	default:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
	}
}

// IsSuccessorOf reports whether v is an immediate semver successor of prev,
// i.e. v equals prev bumped at exactly one level.
func (v Version) IsSuccessorOf(prev Version) bool {
	return v == prev.Next(LevelPatch) || v == prev.Next(LevelMinor) || v == prev.Next(LevelMajor)
}

// PhaseKind tags the variants of ReleasePhase.
type PhaseKind string

const (
	PhaseDevelopment PhaseKind = "development"
	PhaseCandidate   PhaseKind = "candidate"
	PhaseProduction  PhaseKind = "production"
	PhaseHotfix      PhaseKind = "hotfix"
)

// Phase classifies a release file: Development (mutable manifest),
// Candidate n, Production, or Hotfix n.
type Phase struct {
	Kind PhaseKind
	// N is the RC or hotfix number; zero for Development and Production.
	N int
}

// String renders the phase for messages and tracking rows.
func (p Phase) String() string {
	switch p.Kind {
	case PhaseCandidate:
		return fmt.Sprintf("rc%d", p.N)
	case PhaseHotfix:
		return fmt.Sprintf("hotfix%d", p.N)
	default:
		return string(p.Kind)
	}
}

// ReleaseFile couples a version with its phase.
type ReleaseFile struct {
	Version Version
	Phase   Phase
}

// FileName returns the release file name for the version/phase pair.
//
//	Development: X.Y.Z-patches.toml
//	Candidate n: X.Y.Z-rcN.txt
//	Production:  X.Y.Z.txt
//	Hotfix n:    X.Y.Z-hotfixN.txt
func (rf ReleaseFile) FileName() string {
	switch rf.Phase.Kind {
	case PhaseDevelopment:
		return rf.Version.String() + "-patches.toml"
	case PhaseCandidate:
		return fmt.Sprintf("%s-rc%d.txt", rf.Version, rf.Phase.N)
	case PhaseHotfix:
		return fmt.Sprintf("%s-hotfix%d.txt", rf.Version, rf.Phase.N)
	default:
		return rf.Version.String() + ".txt"
	}
}

var (
	manifestFileRe = regexp.MustCompile(`^(\d+\.\d+\.\d+)-patches\.toml$`)
	rcFileRe       = regexp.MustCompile(`^(\d+\.\d+\.\d+)-rc(\d+)\.txt$`)
	hotfixFileRe   = regexp.MustCompile(`^(\d+\.\d+\.\d+)-hotfix(\d+)\.txt$`)
	prodFileRe     = regexp.MustCompile(`^(\d+\.\d+\.\d+)\.txt$`)
)

// ParseReleaseFileName classifies a file under .hop/releases.
// Unknown names return ok=false rather than an error so directory scans
// can skip foreign files.
func ParseReleaseFileName(name string) (ReleaseFile, bool) {
	if m := manifestFileRe.FindStringSubmatch(name); m != nil {
		v, _ := ParseVersion(m[1])
		return ReleaseFile{Version: v, Phase: Phase{Kind: PhaseDevelopment}}, true
	}
	if m := rcFileRe.FindStringSubmatch(name); m != nil {
		v, _ := ParseVersion(m[1])
		n, _ := strconv.Atoi(m[2])
		if n == 0 {
			return ReleaseFile{}, false
		}
		return ReleaseFile{Version: v, Phase: Phase{Kind: PhaseCandidate, N: n}}, true
	}
	if m := hotfixFileRe.FindStringSubmatch(name); m != nil {
		v, _ := ParseVersion(m[1])
		n, _ := strconv.Atoi(m[2])
		if n == 0 {
			return ReleaseFile{}, false
		}
		return ReleaseFile{Version: v, Phase: Phase{Kind: PhaseHotfix, N: n}}, true
	}
	if m := prodFileRe.FindStringSubmatch(name); m != nil {
		v, _ := ParseVersion(m[1])
		return ReleaseFile{Version: v, Phase: Phase{Kind: PhaseProduction}}, true
	}
	return ReleaseFile{}, false
}

// schemaFileRe captures the version (and optional hotfix number) of a
// model/schema-X.Y.Z[-hotfixN].sql file name or symlink target.
var schemaFileRe = regexp.MustCompile(`^schema-(\d+\.\d+\.\d+)(?:-hotfix(\d+))?\.sql$`)

// ParseSchemaFileName parses a versioned schema snapshot file name.
func ParseSchemaFileName(name string) (Version, int, bool) {
	m := schemaFileRe.FindStringSubmatch(name)
	if m == nil {
		return Version{}, 0, false
	}
	v, _ := ParseVersion(m[1])
	hotfix := 0
	if m[2] != "" {
		hotfix, _ = strconv.Atoi(m[2])
	}
	return v, hotfix, true
}

// PatchID is a patch identifier. The leading integer is the external issue
// number used for autoclose in commit messages.
type PatchID string

var patchIDRe = regexp.MustCompile(`^[0-9]+(-[A-Za-z0-9._-]+)?$`)

// ParsePatchID validates a patch identifier.
func ParsePatchID(s string) (PatchID, error) {
	if !patchIDRe.MatchString(s) {
		return "", fmt.Errorf("invalid patch id %q: want <issue-number>[-<slug>]", s)
	}
	return PatchID(s), nil
}

// IssueNumber returns the leading integer of the patch id.
func (id PatchID) IssueNumber() int {
	s := string(id)
	if i := strings.IndexByte(s, '-'); i >= 0 {
		s = s[:i]
	}
	n, _ := strconv.Atoi(s)
	return n
}

func (id PatchID) String() string {
	return string(id)
}
