// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package naming

import (
	"fmt"
	"strings"
)

// Git reference conventions of the workflow.
const (
	// ProdBranch is the permanent trunk.
	ProdBranch = "ho-prod"

	releaseBranchPrefix  = "ho-release/"
	patchBranchPrefix    = "ho-patch/"
	validateBranchPrefix = "ho-validate/"
)

// ReleaseBranch formats the integration branch for a version.
func ReleaseBranch(v Version) string {
	return releaseBranchPrefix + v.String()
}

// ParseReleaseBranch extracts the version from a release branch name.
func ParseReleaseBranch(branch string) (Version, bool) {
	rest, ok := strings.CutPrefix(branch, releaseBranchPrefix)
	if !ok {
		return Version{}, false
	}
	v, err := ParseVersion(rest)
	if err != nil {
		return Version{}, false
	}
	return v, true
}

// PatchBranch formats the development branch for a patch.
func PatchBranch(id PatchID) string {
	return patchBranchPrefix + string(id)
}

// ParsePatchBranch extracts the patch id from a patch branch name.
func ParsePatchBranch(branch string) (PatchID, bool) {
	rest, ok := strings.CutPrefix(branch, patchBranchPrefix)
	if !ok {
		return "", false
	}
	id, err := ParsePatchID(rest)
	if err != nil {
		return "", false
	}
	return id, true
}

// ValidateBranch formats the ephemeral validation branch for a patch.
func ValidateBranch(id PatchID) string {
	return validateBranchPrefix + string(id)
}

// ReleaseTag formats the production promotion marker.
func ReleaseTag(v Version) string {
	return "release-" + v.String()
}

// RCTag formats the release-candidate promotion marker.
func RCTag(v Version, n int) string {
	return fmt.Sprintf("release-rc-%s-%d", v, n)
}

// HotfixTag formats the hotfix promotion marker.
func HotfixTag(v Version, n int) string {
	return fmt.Sprintf("release-%s-hotfix%d", v, n)
}
