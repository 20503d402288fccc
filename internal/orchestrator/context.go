// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package orchestrator

// Feature: CORE_CONTEXT

// Operation names the user-facing operations.
type Operation string

const (
	OpNewRelease    Operation = "new-release"
	OpCreatePatch   Operation = "create-patch"
	OpApplyPatch    Operation = "apply"
	OpMergePatch    Operation = "merge"
	OpPromoteRC     Operation = "promote-rc"
	OpPromoteProd   Operation = "promote-prod"
	OpHotfixOpen    Operation = "hotfix"
	OpPromoteHotfix Operation = "promote-hotfix"
	OpDeploy        Operation = "deploy"
	OpStatus        Operation = "status"
	OpMigrateRepo   Operation = "migrate-repo"
)

// Context classifies the repository situation at startup. The available
// operations are a pure function of it.
type Context string

const (
	// CtxOutside: the directory is not a hop repository.
	CtxOutside Context = "outside"
	// CtxDirty: the worktree has uncommitted changes.
	CtxDirty Context = "dirty"
	// CtxDevProd: a development clone on the trunk or a release branch.
	CtxDevProd Context = "dev-prod"
	// CtxDevDev: a development clone on a patch branch.
	CtxDevDev Context = "dev-dev"
	// CtxSyncOnly: a sync-only clone (devel: false).
	CtxSyncOnly Context = "sync-only"
)

// allowedOps maps each context to its operation set, computed at startup.
var allowedOps = map[Context][]Operation{
	CtxOutside: {},
	CtxDirty:   {OpStatus},
	CtxDevProd: {
		OpNewRelease, OpCreatePatch,
		OpPromoteRC, OpPromoteProd,
		OpHotfixOpen, OpPromoteHotfix,
		OpDeploy, OpStatus, OpMigrateRepo,
	},
	CtxDevDev:   {OpApplyPatch, OpMergePatch, OpStatus},
	CtxSyncOnly: {OpDeploy, OpStatus},
}

// Allowed reports whether op is available in ctx.
func Allowed(ctx Context, op Operation) bool {
	for _, allowed := range allowedOps[ctx] {
		if allowed == op {
			return true
		}
	}
	return false
}

// AllowedOps returns the operation set of a context.
func AllowedOps(ctx Context) []Operation {
	ops := make([]Operation, len(allowedOps[ctx]))
	copy(ops, allowedOps[ctx])
	return ops
}
