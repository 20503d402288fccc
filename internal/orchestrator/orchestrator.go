// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package orchestrator wires the workflow components together and exposes
// the stable operation surface consumed by the CLI. It owns the working
// copy: every driver borrows it for the duration of one operation, and
// guaranteed cleanup (lock release, validation branch deletion) lives in
// the lifecycles it delegates to.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/half-orm/half-orm-dev/internal/db"
	"github.com/half-orm/half-orm-dev/internal/deploy"
	"github.com/half-orm/half-orm-dev/internal/git"
	"github.com/half-orm/half-orm-dev/internal/lifecycle"
	"github.com/half-orm/half-orm-dev/internal/lockservice"
	"github.com/half-orm/half-orm-dev/internal/manifest"
	"github.com/half-orm/half-orm-dev/internal/migrate"
	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/internal/patches"
	"github.com/half-orm/half-orm-dev/internal/providers/backup/localdir"
	"github.com/half-orm/half-orm-dev/internal/repo"
	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/logging"
	"github.com/half-orm/half-orm-dev/pkg/providers/backup"
	"github.com/half-orm/half-orm-dev/pkg/providers/generator"

	// Register the built-in no-op generator.
	_ "github.com/half-orm/half-orm-dev/internal/providers/generator/none"
)

// Feature: CORE_ORCHESTRATOR

// Options configure an Orchestrator.
type Options struct {
	// Dir is the working copy root.
	Dir string

	// DSN is the PostgreSQL connection string of the attached database.
	// Credential collection is the CLI collaborator's concern.
	DSN string

	// GeneratorID selects the code generator; empty means "none".
	GeneratorID string

	// Verbose enables debug logging.
	Verbose bool
}

// Orchestrator owns the component graph for one working copy.
type Orchestrator struct {
	repo     *repo.Repo
	log      logging.Logger
	comps    *lifecycle.Components
	patch    *lifecycle.PatchLifecycle
	release  *lifecycle.ReleaseLifecycle
	deployer *deploy.Deployer
	migrator *migrate.Migrator
}

// New opens the working copy and wires every component.
func New(opts Options) (*Orchestrator, error) {
	log := logging.NewLogger(opts.Verbose)

	r, err := repo.Open(opts.Dir)
	if err != nil {
		return nil, err
	}

	runner := executil.NewRunner()
	gitDriver := git.NewDriverWithRunner(r.Root(), runner)
	dbDriver := db.NewDriverWithRunner(opts.DSN, log, runner)
	manifests := manifest.NewStore(r.ReleasesDir())
	patchStore := patches.NewStore(r.PatchesDir())
	locks := lockservice.NewService(gitDriver, log)

	generatorID := opts.GeneratorID
	if generatorID == "" {
		generatorID = "none"
	}
	gen, err := generator.Get(generatorID)
	if err != nil {
		_ = r.Close()
		return nil, err
	}

	backups := localdir.New(r.BackupsDir(), opts.DSN)
	if !backup.DefaultRegistry.Has(backups.ID()) {
		backup.DefaultRegistry.Register(backups)
	}

	comps := &lifecycle.Components{
		Repo:      r,
		Git:       gitDriver,
		DB:        dbDriver,
		Manifests: manifests,
		Patches:   patchStore,
		Locks:     locks,
		Generator: gen,
		Backups:   backups,
		Runner:    runner,
		Log:       log,
	}

	return &Orchestrator{
		repo:    r,
		log:     log,
		comps:   comps,
		patch:   lifecycle.NewPatchLifecycle(comps),
		release: lifecycle.NewReleaseLifecycle(comps),
		deployer: &deploy.Deployer{
			Repo:      r,
			DB:        dbDriver,
			Manifests: manifests,
			Patches:   patchStore,
			Backups:   backups,
			Log:       log,
		},
		migrator: migrate.New(log),
	}, nil
}

// Close releases the working copy and the database connection.
func (o *Orchestrator) Close() error {
	err := o.comps.DB.Close()
	if cerr := o.repo.Close(); err == nil {
		err = cerr
	}
	return err
}

// Repo exposes the owned working copy to the CLI for reporting.
func (o *Orchestrator) Repo() *repo.Repo { return o.repo }

// DetectContext classifies the repository situation.
func (o *Orchestrator) DetectContext(ctx context.Context) Context {
	if !o.repo.Config().Devel {
		return CtxSyncOnly
	}
	clean, err := o.comps.Git.IsClean(ctx)
	if err == nil && !clean {
		return CtxDirty
	}
	branch, err := o.comps.Git.CurrentBranch(ctx)
	if err != nil {
		return CtxDevProd
	}
	if _, ok := naming.ParsePatchBranch(branch); ok {
		return CtxDevDev
	}
	return CtxDevProd
}

// guard rejects an operation outside its context.
func (o *Orchestrator) guard(ctx context.Context, op Operation) error {
	c := o.DetectContext(ctx)
	if !Allowed(c, op) {
		return &lifecycle.PreconditionError{
			Message:     fmt.Sprintf("operation %s is not available in context %s", op, c),
			Remediation: fmt.Sprintf("available operations: %v", AllowedOps(c)),
		}
	}
	return nil
}

// NewRelease creates the next release at the given bump level.
func (o *Orchestrator) NewRelease(ctx context.Context, level string) (*lifecycle.CreateReleaseResult, error) {
	if err := o.guard(ctx, OpNewRelease); err != nil {
		return nil, err
	}
	lvl, err := naming.ParseLevel(level)
	if err != nil {
		return nil, &lifecycle.PreconditionError{Message: err.Error()}
	}
	return o.release.CreateRelease(ctx, lvl)
}

// CreatePatch reserves and materializes a patch.
func (o *Orchestrator) CreatePatch(ctx context.Context, id string) (*lifecycle.CreatePatchResult, error) {
	if err := o.guard(ctx, OpCreatePatch); err != nil {
		return nil, err
	}
	return o.patch.CreatePatch(ctx, id)
}

// ApplyPatch replays the current patch against a pristine schema.
func (o *Orchestrator) ApplyPatch(ctx context.Context) error {
	if err := o.guard(ctx, OpApplyPatch); err != nil {
		return err
	}
	return o.patch.ApplyPatch(ctx)
}

// MergePatch validates and integrates the current patch.
func (o *Orchestrator) MergePatch(ctx context.Context) (*lifecycle.MergePatchResult, error) {
	if err := o.guard(ctx, OpMergePatch); err != nil {
		return nil, err
	}
	return o.patch.MergePatch(ctx)
}

// PromoteRC promotes the next eligible release to a release candidate.
func (o *Orchestrator) PromoteRC(ctx context.Context) (*lifecycle.PromoteResult, error) {
	if err := o.guard(ctx, OpPromoteRC); err != nil {
		return nil, err
	}
	return o.release.PromoteRC(ctx)
}

// PromoteProd promotes the active release candidate to production.
func (o *Orchestrator) PromoteProd(ctx context.Context) (*lifecycle.PromoteResult, error) {
	if err := o.guard(ctx, OpPromoteProd); err != nil {
		return nil, err
	}
	return o.release.PromoteProd(ctx)
}

// HotfixOpen reopens a production release for hotfix work.
func (o *Orchestrator) HotfixOpen(ctx context.Context, version string) (*lifecycle.HotfixOpenResult, error) {
	if err := o.guard(ctx, OpHotfixOpen); err != nil {
		return nil, err
	}
	v, err := naming.ParseVersion(version)
	if err != nil {
		return nil, &lifecycle.PreconditionError{Message: err.Error()}
	}
	return o.release.HotfixOpen(ctx, v)
}

// PromoteHotfix promotes the staged hotfix patches of the current branch.
func (o *Orchestrator) PromoteHotfix(ctx context.Context) (*lifecycle.PromoteResult, error) {
	if err := o.guard(ctx, OpPromoteHotfix); err != nil {
		return nil, err
	}
	return o.release.PromoteHotfix(ctx)
}

// Deploy brings the attached database to the target version.
func (o *Orchestrator) Deploy(ctx context.Context, version string) (*deploy.Result, error) {
	if err := o.guard(ctx, OpDeploy); err != nil {
		return nil, err
	}
	v, err := naming.ParseVersion(version)
	if err != nil {
		return nil, &lifecycle.PreconditionError{Message: err.Error()}
	}
	return o.deployer.Deploy(ctx, v)
}

// MigrateRepo runs pending repository layout migrations and commits each.
func (o *Orchestrator) MigrateRepo(ctx context.Context) ([]migrate.Applied, error) {
	if err := o.guard(ctx, OpMigrateRepo); err != nil {
		return nil, err
	}
	applied, err := o.migrator.Run(o.repo)
	if err != nil {
		return applied, err
	}
	for _, a := range applied {
		if a.Outcome != migrate.Migrated {
			continue
		}
		if err := o.comps.Git.Commit(ctx, a.Migration.CommitMessage(), "."); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// Status is the read-only repository report.
type Status struct {
	Context           Context
	Branch            string
	ProductionVersion naming.Version
	DatabaseVersion   string
	Manifest          *manifest.Manifest
	AllowedOps        []Operation
}

// GetStatus reports the current context, versions and, on a release
// branch, the manifest.
func (o *Orchestrator) GetStatus(ctx context.Context) (*Status, error) {
	c := o.DetectContext(ctx)
	status := &Status{Context: c, AllowedOps: AllowedOps(c)}

	if branch, err := o.comps.Git.CurrentBranch(ctx); err == nil {
		status.Branch = branch
		if v, ok := naming.ParseReleaseBranch(branch); ok {
			if m, err := o.comps.Manifests.Load(v); err == nil {
				status.Manifest = m
			}
		}
	}

	target, ok, err := o.repo.CurrentSchemaTarget()
	if err == nil && ok {
		if v, _, parsed := naming.ParseSchemaFileName(target); parsed {
			status.ProductionVersion = v
		}
	}

	if v, phase, found, err := o.comps.DB.ReadCurrentVersion(ctx); err == nil && found {
		status.DatabaseVersion = v.String() + " (" + phase + ")"
	} else if err != nil {
		status.DatabaseVersion = "unreachable"
	}

	return status, nil
}

// ErrOutsideRepo is re-exported for the CLI collaborator.
var ErrOutsideRepo = repo.ErrOutsideRepo
