// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/logging"
)

type fakeRunner struct {
	calls  []executil.Command
	stderr string
	exit   int
}

func (f *fakeRunner) Run(ctx context.Context, cmd executil.Command) (*executil.Result, error) {
	f.calls = append(f.calls, cmd)
	result := &executil.Result{ExitCode: f.exit, Stderr: []byte(f.stderr)}
	if f.exit != 0 {
		return result, fmt.Errorf("command failed with exit code %d", f.exit)
	}
	return result, nil
}

func (f *fakeRunner) RunStream(ctx context.Context, cmd executil.Command, output io.Writer) error {
	_, err := f.Run(ctx, cmd)
	return err
}

func TestDumpNames(t *testing.T) {
	t.Parallel()

	v := naming.Version{Major: 1, Minor: 3, Patch: 4}

	if got := SchemaDumpName(v, 0); got != "schema-1.3.4.sql" {
		t.Errorf("SchemaDumpName = %q", got)
	}
	if got := SchemaDumpName(v, 2); got != "schema-1.3.4-hotfix2.sql" {
		t.Errorf("SchemaDumpName hotfix = %q", got)
	}
	if got := MetadataDumpName(v, 0); got != "metadata-1.3.4.sql" {
		t.Errorf("MetadataDumpName = %q", got)
	}
	if got := SeedDumpName(v, 1); got != "seed-1.3.4-hotfix1.sql" {
		t.Errorf("SeedDumpName = %q", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	t.Parallel()

	if got := quoteIdent("public"); got != `"public"` {
		t.Errorf("quoteIdent = %s", got)
	}
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("quoteIdent = %s", got)
	}
}

func TestClassifyConnErr(t *testing.T) {
	t.Parallel()

	err := classifyConnErr(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
	if err.Kind != ErrUnreachable {
		t.Errorf("expected ErrUnreachable, got %s", err.Kind)
	}

	err = classifyConnErr(errors.New("something odd"))
	if err.Kind != ErrInternal {
		t.Errorf("expected ErrInternal, got %s", err.Kind)
	}
}

func TestApplySQLFile_PsqlInvocation(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDriverWithRunner("postgres://u@localhost/app", logging.NewLogger(false), runner)

	if err := d.ApplySQLFile(context.Background(), "Patches/42-login/01.sql"); err != nil {
		t.Fatalf("ApplySQLFile failed: %v", err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(runner.calls))
	}
	cmd := runner.calls[0]
	if cmd.Name != "psql" {
		t.Errorf("expected psql, got %s", cmd.Name)
	}
	joined := strings.Join(cmd.Args, " ")
	if !strings.Contains(joined, "ON_ERROR_STOP=1") {
		t.Errorf("expected ON_ERROR_STOP, got %q", joined)
	}
	if !strings.Contains(joined, "--file Patches/42-login/01.sql") {
		t.Errorf("expected file arg, got %q", joined)
	}
}

func TestApplySQLFile_ErrorCarriesFileAndStderr(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{exit: 3, stderr: `psql:01.sql:4: ERROR:  relation "t" already exists`}
	d := NewDriverWithRunner("postgres://u@localhost/app", logging.NewLogger(false), runner)

	err := d.ApplySQLFile(context.Background(), "Patches/42-login/01.sql")
	if err == nil {
		t.Fatal("expected error")
	}
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected db.Error, got %T", err)
	}
	if de.Kind != ErrSQL {
		t.Errorf("expected ErrSQL, got %s", de.Kind)
	}
	if de.File != "Patches/42-login/01.sql" {
		t.Errorf("expected file in error, got %q", de.File)
	}
	if !strings.Contains(de.Message, "already exists") {
		t.Errorf("expected stderr in message, got %q", de.Message)
	}
}

func TestApplyScriptFile_InjectsContext(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDriverWithRunner("postgres://u@localhost/app", logging.NewLogger(false), runner)

	sctx := ScriptContext{Database: "app", Version: "1.3.4"}
	if err := d.ApplyScriptFile(context.Background(), "Patches/42-login/02.py", sctx); err != nil {
		t.Fatalf("ApplyScriptFile failed: %v", err)
	}

	cmd := runner.calls[0]
	if cmd.Name != "python3" {
		t.Errorf("expected python3, got %s", cmd.Name)
	}
	if cmd.Env["HOP_DSN"] != "postgres://u@localhost/app" {
		t.Errorf("expected DSN in env, got %v", cmd.Env)
	}
	if cmd.Env["HOP_VERSION"] != "1.3.4" {
		t.Errorf("expected version in env, got %v", cmd.Env)
	}
}

func TestDumpSchema_Args(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDriverWithRunner("postgres://u@localhost/app", logging.NewLogger(false), runner)

	name, err := d.DumpSchema(context.Background(), "/repo/.hop/model", naming.Version{Major: 1, Minor: 3, Patch: 4}, 0)
	if err != nil {
		t.Fatalf("DumpSchema failed: %v", err)
	}
	if name != "schema-1.3.4.sql" {
		t.Errorf("name = %q", name)
	}

	joined := strings.Join(runner.calls[0].Args, " ")
	if !strings.Contains(joined, "--schema-only") {
		t.Errorf("expected --schema-only, got %q", joined)
	}
	if !strings.Contains(joined, "--exclude-schema half_orm_meta") {
		t.Errorf("expected meta schema excluded, got %q", joined)
	}
}

func TestDumpSeed_NoTablesNoFile(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	d := NewDriverWithRunner("postgres://u@localhost/app", logging.NewLogger(false), runner)

	name, err := d.DumpSeed(context.Background(), "/repo/.hop/model", naming.Version{Major: 1, Minor: 3, Patch: 4}, 0, nil)
	if err != nil {
		t.Fatalf("DumpSeed failed: %v", err)
	}
	if name != "" {
		t.Errorf("expected no file, got %q", name)
	}
	if len(runner.calls) != 0 {
		t.Errorf("expected no pg_dump call, got %d", len(runner.calls))
	}
}
