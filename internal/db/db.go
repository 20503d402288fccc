// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package db drives the target PostgreSQL database: schema resets, patch
// file application, versioned dumps and the half_orm_meta.hop_release
// tracking table.
//
// Queries go through pgx; file execution and dumps shell out to psql and
// pg_dump so their output is byte-identical to what an operator would get
// by hand. No superuser rights are required: resets drop only the schemas
// the connected role owns.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/half-orm/half-orm-dev/internal/naming"
	"github.com/half-orm/half-orm-dev/pkg/executil"
	"github.com/half-orm/half-orm-dev/pkg/logging"
)

// Feature: CORE_DB_DRIVER

// MetaSchema holds the release-tracking table.
const MetaSchema = "half_orm_meta"

// Driver executes SQL against a single target database.
type Driver struct {
	dsn    string
	db     *sql.DB
	runner executil.Runner
	log    logging.Logger
}

// NewDriver creates a Driver for the given connection string.
func NewDriver(dsn string, log logging.Logger) *Driver {
	return NewDriverWithRunner(dsn, log, executil.NewRunner())
}

// NewDriverWithRunner allows injecting a runner for tests.
func NewDriverWithRunner(dsn string, log logging.Logger, runner executil.Runner) *Driver {
	return &Driver{dsn: dsn, runner: runner, log: log}
}

// DSN returns the connection string.
func (d *Driver) DSN() string { return d.dsn }

// conn lazily opens the pgx connection pool.
func (d *Driver) conn(ctx context.Context) (*sql.DB, error) {
	if d.db != nil {
		return d.db, nil
	}
	db, err := sql.Open("pgx", d.dsn)
	if err != nil {
		return nil, classifyConnErr(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifyConnErr(err)
	}
	d.db = db
	return db, nil
}

// Close releases the connection pool.
func (d *Driver) Close() error {
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

// psql runs psql against the target with ON_ERROR_STOP so the first failing
// statement aborts the session.
func (d *Driver) psql(ctx context.Context, args ...string) (*executil.Result, error) {
	full := append([]string{"--set", "ON_ERROR_STOP=1", "--quiet", "--dbname", d.dsn}, args...)
	cmd := executil.NewCommand("psql", full...)
	return d.runner.Run(ctx, cmd)
}

// ResetToSchema brings the database to the exact state of the given schema
// snapshot: every non-system schema owned by the connected role is dropped
// with CASCADE, public is recreated, and the snapshot is loaded through
// psql. Extensions, foreign servers and database-level settings survive.
func (d *Driver) ResetToSchema(ctx context.Context, schemaPath string) error {
	db, err := d.conn(ctx)
	if err != nil {
		return err
	}

	schemas, err := d.ownedSchemas(ctx, db)
	if err != nil {
		return err
	}

	for _, schema := range schemas {
		stmt := fmt.Sprintf("DROP SCHEMA %s CASCADE", quoteIdent(schema))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classifyConnErr(err)
		}
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS public"); err != nil {
		return classifyConnErr(err)
	}

	if result, err := d.psql(ctx, "--file", schemaPath); err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(string(result.Stderr))
		}
		return &Error{Kind: ErrSQL, File: schemaPath, Message: stderr, Cause: err}
	}
	d.log.Debug("schema reset", logging.NewField("snapshot", filepath.Base(schemaPath)))
	return nil
}

// ownedSchemas lists the non-system schemas owned by the connected role.
func (d *Driver) ownedSchemas(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT n.nspname
		FROM pg_namespace n
		JOIN pg_roles r ON r.oid = n.nspowner
		WHERE r.rolname = current_user
		  AND n.nspname NOT LIKE 'pg\_%'
		  AND n.nspname <> 'information_schema'`)
	if err != nil {
		return nil, classifyConnErr(err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classifyConnErr(err)
		}
		schemas = append(schemas, name)
	}
	return schemas, rows.Err()
}

// quoteIdent double-quotes a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ApplySQLFile executes one SQL file in a single psql session, stopping at
// the first error. The error carries the file path and psql's stderr.
func (d *Driver) ApplySQLFile(ctx context.Context, path string) error {
	result, err := d.psql(ctx, "--single-transaction", "--file", path)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(string(result.Stderr))
		}
		return &Error{Kind: ErrSQL, File: path, Message: stderr, Cause: err}
	}
	return nil
}

// ScriptContext is the execution context injected into patch scripts.
type ScriptContext struct {
	// Database is the database name the script targets.
	Database string
	// Version is the release version under work.
	Version string
}

// ApplyScriptFile executes a Python patch script. The connection string and
// context are injected through the environment; the script talks to the
// database with the half_orm model it imports.
func (d *Driver) ApplyScriptFile(ctx context.Context, path string, sctx ScriptContext) error {
	cmd := executil.NewCommand("python3", path)
	cmd.Env = map[string]string{
		"HOP_DSN":      d.dsn,
		"HOP_DATABASE": sctx.Database,
		"HOP_VERSION":  sctx.Version,
	}
	result, err := d.runner.Run(ctx, cmd)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(string(result.Stderr))
		}
		return &Error{Kind: ErrSQL, File: path, Message: stderr, Cause: err}
	}
	return nil
}

// pgDump runs pg_dump with the given args, writing to outPath.
func (d *Driver) pgDump(ctx context.Context, outPath string, args ...string) error {
	full := append([]string{"--dbname", d.dsn, "--file", outPath}, args...)
	cmd := executil.NewCommand("pg_dump", full...)
	result, err := d.runner.Run(ctx, cmd)
	if err != nil {
		stderr := ""
		if result != nil {
			stderr = strings.TrimSpace(string(result.Stderr))
		}
		return &Error{Kind: ErrInternal, File: outPath, Message: "pg_dump: " + stderr, Cause: err}
	}
	return nil
}

// SchemaDumpName formats the versioned schema file name, with an optional
// hotfix suffix.
func SchemaDumpName(v naming.Version, hotfix int) string {
	if hotfix > 0 {
		return fmt.Sprintf("schema-%s-hotfix%d.sql", v, hotfix)
	}
	return fmt.Sprintf("schema-%s.sql", v)
}

// MetadataDumpName formats the versioned metadata file name.
func MetadataDumpName(v naming.Version, hotfix int) string {
	if hotfix > 0 {
		return fmt.Sprintf("metadata-%s-hotfix%d.sql", v, hotfix)
	}
	return fmt.Sprintf("metadata-%s.sql", v)
}

// SeedDumpName formats the versioned seed file name.
func SeedDumpName(v naming.Version, hotfix int) string {
	if hotfix > 0 {
		return fmt.Sprintf("seed-%s-hotfix%d.sql", v, hotfix)
	}
	return fmt.Sprintf("seed-%s.sql", v)
}

// DumpSchema writes the schema-only snapshot for v under modelDir and
// returns the file name. pg_dump writes extensions as CREATE EXTENSION IF
// NOT EXISTS, so a reset replay tolerates the extensions a reset keeps;
// other objects are plain CREATE statements.
func (d *Driver) DumpSchema(ctx context.Context, modelDir string, v naming.Version, hotfix int) (string, error) {
	name := SchemaDumpName(v, hotfix)
	err := d.pgDump(ctx, filepath.Join(modelDir, name),
		"--schema-only",
		"--no-owner",
		"--no-privileges",
		"--exclude-schema", MetaSchema,
	)
	if err != nil {
		return "", err
	}
	return name, nil
}

// DumpMetadata writes the half_orm_meta data snapshot for v and returns
// the file name.
func (d *Driver) DumpMetadata(ctx context.Context, modelDir string, v naming.Version, hotfix int) (string, error) {
	name := MetadataDumpName(v, hotfix)
	err := d.pgDump(ctx, filepath.Join(modelDir, name),
		"--data-only",
		"--schema", MetaSchema,
	)
	if err != nil {
		return "", err
	}
	return name, nil
}

// DumpSeed writes a data-only snapshot of the given tables for v and
// returns the file name. No tables means no seed file.
func (d *Driver) DumpSeed(ctx context.Context, modelDir string, v naming.Version, hotfix int, tables []string) (string, error) {
	if len(tables) == 0 {
		return "", nil
	}
	name := SeedDumpName(v, hotfix)
	args := []string{"--data-only"}
	for _, table := range tables {
		args = append(args, "--table", table)
	}
	if err := d.pgDump(ctx, filepath.Join(modelDir, name), args...); err != nil {
		return "", err
	}
	return name, nil
}

// LoadFile loads a dump file through psql. Used by the deployer fast path.
func (d *Driver) LoadFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return &Error{Kind: ErrInternal, File: path, Message: "dump file missing", Cause: err}
	}
	return d.ApplySQLFile(ctx, path)
}

// EnsureMetaTable creates the tracking schema and table when missing.
func (d *Driver) EnsureMetaTable(ctx context.Context) error {
	db, err := d.conn(ctx)
	if err != nil {
		return err
	}
	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", MetaSchema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.hop_release (
			major integer NOT NULL,
			minor integer NOT NULL,
			patch integer NOT NULL,
			pre_release text NOT NULL DEFAULT '',
			pre_release_num integer NOT NULL DEFAULT 0,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, MetaSchema),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classifyConnErr(err)
		}
	}
	return nil
}

// ReadCurrentVersion queries the most recent hop_release row. found is
// false when the table is empty or absent. A connection failure is
// returned as an error; there is no fallback to the model/schema.sql
// symlink.
func (d *Driver) ReadCurrentVersion(ctx context.Context) (v naming.Version, phase string, found bool, err error) {
	db, err := d.conn(ctx)
	if err != nil {
		return naming.Version{}, "", false, err
	}

	row := db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT major, minor, patch, pre_release, pre_release_num
		FROM %s.hop_release
		ORDER BY created_at DESC
		LIMIT 1`, MetaSchema))

	var pre string
	var preNum int
	if err := row.Scan(&v.Major, &v.Minor, &v.Patch, &pre, &preNum); err != nil {
		if err == sql.ErrNoRows {
			return naming.Version{}, "", false, nil
		}
		// 42P01: the tracking table does not exist yet.
		if strings.Contains(err.Error(), "42P01") || strings.Contains(err.Error(), "does not exist") {
			return naming.Version{}, "", false, nil
		}
		return naming.Version{}, "", false, classifyConnErr(err)
	}

	phase = "production"
	if pre != "" {
		phase = fmt.Sprintf("%s%d", pre, preNum)
	}
	return v, phase, true, nil
}

// WriteReleaseRow inserts a tracking row at deploy time.
func (d *Driver) WriteReleaseRow(ctx context.Context, v naming.Version, phase naming.Phase) error {
	if err := d.EnsureMetaTable(ctx); err != nil {
		return err
	}
	db, err := d.conn(ctx)
	if err != nil {
		return err
	}

	pre := ""
	preNum := 0
	switch phase.Kind {
	case naming.PhaseCandidate:
		pre, preNum = "rc", phase.N
	case naming.PhaseHotfix:
		pre, preNum = "hotfix", phase.N
	}

	_, err = db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s.hop_release (major, minor, patch, pre_release, pre_release_num)
		VALUES ($1, $2, $3, $4, $5)`, MetaSchema),
		v.Major, v.Minor, v.Patch, pre, preNum)
	if err != nil {
		return classifyConnErr(err)
	}
	return nil
}
