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
	"fmt"

	"github.com/half-orm/half-orm-dev/pkg/model"
)

// schemaModel is the pg_catalog-backed model.SchemaModel.
type schemaModel struct {
	driver    *Driver
	database  string
	relations []model.Relation
}

// Introspect builds a SchemaModel from the connected database. Callers
// re-introspect after every apply step.
func (d *Driver) Introspect(ctx context.Context) (model.SchemaModel, error) {
	conn, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}

	var database string
	if err := conn.QueryRowContext(ctx, "SELECT current_database()").Scan(&database); err != nil {
		return nil, classifyConnErr(err)
	}

	m := &schemaModel{driver: d, database: database}
	if err := m.Reload(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *schemaModel) Database() string { return m.database }

func (m *schemaModel) Relations(ctx context.Context) ([]model.Relation, error) {
	return m.relations, nil
}

// Reload refreshes the relation list from pg_catalog, columns included,
// in (schema, name) order.
func (m *schemaModel) Reload(ctx context.Context) error {
	conn, err := m.driver.conn(ctx)
	if err != nil {
		return err
	}

	rows, err := conn.QueryContext(ctx, fmt.Sprintf(`
		SELECT n.nspname, c.relname, c.relkind,
		       a.attname, format_type(a.atttypid, a.atttypmod), a.attnotnull,
		       COALESCE(a.attnum = ANY(i.indkey), false)
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum > 0 AND NOT a.attisdropped
		LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary
		WHERE c.relkind IN ('r', 'v')
		  AND n.nspname NOT LIKE 'pg\_%%'
		  AND n.nspname NOT IN ('information_schema', '%s')
		ORDER BY n.nspname, c.relname, a.attnum`, MetaSchema))
	if err != nil {
		return classifyConnErr(err)
	}
	defer rows.Close()

	var relations []model.Relation
	var current *model.Relation
	for rows.Next() {
		var schema, name, kind, colName, colType string
		var notNull, isPKey bool
		if err := rows.Scan(&schema, &name, &kind, &colName, &colType, &notNull, &isPKey); err != nil {
			return classifyConnErr(err)
		}

		if current == nil || current.Schema != schema || current.Name != name {
			relKind := model.KindTable
			if kind == "v" {
				relKind = model.KindView
			}
			relations = append(relations, model.Relation{Schema: schema, Name: name, Kind: relKind})
			current = &relations[len(relations)-1]
		}
		current.Columns = append(current.Columns, model.Column{
			Name:    colName,
			Type:    colType,
			NotNull: notNull,
			IsPKey:  isPKey,
		})
	}
	if err := rows.Err(); err != nil {
		return classifyConnErr(err)
	}

	m.relations = relations
	return nil
}
