// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorKind classifies database driver failures.
type ErrorKind string

const (
	// ErrUnreachable indicates the server could not be reached.
	ErrUnreachable ErrorKind = "unreachable"
	// ErrAuthFailed indicates bad credentials.
	ErrAuthFailed ErrorKind = "auth_failed"
	// ErrPermissionDenied indicates the role lacks a required privilege.
	ErrPermissionDenied ErrorKind = "permission_denied"
	// ErrSQL indicates a SQL-level failure; these bubble up unwrapped in
	// the message so the failing statement is visible.
	ErrSQL ErrorKind = "sql"
	// ErrInternal indicates an unclassified driver failure.
	ErrInternal ErrorKind = "internal"
)

// Error is a structured error for database operations.
type Error struct {
	Kind    ErrorKind
	File    string // SQL or script file involved, when any
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("db [%s] %s: %s", e.Kind, e.File, e.Message)
	}
	return fmt.Sprintf("db [%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the ErrorKind of err if it is a db Error.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// classifyConnErr distinguishes unreachable, auth and permission failures.
func classifyConnErr(err error) *Error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000":
			return &Error{Kind: ErrAuthFailed, Message: pgErr.Message, Cause: err}
		case "42501":
			return &Error{Kind: ErrPermissionDenied, Message: pgErr.Message, Cause: err}
		}
		return &Error{Kind: ErrSQL, Message: pgErr.Message, Cause: err}
	}

	msg := err.Error()
	low := strings.ToLower(msg)
	if strings.Contains(low, "connection refused") ||
		strings.Contains(low, "no such host") ||
		strings.Contains(low, "timeout") ||
		strings.Contains(low, "network is unreachable") {
		return &Error{Kind: ErrUnreachable, Message: msg, Cause: err}
	}
	return &Error{Kind: ErrInternal, Message: msg, Cause: err}
}
