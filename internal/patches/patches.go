// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package patches manages the Patches/<id>/ directories at the repository
// root. A patch directory holds an unordered set of files; the executable
// subset (.sql, .py) is applied in strict lexicographic order.
package patches

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/half-orm/half-orm-dev/internal/naming"
)

// Feature: CORE_PATCH_STORE

// executableExtensions are the file extensions the applier executes.
var executableExtensions = map[string]bool{
	".sql": true,
	".py":  true,
}

// Store manages patch directories under a single root.
type Store struct {
	root string
}

// NewStore creates a Store over the Patches/ directory.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the Patches/ directory.
func (s *Store) Root() string { return s.root }

// Dir returns the directory of a patch.
func (s *Store) Dir(id naming.PatchID) string {
	return filepath.Join(s.root, string(id))
}

// Exists reports whether the patch directory exists.
func (s *Store) Exists(id naming.PatchID) bool {
	info, err := os.Stat(s.Dir(id))
	return err == nil && info.IsDir()
}

// Create creates the patch directory with a minimal README.
func (s *Store) Create(id naming.PatchID) error {
	dir := s.Dir(id)
	if s.Exists(id) {
		return fmt.Errorf("patch directory already exists: %s", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	readme := fmt.Sprintf("# Patch %s\n\nSQL (.sql) and Python (.py) files in this directory are applied in\nlexicographic order. Other files are ignored.\n", id)
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("writing patch README: %w", err)
	}
	return nil
}

// ExecutableFiles returns the absolute paths of the patch's executable
// files, sorted lexicographically by file name.
func (s *Store) ExecutableFiles(id naming.PatchID) ([]string, error) {
	dir := s.Dir(id)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if executableExtensions[ext] {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

// Validate checks the structural requirements of a patch: the directory
// exists, is non-empty, and holds at least one executable file.
func (s *Store) Validate(id naming.PatchID) error {
	if !s.Exists(id) {
		return fmt.Errorf("patch %s: directory %s does not exist", id, s.Dir(id))
	}
	files, err := s.ExecutableFiles(id)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("patch %s: no executable files (.sql or .py) in %s", id, s.Dir(id))
	}
	return nil
}

// Delete removes a patch directory. Used by create-patch rollback before
// the reservation point of no return.
func (s *Store) Delete(id naming.PatchID) error {
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("removing %s: %w", s.Dir(id), err)
	}
	return nil
}
