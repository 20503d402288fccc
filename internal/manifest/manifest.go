// SPDX-License-Identifier: AGPL-3.0-or-later

/*
hop - hop is a Go-based CLI that manages the lifecycle of PostgreSQL schema patches and releases through a Git-coordinated workflow.

Copyright (C) 2025  The half-orm team

This program is free software licensed under the terms of the GNU AGPL v3 or later.

See https://www.gnu.org/licenses/ for license details.

*/

// Package manifest reads and writes the per-release patch manifests and the
// immutable promotion snapshots under .hop/releases.
//
// The development manifest is a TOML file with a single [patches] table.
// Insertion order is the application order, so decoding goes through
// toml.MetaData.Keys(), which reports keys in order of appearance, and
// writing emits entries verbatim.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/half-orm/half-orm-dev/internal/naming"
)

// Feature: CORE_MANIFEST

// State is the lifecycle state of a patch inside a manifest.
type State string

const (
	// StateCandidate marks a patch with a development branch in progress.
	StateCandidate State = "candidate"
	// StateStaged marks a patch integrated into the release branch and
	// eligible for promotion.
	StateStaged State = "staged"
)

var (
	// ErrNotFound is returned when a release has no manifest on disk.
	ErrNotFound = errors.New("manifest not found")
	// ErrExists is returned when creating a manifest that already exists.
	ErrExists = errors.New("manifest already exists")
	// ErrDuplicatePatch is returned when adding an id already present.
	ErrDuplicatePatch = errors.New("patch already in manifest")
	// ErrUnknownPatch is returned when an id is not in the manifest.
	ErrUnknownPatch = errors.New("patch not in manifest")
	// ErrAlreadyStaged is returned when staging an already-staged id.
	ErrAlreadyStaged = errors.New("patch already staged")
)

// Entry is one manifest row.
type Entry struct {
	ID    naming.PatchID
	State State
}

// Manifest is the ordered patch list of a release under development.
type Manifest struct {
	Version naming.Version
	Entries []Entry
}

// Index returns the position of id, or -1.
func (m *Manifest) Index(id naming.PatchID) int {
	for i, e := range m.Entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// Staged returns the staged subset in manifest order.
func (m *Manifest) Staged() []naming.PatchID {
	var ids []naming.PatchID
	for _, e := range m.Entries {
		if e.State == StateStaged {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Candidates returns the candidate subset in manifest order.
func (m *Manifest) Candidates() []naming.PatchID {
	var ids []naming.PatchID
	for _, e := range m.Entries {
		if e.State == StateCandidate {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Store reads and writes release files in a single directory.
type Store struct {
	dir string
}

// NewStore creates a Store over the given releases directory.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the releases directory.
func (s *Store) Dir() string { return s.dir }

// ManifestPath returns the path of the development manifest for v.
func (s *Store) ManifestPath(v naming.Version) string {
	rf := naming.ReleaseFile{Version: v, Phase: naming.Phase{Kind: naming.PhaseDevelopment}}
	return filepath.Join(s.dir, rf.FileName())
}

// SnapshotPath returns the path of the snapshot file for rf.
func (s *Store) SnapshotPath(rf naming.ReleaseFile) string {
	return filepath.Join(s.dir, rf.FileName())
}

// Exists reports whether v has a development manifest.
func (s *Store) Exists(v naming.Version) bool {
	_, err := os.Stat(s.ManifestPath(v))
	return err == nil
}

// Load reads the development manifest for v, preserving entry order.
func (s *Store) Load(v naming.Version) (*Manifest, error) {
	path := s.ManifestPath(v)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	m.Version = v
	return m, nil
}

// Parse decodes manifest TOML from memory, keeping [patches] key order.
// Used both for on-disk manifests and for blobs read out of Git refs.
func Parse(data []byte) (*Manifest, error) {
	return parse(data)
}

// parse decodes manifest TOML, keeping [patches] key order.
func parse(data []byte) (*Manifest, error) {
	var doc struct {
		Patches map[string]string `toml:"patches"`
	}
	md, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, err
	}

	m := &Manifest{}
	for _, key := range md.Keys() {
		parts := []string(key)
		if len(parts) != 2 || parts[0] != "patches" {
			continue
		}
		id, err := naming.ParsePatchID(parts[1])
		if err != nil {
			return nil, err
		}
		raw, ok := doc.Patches[parts[1]]
		if !ok {
			continue
		}
		state := State(raw)
		if state != StateCandidate && state != StateStaged {
			return nil, fmt.Errorf("patch %s: invalid state %q", id, raw)
		}
		m.Entries = append(m.Entries, Entry{ID: id, State: state})
	}
	return m, nil
}

// Save writes the manifest back, preserving entry order.
func (s *Store) Save(m *Manifest) error {
	var b strings.Builder
	b.WriteString("[patches]\n")
	for _, e := range m.Entries {
		fmt.Fprintf(&b, "%q = %q\n", string(e.ID), string(e.State))
	}
	path := s.ManifestPath(m.Version)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// CreateEmpty creates an empty manifest for v.
func (s *Store) CreateEmpty(v naming.Version) error {
	if s.Exists(v) {
		return fmt.Errorf("%w: %s", ErrExists, s.ManifestPath(v))
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	return s.Save(&Manifest{Version: v})
}

// AddCandidate appends id as a candidate, or inserts it before an existing
// id when before is non-empty. Duplicates and unknown anchors are rejected.
func (s *Store) AddCandidate(v naming.Version, id, before naming.PatchID) error {
	m, err := s.Load(v)
	if err != nil {
		return err
	}
	if m.Index(id) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicatePatch, id)
	}

	entry := Entry{ID: id, State: StateCandidate}
	if before == "" {
		m.Entries = append(m.Entries, entry)
	} else {
		at := m.Index(before)
		if at < 0 {
			return fmt.Errorf("%w: insertion anchor %s", ErrUnknownPatch, before)
		}
		m.Entries = append(m.Entries[:at], append([]Entry{entry}, m.Entries[at:]...)...)
	}
	return s.Save(m)
}

// SetStaged transitions id to staged, preserving its position.
func (s *Store) SetStaged(v naming.Version, id naming.PatchID) error {
	m, err := s.Load(v)
	if err != nil {
		return err
	}
	at := m.Index(id)
	if at < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPatch, id)
	}
	if m.Entries[at].State == StateStaged {
		return fmt.Errorf("%w: %s", ErrAlreadyStaged, id)
	}
	m.Entries[at].State = StateStaged
	return s.Save(m)
}

// Remove deletes id from the manifest.
func (s *Store) Remove(v naming.Version, id naming.PatchID) error {
	m, err := s.Load(v)
	if err != nil {
		return err
	}
	at := m.Index(id)
	if at < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPatch, id)
	}
	m.Entries = append(m.Entries[:at], m.Entries[at+1:]...)
	return s.Save(m)
}

// ClearStaged removes the staged rows, keeping candidates in order. Used
// after an RC snapshot is written.
func (s *Store) ClearStaged(v naming.Version) error {
	m, err := s.Load(v)
	if err != nil {
		return err
	}
	kept := m.Entries[:0]
	for _, e := range m.Entries {
		if e.State != StateStaged {
			kept = append(kept, e)
		}
	}
	m.Entries = kept
	return s.Save(m)
}

// Delete removes the development manifest for v.
func (s *Store) Delete(v naming.Version) error {
	if err := os.Remove(s.ManifestPath(v)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing manifest: %w", err)
	}
	return nil
}

// WriteSnapshot writes an immutable snapshot file with its header comment.
func (s *Store) WriteSnapshot(rf naming.ReleaseFile, ids []naming.PatchID) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Release %s", rf.Version)
	switch rf.Phase.Kind {
	case naming.PhaseCandidate:
		fmt.Fprintf(&b, "-rc%d", rf.Phase.N)
	case naming.PhaseHotfix:
		fmt.Fprintf(&b, "-hotfix%d", rf.Phase.N)
	}
	b.WriteString("\n")
	for _, id := range ids {
		b.WriteString(string(id))
		b.WriteString("\n")
	}
	path := s.SnapshotPath(rf)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// ReadSnapshot reads a snapshot file, skipping comments and blank lines.
func (s *Store) ReadSnapshot(rf naming.ReleaseFile) ([]naming.PatchID, error) {
	path := s.SnapshotPath(rf)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var ids []naming.PatchID
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, err := naming.ParsePatchID(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ids, nil
}

// Rename moves a release file inside the store directory. Promotion paths
// that need Git history preservation use the git driver's mv instead.
func (s *Store) Rename(oldName, newName string) error {
	if err := os.Rename(filepath.Join(s.dir, oldName), filepath.Join(s.dir, newName)); err != nil {
		return fmt.Errorf("renaming release file: %w", err)
	}
	return nil
}

// ListReleaseFiles scans the releases directory and classifies every
// recognized file, sorted by version. Within a version, RC files and hotfix
// files are in number order; files of different phases are ordered by file
// name.
func (s *Store) ListReleaseFiles() ([]naming.ReleaseFile, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.dir, err)
	}

	var files []naming.ReleaseFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if rf, ok := naming.ParseReleaseFileName(entry.Name()); ok {
			files = append(files, rf)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if c := files[i].Version.Compare(files[j].Version); c != 0 {
			return c < 0
		}
		if files[i].Phase.Kind == files[j].Phase.Kind {
			return files[i].Phase.N < files[j].Phase.N
		}
		return files[i].FileName() < files[j].FileName()
	})
	return files, nil
}

// FindPatch looks for id across every development manifest. Used to uphold
// the one-manifest-per-patch invariant.
func (s *Store) FindPatch(id naming.PatchID) (naming.Version, State, bool, error) {
	files, err := s.ListReleaseFiles()
	if err != nil {
		return naming.Version{}, "", false, err
	}
	for _, rf := range files {
		if rf.Phase.Kind != naming.PhaseDevelopment {
			continue
		}
		m, err := s.Load(rf.Version)
		if err != nil {
			return naming.Version{}, "", false, err
		}
		if at := m.Index(id); at >= 0 {
			return rf.Version, m.Entries[at].State, true, nil
		}
	}
	return naming.Version{}, "", false, nil
}
