// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package config implements Tardis's INI dialect: a two-level section→key→value
// mapping with "${section,key}" variable substitution, used both for the
// client/server config file and for the per-image ".tardis_meta" sidecar.
//
// Config files carry secrets, so Load refuses to read a file whose
// permission bits go beyond owner read-write; LoadRelaxed skips that check
// for files, like image metadata, that hold no secrets.
//
//	store, err := config.Load(afero.NewOsFs(), "/etc/tardis/config")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	base, _ := store.Get("server", "base")
package config

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// DefaultSection is the name of the distinguished section that receives any
// key=value pairs appearing before the first [section] header.
const DefaultSection = ""

// Store holds a parsed, mutable INI document.
type Store struct {
	mu       sync.Mutex
	sections map[string]map[string]string
	order    map[string][]string // per-section key insertion order, cosmetic only
	modified bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sections: map[string]map[string]string{},
		order:    map[string][]string{},
	}
}

// Get returns the value of section/key and whether it was present.
func (s *Store) Get(section, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[section]
	if !ok {
		return "", false
	}
	v, ok := sec[key]
	return v, ok
}

// GetDefault returns the value of section/key, or def if absent.
func (s *Store) GetDefault(section, key, def string) string {
	if v, ok := s.Get(section, key); ok {
		return v
	}
	return def
}

// Set assigns section/key = value, creating the section if necessary, and
// marks the store modified.
func (s *Store) Set(section, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(section, key, value)
	s.modified = true
}

func (s *Store) setLocked(section, key, value string) {
	sec, ok := s.sections[section]
	if !ok {
		sec = map[string]string{}
		s.sections[section] = sec
	}
	if _, exists := sec[key]; !exists {
		s.order[section] = append(s.order[section], key)
	}
	sec[key] = value
}

// DeleteKey removes section/key. It is a no-op if absent. Marks the store
// modified only if something was actually removed.
func (s *Store) DeleteKey(section, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sec, ok := s.sections[section]
	if !ok {
		return
	}
	if _, ok := sec[key]; !ok {
		return
	}
	delete(sec, key)
	for i, k := range s.order[section] {
		if k == key {
			s.order[section] = append(s.order[section][:i], s.order[section][i+1:]...)
			break
		}
	}
	s.modified = true
}

// HasSection reports whether section exists (even if empty).
func (s *Store) HasSection(section string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sections[section]
	return ok
}

// Sections returns all section names in sorted order.
func (s *Store) Sections() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keys returns the keys of section in the order they were first set.
func (s *Store) Keys(section string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order[section]))
	copy(out, s.order[section])
	return out
}

// Modified reports whether the store has unsaved changes.
func (s *Store) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// SyntaxError reports a malformed config line.
type SyntaxError struct {
	Line int
	Text string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("config: syntax error at line %d: %q", e.Line, e.Text)
}

// Load reads and parses the INI file at path through fs, enforcing that its
// permission bits go no further than owner read-write (strict mode): any
// bit set beyond 0600 is refused before the file content is even parsed.
func Load(fs afero.Fs, path string) (*Store, error) {
	fi, err := fs.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Mode().Perm()&^os.FileMode(0600) != 0 {
		return nil, fmt.Errorf("config: %s: permission bits %04o go beyond owner read-write", path, fi.Mode().Perm())
	}
	return LoadRelaxed(fs, path)
}

// LoadRelaxed reads and parses the INI file at path through fs without the
// owner-only permission check. Used for image metadata (.tardis_meta),
// which holds no secrets.
func LoadRelaxed(fs afero.Fs, path string) (*Store, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads an INI document from r.
func Parse(r io.Reader) (*Store, error) {
	store := New()
	if err := parseInto(store, r); err != nil {
		return nil, err
	}
	resolveVariables(store)
	store.modified = false
	return store, nil
}

// Write serializes the store in canonical form: sections in sorted order,
// all values quoted, with any section named in skip omitted entirely.
func (s *Store) Write(w io.Writer, skip ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	skipSet := map[string]bool{}
	for _, name := range skip {
		skipSet[name] = true
	}

	names := make([]string, 0, len(s.sections))
	for name := range s.sections {
		if skipSet[name] {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name != DefaultSection {
			if _, err := fmt.Fprintf(w, "[%s]\n", name); err != nil {
				return err
			}
		}
		keys := make([]string, len(s.order[name]))
		copy(keys, s.order[name])
		sort.Strings(keys)
		for _, key := range keys {
			if _, err := fmt.Fprintf(w, "%s = %s\n", key, quote(s.sections[name][key])); err != nil {
				return err
			}
		}
	}
	return nil
}

// quote wraps v for the canonical output form. The dialect has no escape
// sequence for '"' inside a quoted value, so the value is written verbatim;
// values containing '"' are unrepresentable in this format.
func quote(v string) string {
	return `"` + v + `"`
}

// Save writes the store to path through fs atomically (write-to-temp then
// rename) and clears the modified flag. Save always writes, regardless of
// Modified().
func (s *Store) Save(fs afero.Fs, path string) error {
	tmp := path + ".tmp"
	f, err := fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := s.Write(f); err != nil {
		f.Close()
		fs.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, path); err != nil {
		fs.Remove(tmp)
		return err
	}
	s.mu.Lock()
	s.modified = false
	s.mu.Unlock()
	return nil
}

// SaveIfModified writes the store through fs only if Modified() is true,
// unless force is set.
func (s *Store) SaveIfModified(fs afero.Fs, path string, force bool) error {
	if !force && !s.Modified() {
		return nil
	}
	return s.Save(fs, path)
}
