// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

// ===== Parse tests =====

func TestParseBasic(t *testing.T) {
	text := `
# a comment
; also a comment

base = /backup
dbsize = 5G ; trailing comment stripped

[directory.0]
name = "my tree, with a comma"
maxsize = 40G
`
	s, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, ok := s.Get(DefaultSection, "base"); !ok || v != "/backup" {
		t.Errorf("default/base = %q, %v", v, ok)
	}
	if v, ok := s.Get(DefaultSection, "dbsize"); !ok || v != "5G" {
		t.Errorf("default/dbsize = %q, %v", v, ok)
	}
	if v, ok := s.Get("directory.0", "name"); !ok || v != "my tree, with a comma" {
		t.Errorf("directory.0/name = %q, %v", v, ok)
	}
	if v, _ := s.Get("directory.0", "maxsize"); v != "40G" {
		t.Errorf("directory.0/maxsize = %q", v)
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse(strings.NewReader("this is not valid\n"))
	var synErr *SyntaxError
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if se, ok := err.(*SyntaxError); !ok {
		t.Fatalf("expected *SyntaxError, got %T", err)
	} else {
		synErr = se
	}
	if synErr.Line != 1 {
		t.Errorf("Line = %d, want 1", synErr.Line)
	}
}

func TestParseUnclosedSection(t *testing.T) {
	_, err := Parse(strings.NewReader("[oops\n"))
	if err == nil {
		t.Fatal("expected error for unclosed section header")
	}
}

// ===== variable substitution =====

func TestVariableSubstitution(t *testing.T) {
	text := `
[server]
base = /var/tardis

[directory.0]
path = ${server,base}/tree0
unresolved = ${missing,key}
`
	s, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, _ := s.Get("directory.0", "path"); v != "/var/tardis/tree0" {
		t.Errorf("path = %q, want /var/tardis/tree0", v)
	}
	if v, _ := s.Get("directory.0", "unresolved"); v != "" {
		t.Errorf("unresolved = %q, want empty string (missing ref)", v)
	}
}

func TestVariableSubstitutionSinglePass(t *testing.T) {
	// b references a, c references b: single pass means c does NOT
	// transitively pick up a's value if b itself contained a reference.
	text := `
[s]
a = leaf
b = ${s,a}
c = ${s,b}
`
	s, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if v, _ := s.Get("s", "b"); v != "leaf" {
		t.Errorf("b = %q, want leaf", v)
	}
	// c resolved against the *original* (pre-substitution) value of b,
	// which was the literal string "${s,a}" at the time of the single pass.
	if v, _ := s.Get("s", "c"); v != "${s,a}" {
		t.Errorf("c = %q, want literal ${s,a} (one pass only)", v)
	}
}

// ===== Write / round-trip =====

func TestWriteRoundTrip(t *testing.T) {
	text := `
base = /var/tardis

[server]
fstype = xfs
dbsize = 5G
`
	s, err := Parse(strings.NewReader(text))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reparsed, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse(written): %v\noutput:\n%s", err, buf.String())
	}

	for _, tc := range []struct{ section, key, want string }{
		{DefaultSection, "base", "/var/tardis"},
		{"server", "fstype", "xfs"},
		{"server", "dbsize", "5G"},
	} {
		if v, ok := reparsed.Get(tc.section, tc.key); !ok || v != tc.want {
			t.Errorf("round-trip %s/%s = %q, %v; want %q", tc.section, tc.key, v, ok, tc.want)
		}
	}
}

func TestWriteSkipSections(t *testing.T) {
	s := New()
	s.Set("keepme", "k", "v")
	s.Set("dropme", "k", "v")

	var buf bytes.Buffer
	if err := s.Write(&buf, "dropme"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if strings.Contains(buf.String(), "dropme") {
		t.Errorf("output contains skipped section:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "keepme") {
		t.Errorf("output missing kept section:\n%s", buf.String())
	}
}

// ===== Load permission enforcement =====

func TestLoadRejectsOpenPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte("base = /x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(afero.NewOsFs(), path); err == nil {
		t.Error("Load accepted a world-readable config file")
	}
}

func TestLoadAcceptsStrictPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config")
	if err := os.WriteFile(path, []byte("base = /x\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(afero.NewOsFs(), path); err != nil {
		t.Errorf("Load rejected a strict config file: %v", err)
	}
}

func TestLoadRelaxedIgnoresPermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta")
	if err := os.WriteFile(path, []byte("[image]\nsize = 100\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRelaxed(afero.NewOsFs(), path); err != nil {
		t.Errorf("LoadRelaxed: %v", err)
	}
}

// ===== Save / modified flag =====

func TestSaveIfModifiedGatesOnFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta")
	s := New()
	s.Set("image", "size", "100")
	if err := s.Save(afero.NewOsFs(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadRelaxed(afero.NewOsFs(), path)
	if err != nil {
		t.Fatalf("LoadRelaxed: %v", err)
	}
	if reloaded.Modified() {
		t.Error("freshly loaded store reports Modified() = true")
	}

	if err := reloaded.SaveIfModified(afero.NewOsFs(), path, false); err != nil {
		t.Fatalf("SaveIfModified: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("SaveIfModified(force=false) rewrote an unmodified store")
	}

	reloaded.Set("image", "size", "200")
	if err := reloaded.SaveIfModified(afero.NewOsFs(), path, false); err != nil {
		t.Fatalf("SaveIfModified: %v", err)
	}
	final, err := LoadRelaxed(afero.NewOsFs(), path)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := final.Get("image", "size"); v != "200" {
		t.Errorf("size = %q, want 200", v)
	}
}

// ===== cache round trip =====

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "config")
	cache := filepath.Join(dir, "config.cache")

	if err := os.WriteFile(source, []byte("base = /x\n"), 0600); err != nil {
		t.Fatal(err)
	}

	store, err := Load(afero.NewOsFs(), source)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.WriteCache(afero.NewOsFs(), cache, source); err != nil {
		t.Fatalf("WriteCache: %v", err)
	}

	cached, ok, err := LoadCached(afero.NewOsFs(), cache, source)
	if err != nil {
		t.Fatalf("LoadCached: %v", err)
	}
	if !ok {
		t.Fatal("LoadCached reported stale cache for an unchanged source")
	}
	if v, _ := cached.Get(DefaultSection, "base"); v != "/x" {
		t.Errorf("cached base = %q, want /x", v)
	}
}

func TestCacheStaleAfterSourceChange(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "config")
	cache := filepath.Join(dir, "config.cache")

	if err := os.WriteFile(source, []byte("base = /x\n"), 0600); err != nil {
		t.Fatal(err)
	}
	store, err := Load(afero.NewOsFs(), source)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.WriteCache(afero.NewOsFs(), cache, source); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(source, []byte("base = /y\nextra = 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	_, ok, err := LoadCached(afero.NewOsFs(), cache, source)
	if err != nil {
		t.Fatalf("LoadCached: %v", err)
	}
	if ok {
		t.Error("LoadCached reported a changed source as still valid")
	}
}
