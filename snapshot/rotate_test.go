// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/image"
)

func newMeta(t *testing.T, dir string) (*config.Store, string) {
	t.Helper()
	meta := config.New()
	return meta, filepath.Join(dir, image.MetaFileName)
}

// ===== Rotate =====

func TestRotateSkipsWithFewerThanTwoDirs(t *testing.T) {
	dir := mkRing(t, 0)
	meta, metaPath := newMeta(t, dir)

	if err := Rotate(dir, metaPath, meta); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "backup.1")); !os.IsNotExist(err) {
		t.Error("Rotate created backup.1 with only backup.0 present")
	}
}

func TestRotateRenamesAndDuplicates(t *testing.T) {
	dir := mkRing(t, 0, 1, 2)
	if err := os.WriteFile(filepath.Join(dir, "backup.0", "unchanged.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	meta, metaPath := newMeta(t, dir)
	meta.Set(image.MetaSectionSnapshots, "backup.0", "100")
	meta.Set(image.MetaSectionSnapshots, "backup.1", "90")
	meta.Set(image.MetaSectionSnapshots, "backup.2", "80")

	if err := Rotate(dir, metaPath, meta); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	for _, name := range []string{"backup.0", "backup.1", "backup.2", "backup.3"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	if v, _ := meta.Get(image.MetaSectionSnapshots, "backup.3"); v != "80" {
		t.Errorf("backup.3 = %q, want 80 (was backup.2)", v)
	}
	if v, _ := meta.Get(image.MetaSectionSnapshots, "backup.2"); v != "90" {
		t.Errorf("backup.2 = %q, want 90 (was backup.1)", v)
	}
	if v, _ := meta.Get(image.MetaSectionSnapshots, "backup.1"); v != "100" {
		t.Errorf("backup.1 = %q, want 100 (copied from backup.0)", v)
	}
	if v, _ := meta.Get(image.MetaSectionSnapshots, "backup.0"); v != "100" {
		t.Errorf("backup.0 = %q, want 100 (left in place for rsync)", v)
	}

	origInfo, err := os.Stat(filepath.Join(dir, "backup.0", "unchanged.txt"))
	if err != nil {
		t.Fatal(err)
	}
	dupInfo, err := os.Stat(filepath.Join(dir, "backup.1", "unchanged.txt"))
	if err != nil {
		t.Fatalf("duplicate missing: %v", err)
	}
	if !os.SameFile(origInfo, dupInfo) {
		t.Error("backup.1's file does not share an inode with backup.0's (not a hard link)")
	}
}

func TestRotateBrokenStateHighestZero(t *testing.T) {
	dir := t.TempDir()
	// A bare "backup" directory parses as index 0, so together with
	// backup.0 the ring holds two entries whose highest index is still 0:
	// the broken state Rotate must refuse to touch.
	for _, name := range []string{"backup", "backup.0"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0755); err != nil {
			t.Fatal(err)
		}
	}
	meta, metaPath := newMeta(t, dir)

	if err := Rotate(dir, metaPath, meta); err == nil {
		t.Fatal("Rotate accepted a two-entry ring with highest index 0")
	}
	for _, name := range []string{"backup", "backup.0"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s was mutated by the failed rotation: %v", name, err)
		}
	}
}
