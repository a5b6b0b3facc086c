// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/thewatcher/tardis/config"
)

// ===== LoadOrCreateMeta =====

func TestLoadOrCreateMetaCreatesFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetaFileName)

	meta, err := LoadOrCreateMeta(path, 42949672960)
	if err != nil {
		t.Fatalf("LoadOrCreateMeta: %v", err)
	}
	size, ok := RecordedSize(meta)
	if !ok || size != 42949672960 {
		t.Errorf("RecordedSize = %d, %v; want 42949672960, true", size, ok)
	}
}

func TestLoadOrCreateMetaLoadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), MetaFileName)

	first, err := LoadOrCreateMeta(path, 100)
	if err != nil {
		t.Fatalf("LoadOrCreateMeta (create): %v", err)
	}
	first.Set(MetaSectionSnapshots, "backup.0", "1700000000")
	if err := first.Save(afero.NewOsFs(), path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second, err := LoadOrCreateMeta(path, 999)
	if err != nil {
		t.Fatalf("LoadOrCreateMeta (load): %v", err)
	}
	size, _ := RecordedSize(second)
	if size != 100 {
		t.Errorf("RecordedSize = %d, want 100 (pre-existing file wins)", size)
	}
	if v, ok := second.Get(MetaSectionSnapshots, "backup.0"); !ok || v != "1700000000" {
		t.Errorf("snapshots/backup.0 = %q, %v", v, ok)
	}
}

func TestRecordedSizeAbsent(t *testing.T) {
	meta := config.New()
	if _, ok := RecordedSize(meta); ok {
		t.Error("RecordedSize reported ok for an empty store")
	}
}
