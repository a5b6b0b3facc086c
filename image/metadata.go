// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"os"
	"strconv"

	"github.com/spf13/afero"

	"github.com/thewatcher/tardis/config"
)

// MetaFileName is the sidecar metadata file at the root of every mounted
// image.
const MetaFileName = ".tardis_meta"

// MetaSectionImage is the section holding the declared logical size.
const MetaSectionImage = "image"

// MetaKeySize is the key under MetaSectionImage holding the declared size
// in bytes.
const MetaKeySize = "size"

// MetaSectionSnapshots is the section whose keys are "backup.K" and whose
// values are the Unix timestamp at which snapshot K was completed.
const MetaSectionSnapshots = "snapshots"

// LoadOrCreateMeta loads metaPath if present, or creates a fresh store
// stamped with image.size = declaredSize and persists it immediately. It
// is also an instance of the same INI format as the client/server config,
// so it uses config.LoadRelaxed: image metadata holds no secrets and is
// not subject to the owner-only permission check.
func LoadOrCreateMeta(metaPath string, declaredSize int64) (*config.Store, error) {
	fs := afero.NewOsFs()
	if _, err := os.Stat(metaPath); err == nil {
		store, err := config.LoadRelaxed(fs, metaPath)
		if err != nil {
			return nil, &MetaIOError{Path: metaPath, Err: err}
		}
		return store, nil
	} else if !os.IsNotExist(err) {
		return nil, &MetaIOError{Path: metaPath, Err: err}
	}

	store := config.New()
	store.Set(MetaSectionImage, MetaKeySize, strconv.FormatInt(declaredSize, 10))
	if err := store.Save(fs, metaPath); err != nil {
		return nil, &MetaIOError{Path: metaPath, Err: err}
	}
	return store, nil
}

// RecordedSize returns the image.size value recorded in meta, or 0, false
// if absent or unparsable.
func RecordedSize(meta *config.Store) (int64, bool) {
	v, ok := meta.Get(MetaSectionImage, MetaKeySize)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
