// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"strconv"

	"github.com/spf13/afero"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/image"
)

// Stamp records timestamp as the completion time of backup.0 in meta and
// persists it. It is harmless to call before Admit, since it only ever updates
// backup.0's timestamp.
func Stamp(meta *config.Store, metaPath string, timestamp int64) error {
	meta.Set(image.MetaSectionSnapshots, snapshotKey(0), strconv.FormatInt(timestamp, 10))
	if err := meta.Save(afero.NewOsFs(), metaPath); err != nil {
		return &MetaIOError{Path: metaPath, Err: err}
	}
	return nil
}
