// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"strconv"
	"strings"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/image"
)

// Reconcile audits mountpoint's on-disk snapshot ring against meta and
// drops any metadata entry whose directory is no longer present, on the
// principle that on-disk truth wins. It never adds entries for
// directories missing a metadata key; a directory with no completion
// timestamp is simply unstamped, not an error.
//
// This is a recommended-but-optional startup audit; cmd/increment runs it
// once per invocation before Admit. Stamp callers do not run it.
func Reconcile(mountpoint string, meta *config.Store) ([]int, error) {
	ring, err := listRing(mountpoint)
	if err != nil {
		return nil, err
	}
	onDisk := make(map[int]bool, len(ring))
	for _, e := range ring {
		onDisk[e.Index] = true
	}

	var removed []int
	for _, key := range meta.Keys(image.MetaSectionSnapshots) {
		idx, ok := parseSnapshotKey(key)
		if !ok {
			continue
		}
		if !onDisk[idx] {
			meta.DeleteKey(image.MetaSectionSnapshots, key)
			removed = append(removed, idx)
		}
	}
	return removed, nil
}

// ParseSnapshotKey is the exported form of parseSnapshotKey, for the
// verify audit's own "does every on-disk directory have a metadata key"
// half of the comparison, which Reconcile deliberately doesn't perform
// (on-disk truth wins never invents entries for unstamped directories;
// that's not a mismatch).
func ParseSnapshotKey(key string) (int, bool) {
	return parseSnapshotKey(key)
}

func parseSnapshotKey(key string) (int, bool) {
	if !strings.HasPrefix(key, "backup.") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(key, "backup."))
	if err != nil {
		return 0, false
	}
	return n, true
}
