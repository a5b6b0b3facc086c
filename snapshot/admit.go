// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/fsprobe"
	"github.com/thewatcher/tardis/image"
)

// Prober reports filesystem usage for a mountpoint. Production callers use
// fsprobe.Probe directly; tests inject a fake to exercise the reclaim loop
// without needing a real filesystem near capacity.
type Prober func(path string) (fsprobe.Stats, error)

// AdmitConfig carries the tunables admit needs from the server config's
// "server" section.
type AdmitConfig struct {
	ByteBuffer  int64
	InodeBuffer int64
	ForceSnaps  int64
}

// AdmitResult reports what admit did.
type AdmitResult struct {
	// Stats is the final fsprobe reading after any reclaim.
	Stats fsprobe.Stats
	// Reclaimed lists the snapshot indices deleted to make room, oldest
	// (highest index) first.
	Reclaimed []int
}

// Admit reserves space for the next rsync into backup.0, reclaiming the
// snapshot ring's tail (oldest-first, respecting the forcesnaps retention
// floor) if necessary. It never rotates directories;
// Rotate runs only after Admit succeeds. Metadata changes made by
// deletions are persisted to metaPath immediately, even if Admit
// ultimately fails.
func Admit(probe Prober, mountpoint, metaPath string, reqBytes, reqInodes int64, meta *config.Store, cfg AdmitConfig) (AdmitResult, error) {
	fs := afero.NewOsFs()
	stats, err := probe(mountpoint)
	if err != nil {
		return AdmitResult{}, err
	}

	reqBytes += cfg.ByteBuffer
	reqInodes += cfg.InodeBuffer

	if reqBytes >= stats.TotalBytes || (stats.HasInodeLimit() && reqInodes >= stats.TotalInodes) {
		return AdmitResult{}, &SpaceExhaustionError{Reason: "could never fit"}
	}

	if stats.HasInodeLimit() {
		dupInodes, err := estimateDuplicationInodes(filepath.Join(mountpoint, "backup.0"))
		if err == nil {
			reqInodes += dupInodes
		}
	}

	fits := func(s fsprobe.Stats) bool {
		return reqBytes <= s.FreeBytes && (!s.HasInodeLimit() || reqInodes < s.FreeInodes)
	}

	if fits(stats) {
		return AdmitResult{Stats: stats}, nil
	}

	ring, err := listRing(mountpoint)
	if err != nil {
		return AdmitResult{}, err
	}
	candidates := oldestFirst(ring)
	if int64(len(candidates)) > cfg.ForceSnaps {
		candidates = candidates[:len(candidates)-int(cfg.ForceSnaps)]
	} else {
		candidates = nil
	}
	if len(candidates) == 0 {
		return AdmitResult{}, &SpaceExhaustionError{Reason: "not enough snapshots present"}
	}

	var reclaimed []int
	for _, c := range candidates {
		if int64(c.Index) < cfg.ForceSnaps {
			continue
		}

		dir := filepath.Join(mountpoint, c.Name)
		if err := os.RemoveAll(dir); err != nil {
			// Per-snapshot delete failures warn and continue;
			// the caller's logger records this, Admit keeps trying.
			continue
		}

		meta.DeleteKey(image.MetaSectionSnapshots, snapshotKey(c.Index))
		if err := meta.SaveIfModified(fs, metaPath, true); err != nil {
			return AdmitResult{}, &MetaIOError{Path: metaPath, Err: err}
		}
		reclaimed = append(reclaimed, c.Index)

		stats, err = probe(mountpoint)
		if err != nil {
			return AdmitResult{}, err
		}
		if fits(stats) {
			break
		}
	}

	if !fits(stats) {
		shortfall := reqBytes - stats.FreeBytes
		if shortfall < 0 {
			shortfall = 0
		}
		return AdmitResult{Stats: stats, Reclaimed: reclaimed}, &SpaceExhaustionError{
			Reason:         "unable to release enough space",
			ShortfallBytes: shortfall,
		}
	}

	return AdmitResult{Stats: stats, Reclaimed: reclaimed}, nil
}

// snapshotKey formats the metadata key for ring index idx.
func snapshotKey(idx int) string {
	return fmt.Sprintf("backup.%d", idx)
}

// estimateDuplicationInodes approximates how many new inodes duplicating
// src into a sibling backup.1 will consume: one per directory, since
// regular files are hard-linked (no new inode) but every directory must be
// recreated with its own inode.
func estimateDuplicationInodes(src string) (int64, error) {
	var count int64
	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}
