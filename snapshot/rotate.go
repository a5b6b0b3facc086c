// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/image"
)

// Rotate executes the rotation that follows a successful Admit: every
// existing backup.K (K ≥ 1) is renamed to backup.(K+1) highest-index-first,
// then backup.0 is hard-link-duplicated into a fresh backup.1, leaving
// backup.0 in place as the rsync target.
//
// If fewer than two backup.* directories exist there is no backup.0 to
// base a rotation on (this is the first-ever backup for the tree) and
// Rotate is a no-op.
func Rotate(mountpoint, metaPath string, meta *config.Store) error {
	fs := afero.NewOsFs()
	ring, err := listRing(mountpoint)
	if err != nil {
		return &RotateError{Mountpoint: mountpoint, Err: err}
	}
	if len(ring) < 2 {
		return nil
	}

	h := highestIndex(ring)
	if h == 0 {
		return &RotateError{Mountpoint: mountpoint, Err: fmt.Errorf(
			"%d snapshot directories present but highest index is 0", len(ring))}
	}

	for i := h; i >= 1; i-- {
		src := filepath.Join(mountpoint, snapshotDirName(i))
		dst := filepath.Join(mountpoint, snapshotDirName(i+1))
		if err := os.Rename(src, dst); err != nil {
			return &RotateError{Mountpoint: mountpoint, Err: err}
		}

		if v, ok := meta.Get(image.MetaSectionSnapshots, snapshotKey(i)); ok {
			meta.Set(image.MetaSectionSnapshots, snapshotKey(i+1), v)
			meta.DeleteKey(image.MetaSectionSnapshots, snapshotKey(i))
		}
		if err := meta.SaveIfModified(fs, metaPath, true); err != nil {
			return &MetaIOError{Path: metaPath, Err: err}
		}
	}

	backup0 := filepath.Join(mountpoint, snapshotDirName(0))
	if _, err := os.Stat(backup0); err == nil {
		backup1 := filepath.Join(mountpoint, snapshotDirName(1))
		if err := duplicateTree(backup0, backup1); err != nil {
			return &RotateError{Mountpoint: mountpoint, Err: err}
		}
		if v, ok := meta.Get(image.MetaSectionSnapshots, snapshotKey(0)); ok {
			meta.Set(image.MetaSectionSnapshots, snapshotKey(1), v)
		}
		if err := meta.SaveIfModified(fs, metaPath, true); err != nil {
			return &MetaIOError{Path: metaPath, Err: err}
		}
	} else if !os.IsNotExist(err) {
		return &RotateError{Mountpoint: mountpoint, Err: err}
	}

	return nil
}

func snapshotDirName(idx int) string {
	return fmt.Sprintf("backup.%d", idx)
}

// duplicateTree walks src and recreates it at dst: directories are
// recreated fresh, symlinks are relinked as symlinks, and everything
// else (regular files, device nodes, fifos) is hard-linked, sharing
// the inode and with it the original permissions and timestamps.
// Directory mtimes are restored bottom-up after the walk, since
// populating a directory bumps its mtime.
func duplicateTree(src, dst string) error {
	type dirStamp struct {
		path    string
		modTime time.Time
	}
	var dirs []dirStamp

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return err
			}
			dirs = append(dirs, dirStamp{target, info.ModTime()})
			return nil
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, target)
		default:
			return os.Link(path, target)
		}
	})
	if err != nil {
		return err
	}

	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Chtimes(dirs[i].path, dirs[i].modTime, dirs[i].modTime); err != nil {
			return err
		}
	}
	return nil
}
