// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsprobe reports space and inode usage for a filesystem path,
// feeding the admission checks in the snapshot and dump-store engines.
package fsprobe

import "golang.org/x/sys/unix"

// NoInodeLimit is the sentinel FreeInodes value reported for filesystems
// that don't track an inode limit.
const NoInodeLimit = -1

// Stats holds the space and inode figures for one path.
type Stats struct {
	TotalBytes  int64
	UsedBytes   int64
	FreeBytes   int64
	TotalInodes int64
	FreeInodes  int64
}

// HasInodeLimit reports whether this filesystem enforces an inode ceiling.
func (s Stats) HasInodeLimit() bool {
	return s.FreeInodes != NoInodeLimit
}

// Probe statfs(2)'s path and returns total/used/free bytes and inode
// counts. Filesystems that report zero total inodes are treated as
// inode-unconstrained.
func Probe(path string) (Stats, error) {
	var buf unix.Statfs_t
	if err := unix.Statfs(path, &buf); err != nil {
		return Stats{}, &ProbeError{Path: path, Err: err}
	}

	blockSize := int64(buf.Bsize)
	total := int64(buf.Blocks) * blockSize
	free := int64(buf.Bavail) * blockSize
	used := total - int64(buf.Bfree)*blockSize

	totalInodes := int64(buf.Files)
	freeInodes := int64(NoInodeLimit)
	if totalInodes > 0 {
		freeInodes = int64(buf.Ffree)
	} else {
		totalInodes = 0
	}

	return Stats{
		TotalBytes:  total,
		UsedBytes:   used,
		FreeBytes:   free,
		TotalInodes: totalInodes,
		FreeInodes:  freeInodes,
	}, nil
}

// ProbeError wraps a failed statfs(2) call with the path that was probed.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return "fsprobe: statfs " + e.Path + ": " + e.Err.Error()
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ExitCode implements the shared CLI exit-code contract: a
// probe failure is always fatal IO/state, exit 74.
func (e *ProbeError) ExitCode() int { return 74 }
