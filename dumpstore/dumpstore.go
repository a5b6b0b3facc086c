// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package dumpstore manages a size-capped directory of timestamped
// compressed database dumps, evicted oldest-first under space pressure
// while respecting a retention floor.
package dumpstore

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/afero"
	"github.com/thewatcher/tardis/fsprobe"
)

// NamePattern is the whitelist a candidate must match before admitDump will
// actually unlink it, a defense against a misconfigured dump directory
// containing something other than dump files, matching the
// "<dumpname>-<YYYYMMDD-HHMM>.sql.bz2" layout.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+-\d{8}-\d{4}\.sql\.bz2$`)

// AdmitConfig carries the tunables admitDump needs from the server config.
type AdmitConfig struct {
	// DBSizeLimit is server.dbsize: the logical quota for the dump directory.
	DBSizeLimit int64
	// ForceDBs is server.forcedbs: the minimum number of dumps retained
	// regardless of space pressure.
	ForceDBs int64
}

// AdmitResult reports what admitDump did.
type AdmitResult struct {
	UsedBefore int64
	UsedAfter  int64
	Evicted    []string
	// EvictedDisplayCount is the post-eviction count as historically
	// displayed, one higher than len(Evicted) when anything was evicted and
	// 0 otherwise; it is display-only and never used for any decision in
	// this package.
	EvictedDisplayCount int
	// CorruptEntries names evicted dumps whose recorded index size/hash
	// didn't match what was actually on disk right before eviction. This is
	// a diagnostic only; a corrupt entry is still evicted like any other
	// candidate, since the dump is being freed either way.
	CorruptEntries []string
}

// dumpFile is one file under consideration for eviction.
type dumpFile struct {
	name  string
	size  int64
	mtime time.Time
}

// AdmitDump reserves space for an incoming dump of reqBytes, evicting the
// oldest dumps in dir until it fits. dir is created if absent. The
// whitelist filter and partial-failure tolerance apply only to the actual
// unlink pass; the feasibility check in the first pass sums candidate
// sizes regardless of name.
//
// Before eviction, any dump not yet present in the integrity index is
// indexed (this is how a dump copied in by something other than this
// package first gets recorded); during eviction, any indexed candidate
// whose size or content hash no longer matches is reported back in
// CorruptEntries, but it is evicted regardless: the index is a diagnostic,
// not a gate on reclaiming space.
func AdmitDump(fs afero.Fs, dir string, reqBytes int64, cfg AdmitConfig) (AdmitResult, error) {
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return AdmitResult{}, &IOError{Path: dir, Err: err}
	}

	used, err := dirUsage(fs, dir)
	if err != nil {
		return AdmitResult{}, &IOError{Path: dir, Err: err}
	}

	all, err := listDumpFiles(fs, dir)
	if err != nil {
		return AdmitResult{}, &IOError{Path: dir, Err: err}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].mtime.Before(all[j].mtime) })

	idx, err := loadIndex(fs, dir)
	if err != nil {
		return AdmitResult{}, err
	}
	for _, f := range all {
		if _, ok := idx[f.name]; ok || !NamePattern.MatchString(f.name) {
			continue
		}
		// A dump lands in dir through external replication, not through
		// this package, so the first admit to see it is where it gets
		// indexed.
		_ = recordDump(fs, dir, f.name, f.size)
	}
	if idx, err = loadIndex(fs, dir); err != nil {
		return AdmitResult{}, err
	}

	if used+reqBytes <= cfg.DBSizeLimit {
		return AdmitResult{UsedBefore: used, UsedAfter: used}, nil
	}

	need := used + reqBytes - cfg.DBSizeLimit

	var candidates []dumpFile
	if int64(len(all)) > cfg.ForceDBs {
		candidates = all[:int64(len(all))-cfg.ForceDBs]
	}

	var feasible int64
	for _, c := range candidates {
		feasible += c.size
	}
	if feasible < need {
		return AdmitResult{UsedBefore: used}, &SpaceExhaustionError{
			Reason:         "not enough dumps present",
			ShortfallBytes: need - feasible,
		}
	}

	var freed int64
	var evicted []string
	var corrupt []string
	indexChanged := false
	for _, c := range candidates {
		if freed >= need {
			break
		}
		if !NamePattern.MatchString(c.name) {
			continue
		}
		if entry, ok := idx[c.name]; ok && (entry.Size != c.size || !verifyIndexed(fs, dir, c.name, entry)) {
			corrupt = append(corrupt, c.name)
		}
		path := filepath.Join(dir, c.name)
		if err := fs.Remove(path); err != nil {
			continue
		}
		if _, ok := idx[c.name]; ok {
			delete(idx, c.name)
			indexChanged = true
		}
		freed += c.size
		evicted = append(evicted, c.name)
	}
	if indexChanged {
		_ = saveIndex(fs, dir, idx)
	}

	if freed < need {
		return AdmitResult{UsedBefore: used, UsedAfter: used - freed, Evicted: evicted, CorruptEntries: corrupt},
			&SpaceExhaustionError{Reason: "unable to release enough space", ShortfallBytes: need - freed}
	}

	result := AdmitResult{
		UsedBefore:     used,
		UsedAfter:      used - freed,
		Evicted:        evicted,
		CorruptEntries: corrupt,
	}
	if len(evicted) > 0 {
		result.EvictedDisplayCount = len(evicted) + 1
	}
	return result, nil
}

// ConfirmPhysicalFree re-checks the underlying device's physical free
// space after a logical admit succeeds: the logical quota may be smaller
// than physical free space but never larger, so this is the caller's final
// guard against a misconfigured dbsize.
func ConfirmPhysicalFree(dir string, reqBytes int64) (bool, fsprobe.Stats, error) {
	stats, err := fsprobe.Probe(dir)
	if err != nil {
		return false, fsprobe.Stats{}, err
	}
	return reqBytes <= stats.FreeBytes, stats, nil
}

func dirUsage(fs afero.Fs, dir string) (int64, error) {
	var total int64
	err := afero.Walk(fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && path != indexPath(dir) {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func listDumpFiles(fs afero.Fs, dir string) ([]dumpFile, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var files []dumpFile
	for _, e := range entries {
		if e.IsDir() || e.Name() == IndexFileName {
			continue
		}
		files = append(files, dumpFile{name: e.Name(), size: e.Size(), mtime: e.ModTime()})
	}
	return files, nil
}
