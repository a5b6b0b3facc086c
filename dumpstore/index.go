// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package dumpstore

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeebo/blake3"
)

// IndexFileName is the dump-integrity sidecar kept alongside the dump
// directory, mapping each dump's filename to its size and content hash.
const IndexFileName = ".tardis_dumps_index"

// IndexEntry records one dump file's size and content hash at the time it
// was admitted.
type IndexEntry struct {
	Size int64
	Hash string // hex-encoded BLAKE3-256
}

// loadIndex reads the sidecar index, or returns an empty one if absent:
// a missing index is not an error, since the index is a diagnostic
// convenience layered on top of the dump directory, never its source of
// truth (the directory listing is).
func loadIndex(fs afero.Fs, dir string) (map[string]IndexEntry, error) {
	path := indexPath(dir)
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]IndexEntry{}, nil
		}
		return nil, &IOError{Path: path, Err: err}
	}
	var idx map[string]IndexEntry
	if err := msgpack.Unmarshal(data, &idx); err != nil {
		// A corrupt index is reported but not fatal: start fresh rather
		// than block admission of new dumps on a damaged diagnostic file.
		return map[string]IndexEntry{}, nil
	}
	return idx, nil
}

func saveIndex(fs afero.Fs, dir string, idx map[string]IndexEntry) error {
	data, err := msgpack.Marshal(idx)
	if err != nil {
		return err
	}
	path := indexPath(dir)
	return afero.WriteFile(fs, path, data, 0600)
}

func indexPath(dir string) string {
	return filepath.Join(dir, IndexFileName)
}

// hashDump computes the BLAKE3-256 hash of an admitted dump file using the
// standard streaming-hash idiom: blake3.New() fed through io.Copy, never
// loading the whole dump into memory.
func hashDump(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// recordDump hashes filename and stores its size/hash in the sidecar
// index, creating the index if it doesn't exist yet.
func recordDump(fs afero.Fs, dir, filename string, size int64) error {
	idx, err := loadIndex(fs, dir)
	if err != nil {
		return err
	}
	hash, err := hashDump(fs, filepath.Join(dir, filename))
	if err != nil {
		return err
	}
	idx[filename] = IndexEntry{Size: size, Hash: hash}
	return saveIndex(fs, dir, idx)
}

// verifyIndexed re-hashes filename and reports whether it still matches
// its recorded index entry. A recompute failure (file missing, unreadable)
// is reported as a non-match rather than an error, since the caller's only
// use for this is a best-effort "corrupt dump entry" warning: per-file
// problems during cleanup warn, they don't abort.
func verifyIndexed(fs afero.Fs, dir, filename string, entry IndexEntry) bool {
	hash, err := hashDump(fs, filepath.Join(dir, filename))
	if err != nil {
		return false
	}
	return hash == entry.Hash
}
