// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"github.com/spf13/afero"
	"github.com/vmihailenco/msgpack/v5"
)

// cacheEnvelope is the on-disk shape of the write-back cache: the source
// file's mtime/size (for staleness detection) plus the parsed section map.
// This is purely a derived speed-up for repeated short-lived invocations
// reading the same config file; the INI text is always the source of truth.
type cacheEnvelope struct {
	SourceSize  int64
	SourceMtime int64
	Sections    map[string]map[string]string
}

// WriteCache serializes the store's current section map to cachePath
// through fs, stamped with sourcePath's current size and modification time
// so a later LoadCached call can detect whether sourcePath changed
// underneath it.
func (s *Store) WriteCache(fs afero.Fs, cachePath, sourcePath string) error {
	fi, err := fs.Stat(sourcePath)
	if err != nil {
		return err
	}

	s.mu.Lock()
	sections := make(map[string]map[string]string, len(s.sections))
	for name, kv := range s.sections {
		copied := make(map[string]string, len(kv))
		for k, v := range kv {
			copied[k] = v
		}
		sections[name] = copied
	}
	s.mu.Unlock()

	env := cacheEnvelope{
		SourceSize:  fi.Size(),
		SourceMtime: fi.ModTime().UnixNano(),
		Sections:    sections,
	}

	enc, err := msgpack.Marshal(&env)
	if err != nil {
		return err
	}
	return afero.WriteFile(fs, cachePath, enc, 0600)
}

// LoadCached loads cachePath through fs if it is still valid for sourcePath
// (same size and modification time as when the cache was written); it
// returns (nil, false, nil) on any staleness or absence, never an error for
// those ordinary cases, so callers always have a cheap fall back to Load.
func LoadCached(fs afero.Fs, cachePath, sourcePath string) (*Store, bool, error) {
	fi, err := fs.Stat(sourcePath)
	if err != nil {
		return nil, false, nil
	}

	data, err := afero.ReadFile(fs, cachePath)
	if err != nil {
		return nil, false, nil
	}

	var env cacheEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, false, nil
	}

	if env.SourceSize != fi.Size() || env.SourceMtime != fi.ModTime().UnixNano() {
		return nil, false, nil
	}

	store := New()
	for name, kv := range env.Sections {
		for k, v := range kv {
			store.setLocked(name, k, v)
		}
	}
	store.modified = false
	return store, true, nil
}
