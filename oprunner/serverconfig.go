// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package oprunner

import (
	"strings"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/sizefmt"
)

// ServerConfig holds the required "server" section keys.
type ServerConfig struct {
	Base        string
	DBDir       string
	DBSize      int64
	ByteBuffer  int64
	InodeBuffer int64
	ForceDBs    int64
	ForceSnaps  int64
	FsType      string
	FsOpts      []string
	MountArgs   []string
	User        string
	Group       string
}

// LoadServerConfig reads and validates the "server" section, returning a
// ConfigError listing the first missing or unparsable key.
func LoadServerConfig(store *config.Store) (ServerConfig, error) {
	get := func(key string) (string, error) {
		v, ok := store.Get("server", key)
		if !ok || v == "" {
			return "", &ConfigError{Detail: "server." + key + " is required"}
		}
		return v, nil
	}
	getSize := func(key string) (int64, error) {
		v, err := get(key)
		if err != nil {
			return 0, err
		}
		n, err := sizefmt.ParseSize(v)
		if err != nil {
			return 0, &ConfigError{Detail: "server." + key, Err: err}
		}
		return n, nil
	}

	var cfg ServerConfig
	var err error

	if cfg.Base, err = get("base"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.DBDir, err = get("dbdir"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.DBSize, err = getSize("dbsize"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ByteBuffer, err = getSize("bytebuffer"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.InodeBuffer, err = getSize("inodebuffer"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ForceDBs, err = getSize("forcedbs"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.ForceSnaps, err = getSize("forcesnaps"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.FsType, err = get("fstype"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.User, err = get("user"); err != nil {
		return ServerConfig{}, err
	}
	if cfg.Group, err = get("group"); err != nil {
		return ServerConfig{}, err
	}

	if opts, ok := store.Get("server", "fsopts"); ok && opts != "" {
		cfg.FsOpts = strings.Split(opts, ",")
	}
	if opts, ok := store.Get("server", "mountargs"); ok && opts != "" {
		cfg.MountArgs = strings.Split(opts, ",")
	}

	return cfg, nil
}

// TreeDescriptor is the server-relevant subset of a backup tree's config
// entry: everything ImageManager/SnapshotEngine need, not the
// client-only source path or exclude rules.
type TreeDescriptor struct {
	ID        string
	Name      string
	RemoteDir string
	MaxSize   int64
}

// LoadTreeDescriptor reads "directory.<id>" from store.
func LoadTreeDescriptor(store *config.Store, id string) (TreeDescriptor, error) {
	section := "directory." + id
	if !store.HasSection(section) {
		return TreeDescriptor{}, &ConfigError{Detail: "no directory with id " + id}
	}

	name, _ := store.Get(section, "name")

	remotedir, ok := store.Get(section, "remotedir")
	if !ok || remotedir == "" {
		remotedir = id
	}

	maxsizeStr, ok := store.Get(section, "maxsize")
	if !ok {
		return TreeDescriptor{}, &ConfigError{Detail: section + ".maxsize is required"}
	}
	maxsize, err := sizefmt.ParseSize(maxsizeStr)
	if err != nil {
		return TreeDescriptor{}, &ConfigError{Detail: section + ".maxsize", Err: err}
	}

	return TreeDescriptor{ID: id, Name: name, RemoteDir: remotedir, MaxSize: maxsize}, nil
}
