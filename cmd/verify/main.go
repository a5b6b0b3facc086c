// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Command verify is a read-only audit: it checks, for a mounted tree,
// that the on-disk backup.* ring and the .tardis_meta snapshots.backup.*
// keys agree, printing any mismatches and exiting non-zero if any are
// found. It never mutates the mountpoint or the metadata file.
package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/image"
	"github.com/thewatcher/tardis/internal/clirun"
	"github.com/thewatcher/tardis/oprunner"
	"github.com/thewatcher/tardis/snapshot"
)

func main() {
	root := &cobra.Command{
		Use:           "verify <config> <dir-id>",
		Short:         "Audit a mounted tree's snapshot ring against its metadata",
		Args:          clirun.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1])
		},
	}
	clirun.Main(root.Execute)
}

func run(configName, dirID string) error {
	oprunner.SanitizeEnvironment()

	installRoot, err := oprunner.InstallRoot()
	if err != nil {
		return &oprunner.ConfigError{Detail: "cannot determine install root", Err: err}
	}
	cfgPath, err := oprunner.ResolveConfigPath(installRoot, configName)
	if err != nil {
		return err
	}
	if err := oprunner.CheckConfigMode(cfgPath); err != nil {
		return err
	}

	store, err := oprunner.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	server, err := oprunner.LoadServerConfig(store)
	if err != nil {
		return err
	}
	tree, err := oprunner.LoadTreeDescriptor(store, dirID)
	if err != nil {
		return err
	}

	mountpoint := filepath.Join(server.Base, tree.RemoteDir)
	metaPath := filepath.Join(mountpoint, image.MetaFileName)

	meta, err := config.LoadRelaxed(afero.NewOsFs(), metaPath)
	if err != nil {
		return &snapshot.MetaIOError{Path: metaPath, Err: err}
	}

	ring, err := snapshot.ListRing(mountpoint)
	if err != nil {
		return &snapshot.RotateError{Mountpoint: mountpoint, Err: err}
	}
	onDisk := make(map[int]bool, len(ring))
	for _, e := range ring {
		onDisk[e.Index] = true
	}

	stamped := make(map[int]bool)
	for _, key := range meta.Keys(image.MetaSectionSnapshots) {
		if idx, ok := snapshot.ParseSnapshotKey(key); ok {
			stamped[idx] = true
		}
	}

	var mismatches []string
	for key := range stamped {
		if !onDisk[key] {
			mismatches = append(mismatches, fmt.Sprintf("metadata key snapshots.backup.%d has no backup.%d directory", key, key))
		}
	}
	for idx := range onDisk {
		// backup.0 is legitimately unstamped between a successful Admit/
		// Rotate and the client's eventual Stamp call; only backup.1 and
		// older are expected to always carry a copied timestamp.
		if idx == 0 {
			continue
		}
		if !stamped[idx] {
			mismatches = append(mismatches, fmt.Sprintf("directory backup.%d has no metadata timestamp", idx))
		}
	}

	if len(mismatches) == 0 {
		clirun.Succeedf("%s: ring and metadata agree (%d snapshots)", tree.Name, len(ring))
		return nil
	}

	for _, m := range mismatches {
		clirun.Succeedf("%s: %s", tree.Name, m)
	}
	return &verifyMismatchError{count: len(mismatches)}
}

// verifyMismatchError reports that the audit found one or more ring/metadata
// disagreements; verify exits non-zero without this being an I/O or usage
// failure in its own right.
type verifyMismatchError struct {
	count int
}

func (e *verifyMismatchError) Error() string {
	return fmt.Sprintf("verify: %d mismatch(es) found", e.count)
}

func (e *verifyMismatchError) ExitCode() int { return 1 }
