// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Command increment implements the SnapshotEngine admit+rotate entry point
// "<config> <dir-id> <bytes> <inodes>".
package main

import (
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/thewatcher/tardis/fsprobe"
	"github.com/thewatcher/tardis/image"
	"github.com/thewatcher/tardis/internal/clirun"
	"github.com/thewatcher/tardis/lock"
	"github.com/thewatcher/tardis/oprunner"
	"github.com/thewatcher/tardis/sizefmt"
	"github.com/thewatcher/tardis/snapshot"
)

func main() {
	root := &cobra.Command{
		Use:           "increment <config> <dir-id> <bytes> <inodes>",
		Short:         "Reserve space for the next rsync and rotate the snapshot ring",
		Args:          clirun.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], args[2], args[3])
		},
	}
	clirun.Main(root.Execute)
}

func run(configName, dirID, bytesArg, inodesArg string) error {
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

	reqBytes, err := oprunner.ParseSizeArg("bytes", bytesArg)
	if err != nil {
		return err
	}
	reqInodes, err := oprunner.ParseSizeArg("inodes", inodesArg)
	if err != nil {
		return err
	}

	if err := oprunner.RequireRoot(); err != nil {
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

	log := clirun.NewLogger("tardis/snapshot", "increment", dirID)

	mountpoint := filepath.Join(server.Base, tree.RemoteDir)
	metaPath := filepath.Join(mountpoint, image.MetaFileName)
	lockPath := filepath.Join(server.Base, tree.RemoteDir+lock.FileName)

	held, err := lock.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := held.Release(); err != nil {
			log.Error("failed to release advisory lock", "err", err)
		}
	}()

	meta, err := image.LoadOrCreateMeta(metaPath, tree.MaxSize)
	if err != nil {
		return err
	}

	removed, err := snapshot.Reconcile(mountpoint, meta)
	if err != nil {
		return err
	}
	if len(removed) > 0 {
		log.Warn("reconciled ghost metadata entries", "removed", removed)
		if err := meta.SaveIfModified(afero.NewOsFs(), metaPath, true); err != nil {
			return &snapshot.MetaIOError{Path: metaPath, Err: err}
		}
	}

	cfg := snapshot.AdmitConfig{
		ByteBuffer:  server.ByteBuffer,
		InodeBuffer: server.InodeBuffer,
		ForceSnaps:  server.ForceSnaps,
	}

	result, err := snapshot.Admit(fsprobe.Probe, mountpoint, metaPath, reqBytes, reqInodes, meta, cfg)
	if err != nil {
		return err
	}
	if len(result.Reclaimed) > 0 {
		log.Info("reclaimed snapshots", "indices", result.Reclaimed)
	}

	if err := snapshot.Rotate(mountpoint, metaPath, meta); err != nil {
		return err
	}

	clirun.Succeedf("admitted %s / %d inodes for %s; free %s, %d inodes",
		sizefmt.FormatSize(reqBytes), reqInodes, tree.Name,
		sizefmt.FormatSize(result.Stats.FreeBytes), result.Stats.FreeInodes)
	return nil
}
