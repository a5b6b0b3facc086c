// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Command marksnapshot implements the SnapshotEngine stamp entry point:
// "<config> <dir-id> <timestamp>".
package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thewatcher/tardis/image"
	"github.com/thewatcher/tardis/internal/clirun"
	"github.com/thewatcher/tardis/oprunner"
	"github.com/thewatcher/tardis/snapshot"
)

func main() {
	root := &cobra.Command{
		Use:           "marksnapshot <config> <dir-id> <timestamp>",
		Short:         "Stamp backup.0's completion timestamp",
		Args:          clirun.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], args[2])
		},
	}
	clirun.Main(root.Execute)
}

func run(configName, dirID, timestampArg string) error {
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

	timestamp, err := oprunner.ParseIntArg("timestamp", timestampArg)
	if err != nil {
		return err
	}

	// Stamp doesn't mount, format, or chown, so it doesn't require
	// the superuser here, unlike dircontrol and increment.

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

	meta, err := image.LoadOrCreateMeta(metaPath, tree.MaxSize)
	if err != nil {
		return err
	}

	if err := snapshot.Stamp(meta, metaPath, timestamp); err != nil {
		return err
	}

	clirun.Succeedf("stamped backup.0 for %s at %d", tree.Name, timestamp)
	return nil
}
