// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Command dircontrol implements the ImageManager lifecycle entry point:
// "<config> <dir-id> mount|umount".
package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/thewatcher/tardis/image"
	"github.com/thewatcher/tardis/internal/clirun"
	"github.com/thewatcher/tardis/lock"
	"github.com/thewatcher/tardis/oprunner"
)

func main() {
	root := &cobra.Command{
		Use:           "dircontrol <config> <dir-id> mount|umount",
		Short:         "Create, mount, or unmount a backup tree's loopback image",
		Args:          clirun.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], args[2])
		},
	}
	clirun.Main(root.Execute)
}

func run(configName, dirID, action string) error {
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

	if action != "mount" && action != "umount" {
		return &oprunner.UsageError{Detail: fmt.Sprintf("action must be mount or umount, got %q", action)}
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

	log := clirun.NewLogger("tardis/image", action, dirID)

	imageFile := filepath.Join(server.Base, tree.RemoteDir+".timg")
	mountpoint := filepath.Join(server.Base, tree.RemoteDir)
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

	attacher := image.LosetupAttacher{}

	switch action {
	case "mount":
		if _, err := image.EnsureMountpoint(mountpoint); err != nil {
			return err
		}
		outcome, err := image.EnsureImage(attacher, imageFile, tree.MaxSize, server.FsType, server.FsOpts)
		if err != nil {
			return err
		}
		log.Info("image ensured", "outcome", outcome.String())

		owner, group := "", ""
		if outcome == image.Created {
			owner, group = server.User, server.Group
		}
		result, err := image.MountImage(attacher, imageFile, mountpoint, server.FsType, server.MountArgs, tree.MaxSize, owner, group)
		if err != nil {
			return err
		}
		if !result.SizeMatches {
			log.Warn("recorded image size does not match configured size",
				"recorded", result.RecordedSize, "configured", tree.MaxSize)
		}
		clirun.Succeedf("mounted %s at %s (image %s, recorded size %d)", tree.Name, mountpoint, outcome, result.RecordedSize)
		return nil

	case "umount":
		if err := image.UnmountImage(attacher, mountpoint); err != nil {
			return err
		}
		clirun.Succeedf("unmounted %s from %s", tree.Name, mountpoint)
		return nil
	}

	return nil
}
