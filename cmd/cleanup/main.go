// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Command cleanup implements the DumpStore admit+physical-check entry
// point: "<config> <bytes>".
package main

import (
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/thewatcher/tardis/dumpstore"
	"github.com/thewatcher/tardis/internal/clirun"
	"github.com/thewatcher/tardis/oprunner"
	"github.com/thewatcher/tardis/sizefmt"
)

func main() {
	root := &cobra.Command{
		Use:           "cleanup <config> <bytes>",
		Short:         "Reserve space for an incoming database dump",
		Args:          clirun.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1])
		},
	}
	clirun.Main(root.Execute)
}

func run(configName, bytesArg string) error {
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

	// Dump-store admit doesn't mount, format, or chown, so it doesn't
	// require the superuser here.

	store, err := oprunner.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	server, err := oprunner.LoadServerConfig(store)
	if err != nil {
		return err
	}

	log := clirun.NewLogger("tardis/dumpstore", "cleanup", "")

	dir := filepath.Join(server.Base, server.DBDir)
	fs := afero.NewOsFs()

	result, err := dumpstore.AdmitDump(fs, dir, reqBytes, dumpstore.AdmitConfig{
		DBSizeLimit: server.DBSize,
		ForceDBs:    server.ForceDBs,
	})
	if err != nil {
		return err
	}
	if len(result.Evicted) > 0 {
		log.Info("evicted dumps", "names", result.Evicted, "display_count", result.EvictedDisplayCount)
	}
	for _, name := range result.CorruptEntries {
		log.Warn("corrupt dump entry", "name", name)
	}

	ok, stats, err := dumpstore.ConfirmPhysicalFree(dir, reqBytes)
	if err != nil {
		return err
	}
	if !ok {
		return &dumpstore.SpaceExhaustionError{
			Reason:         "physical free space below requested bytes",
			ShortfallBytes: reqBytes - stats.FreeBytes,
		}
	}

	clirun.Succeedf("admitted %s (used %s -> %s); physical free %s",
		sizefmt.FormatSize(reqBytes), sizefmt.FormatSize(result.UsedBefore),
		sizefmt.FormatSize(result.UsedAfter), sizefmt.FormatSize(stats.FreeBytes))
	return nil
}
