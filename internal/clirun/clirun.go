// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package clirun holds the small amount of wiring every tardis entry point
// in cmd/ shares: the ERROR:/stdout diagnostic protocol every binary speaks
// and per-invocation slog construction.
package clirun

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/thewatcher/tardis/oprunner"
)

// ExactArgs is cobra.ExactArgs's argument-count check, but failing with an
// oprunner.UsageError so a wrong argument count maps to exit code 64
// through the same ExitCode path as every other usage failure, instead of
// cobra's generic untyped error.
func ExactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return &oprunner.UsageError{Detail: fmt.Sprintf("%s: expected %d argument(s), got %d", cmd.Use, n, len(args))}
		}
		return nil
	}
}

// exitCoder is implemented by every typed error in this module
// (oprunner.UsageError, image.MountError, snapshot.SpaceExhaustionError,
// and so on), letting Main map any returned error straight to a process
// exit code without a parallel switch statement duplicating that policy.
type exitCoder interface {
	ExitCode() int
}

// Main runs fn and translates its result into the wire-observable
// diagnostic protocol every binary speaks: on success, nothing further is
// printed here (the caller already printed its own success line via
// Succeedf); on failure, a single "ERROR: ..." line goes to stderr and the
// process exits with the error's ExitCode(), or 1 if it doesn't implement
// exitCoder.
func Main(fn func() error) {
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		var ec exitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}

// Succeedf prints a success line to stdout, the non-ERROR half of the
// protocol the client greps.
func Succeedf(format string, args ...any) {
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

// NewLogger builds the per-invocation structured logger: text handler,
// stderr, carrying the bracketed component tag (e.g. "[tardis/dumpstore]"),
// the operation name and the tree/dump id as baseline attributes.
func NewLogger(component, op, id string) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return slog.New(h).With("component", "["+component+"]", "op", op, "id", id)
}
