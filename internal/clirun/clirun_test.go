// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package clirun

import (
	"testing"

	"github.com/spf13/cobra"
)

// ===== ExactArgs =====

func TestExactArgsAccepts(t *testing.T) {
	cmd := &cobra.Command{Use: "thing"}
	if err := ExactArgs(2)(cmd, []string{"a", "b"}); err != nil {
		t.Errorf("ExactArgs(2) with 2 args = %v, want nil", err)
	}
}

func TestExactArgsRejectsWrongCount(t *testing.T) {
	cmd := &cobra.Command{Use: "thing"}
	err := ExactArgs(2)(cmd, []string{"a"})
	if err == nil {
		t.Fatal("expected error for wrong argument count")
	}
	ec, ok := err.(interface{ ExitCode() int })
	if !ok {
		t.Fatalf("error type = %T, want one implementing ExitCode()", err)
	}
	if ec.ExitCode() != 64 {
		t.Errorf("ExitCode() = %d, want 64", ec.ExitCode())
	}
}

// ===== NewLogger =====

func TestNewLoggerDoesNotPanic(t *testing.T) {
	log := NewLogger("tardis/test", "op", "id")
	log.Info("message", "k", "v")
}
