// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package image

import "testing"

// ===== unescapeMountField =====

func TestUnescapeMountFieldPlain(t *testing.T) {
	if got := unescapeMountField("/var/tardis/tree0"); got != "/var/tardis/tree0" {
		t.Errorf("got %q", got)
	}
}

func TestUnescapeMountFieldSpace(t *testing.T) {
	got := unescapeMountField(`/mnt/my\040backup`)
	if want := "/mnt/my backup"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestUnescapeMountFieldTab(t *testing.T) {
	got := unescapeMountField(`/mnt/a\011b`)
	if want := "/mnt/a\tb"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
