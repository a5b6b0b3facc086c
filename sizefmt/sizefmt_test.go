// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package sizefmt

import "testing"

// ===== ParseSize tests =====

func TestParseSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"512", 512, false},
		{"1K", 1024, false},
		{"1KB", 1024, false},
		{"1M", mega, false},
		{"40G", 40 * giga, false},
		{"1.5K", 1536, false},
		{"200MB", 200 * mega, false},
		{"", 0, true},
		{"10X", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseSize(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseSize(%q): want error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseSize(%q): unexpected error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseSize(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestIsSize(t *testing.T) {
	if !IsSize("40G") {
		t.Error("IsSize(40G) = false, want true")
	}
	if IsSize("40X") {
		t.Error("IsSize(40X) = true, want false")
	}
}

// ===== FormatSize tests =====

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1K"},
		{1536, "1K"}, // fractional KB dropped
		{mega - 1, "1023K"},
		{mega, "1M"},
		{int64(1.5 * mega), "1.5M"},
		{giga - 1, "1024M"},
		{giga, "1G"},
		{40 * giga, "40G"},
	}

	for _, tc := range cases {
		if got := FormatSize(tc.in); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// ===== round-trip law =====

func TestParseFormatRoundTrip(t *testing.T) {
	for _, n := range []int64{0, 1, 1023, 1024, mega, 5 * mega, giga, 40 * giga} {
		formatted := FormatSize(n)
		got, err := ParseSize(formatted)
		if err != nil {
			t.Fatalf("ParseSize(FormatSize(%d)=%q): %v", n, formatted, err)
		}
		if n < kilo {
			if got != n {
				t.Errorf("exact round-trip failed for %d: got %d via %q", n, got, formatted)
			}
			continue
		}
		// within one unit of the chosen scale
		var unit int64 = kilo
		switch {
		case n >= giga:
			unit = giga / 10
		case n >= mega:
			unit = mega / 10
		}
		diff := got - n
		if diff < 0 {
			diff = -diff
		}
		if diff > unit {
			t.Errorf("round-trip for %d via %q = %d, off by more than one unit (%d)", n, formatted, got, unit)
		}
	}
}

// ===== FormatMinutes tests =====

func TestFormatMinutes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 minutes"},
		{1, "1 minute"},
		{59, "59 minutes"},
		{60, "1 hour"},
		{90, "1 hour, 30 minutes"},
		{24 * 60, "1 day"},
		{24*60 + 60, "1 day, 1 hour"},
		{7 * 24 * 60, "1 week"},
		{7*24*60 + 24*60 + 60 + 1, "1 week, 1 day, 1 hour, 1 minute"},
		{2 * 7 * 24 * 60, "2 weeks"},
	}

	for _, tc := range cases {
		if got := FormatMinutes(tc.in); got != tc.want {
			t.Errorf("FormatMinutes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
