// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

package image

import (
	"bufio"
	"os"
	"strings"
)

// mountEntry is one line of /proc/self/mounts: device, mountpoint, fstype.
type mountEntry struct {
	Device     string
	Mountpoint string
	FsType     string
}

// currentMounts reads the running kernel's mount table. Linux exposes this
// at /proc/self/mounts in fstab(5) format; this is the portable-enough
// substitute for parsing mount(8)'s own text output.
func currentMounts() ([]mountEntry, error) {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []mountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, mountEntry{
			Device:     unescapeMountField(fields[0]),
			Mountpoint: unescapeMountField(fields[1]),
			FsType:     fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// unescapeMountField reverses the octal escaping /proc/self/mounts applies
// to spaces, tabs, and backslashes in paths.
func unescapeMountField(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if oct, ok := parseOctalEscape(s[i+1 : i+4]); ok {
				b.WriteByte(oct)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func parseOctalEscape(s string) (byte, bool) {
	if len(s) != 3 {
		return 0, false
	}
	var v int
	for _, c := range s {
		if c < '0' || c > '7' {
			return 0, false
		}
		v = v*8 + int(c-'0')
	}
	return byte(v), true
}

// findMount returns the mount entry for mountpoint, if any is currently
// mounted there.
func findMount(mountpoint string) (mountEntry, bool, error) {
	entries, err := currentMounts()
	if err != nil {
		return mountEntry{}, false, err
	}
	// Last match wins, matching the kernel's own "most recent mount shadows
	// earlier ones at the same point" semantics.
	var found mountEntry
	ok := false
	for _, e := range entries {
		if e.Mountpoint == mountpoint {
			found = e
			ok = true
		}
	}
	return found, ok, nil
}
