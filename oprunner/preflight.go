// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package oprunner implements the shared preflight every server-side entry
// point runs before dispatching to the image, snapshot, and dumpstore
// packages: environment sanitization, config name and permission
// validation, numeric argument parsing, and the superuser check for
// operations that mount, format, or chown.
package oprunner

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/thewatcher/tardis/config"
	"github.com/thewatcher/tardis/sizefmt"
)

// configNamePattern is the allowed shape of a config name.
var configNamePattern = regexp.MustCompile(`^\w+$`)

// safeEnvKeys lists the environment variables SanitizeEnvironment
// preserves; everything else, including shell-inheritance variables like
// IFS, ENV, and BASH_ENV, is cleared before this process execs any external
// tool (mkfs, losetup, mount).
var safeEnvKeys = map[string]bool{
	"LANG":   true,
	"LC_ALL": true,
	"TZ":     true,
}

// defaultPath is the PATH this process execs external tools with,
// replacing whatever PATH it inherited.
const defaultPath = "/usr/sbin:/usr/bin:/sbin:/bin"

// SanitizeEnvironment clears the inherited environment except for a small
// safe allowlist and pins PATH to a fixed, trusted value.
func SanitizeEnvironment() {
	for _, kv := range os.Environ() {
		key := kv
		if i := strings.IndexByte(kv, '='); i >= 0 {
			key = kv[:i]
		}
		if !safeEnvKeys[key] {
			os.Unsetenv(key)
		}
	}
	os.Setenv("PATH", defaultPath)
}

// InstallRoot derives the install root from the running executable's own
// location: "<root>/bin/<binary>" resolves to "<root>".
func InstallRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", err
	}
	return filepath.Dir(filepath.Dir(resolved)), nil
}

// ValidateConfigName checks name against the `^\w+$` shape rule.
func ValidateConfigName(name string) error {
	if !configNamePattern.MatchString(name) {
		return &UsageError{Detail: "config name must match ^\\w+$, got " + name}
	}
	return nil
}

// ResolveConfigPath validates name and joins it against
// "<installRoot>/config", confirming the file exists.
func ResolveConfigPath(installRoot, name string) (string, error) {
	if err := ValidateConfigName(name); err != nil {
		return "", err
	}
	path := filepath.Join(installRoot, "config", name)
	if _, err := os.Stat(path); err != nil {
		return "", &ConfigError{Detail: "no such config", Err: err}
	}
	return path, nil
}

// CheckConfigMode rejects any config file with permission bits beyond
// owner read-write, mirroring config.Load's own strict-mode enforcement
// but surfaced as the CLI's dedicated exit-77 condition.
func CheckConfigMode(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return &ConfigError{Detail: "cannot stat config", Err: err}
	}
	if fi.Mode().Perm()&^os.FileMode(0600) != 0 {
		return &PermissionError{Detail: "config file mode must not exceed 0600"}
	}
	return nil
}

// RequireRoot enforces the superuser requirement for image/mount and
// snapshot-engine operations; stamp and dump-admit don't call this.
func RequireRoot() error {
	if os.Geteuid() != 0 {
		return &PermissionError{Detail: "must run as the superuser"}
	}
	return nil
}

// ParseSizeArg parses an argument declared numeric where the human
// K/M/G[B] suffixes are accepted: bytes and inode counts alike.
func ParseSizeArg(name, raw string) (int64, error) {
	n, err := sizefmt.ParseSize(raw)
	if err != nil {
		return 0, &UsageError{Detail: name + ": " + err.Error()}
	}
	return n, nil
}

// ParseIntArg parses a plain integer argument (e.g. a Unix timestamp),
// which never accepts the K/M/G size suffixes.
func ParseIntArg(name, raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &UsageError{Detail: name + ": " + err.Error()}
	}
	return n, nil
}

// cacheSuffix is appended to a config's own path to name its write-back
// cache file.
const cacheSuffix = ".cache"

// LoadConfig parses path, trying the msgpack write-back cache first and
// falling back to the canonical INI text on any cache miss or staleness;
// a fresh parse refreshes the cache for the next short-lived invocation.
// A failure to write the cache is not fatal: it's a pure speed-up, never
// the source of truth.
func LoadConfig(path string) (*config.Store, error) {
	fs := afero.NewOsFs()
	cachePath := path + cacheSuffix
	if store, ok, err := config.LoadCached(fs, cachePath, path); err == nil && ok {
		return store, nil
	}

	store, err := config.Load(fs, path)
	if err != nil {
		return nil, &ConfigError{Detail: "cannot parse config", Err: err}
	}
	_ = store.WriteCache(fs, cachePath, path)
	return store, nil
}
