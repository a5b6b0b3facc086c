// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package image manages sparse backing images: creation, formatting,
// loop-mount/unmount, first-mount ownership, and image-size metadata
// bookkeeping.
package image

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Outcome reports what EnsureImage had to do to produce the image file.
type Outcome int

const (
	// Exists means a regular file was already present at the requested path.
	Exists Outcome = iota
	// Created means the file had to be allocated and formatted; the caller
	// must initialize ownership on the first mount that follows.
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "exists"
}

// EnsureMountpoint makes sure path exists as a directory, creating it if
// necessary.
func EnsureMountpoint(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err == nil {
		return fi.IsDir(), nil
	}
	if !os.IsNotExist(err) {
		return false, &MountError{Mountpoint: path, Err: err}
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return false, &MountError{Mountpoint: path, Err: err}
	}
	fi, err = os.Stat(path)
	if err != nil {
		return false, &MountError{Mountpoint: path, Err: err}
	}
	return fi.IsDir(), nil
}

// EnsureImage creates and formats the sparse image file at file if it does
// not already exist. An existing regular file is accepted as-is (Exists);
// an existing non-regular file is an error.
func EnsureImage(a Attacher, file string, size int64, fsType string, mkfsArgs []string) (Outcome, error) {
	fi, err := os.Stat(file)
	if err == nil {
		if !fi.Mode().IsRegular() {
			return Exists, &FormatError{File: file, Err: fmt.Errorf("exists but is not a regular file")}
		}
		return Exists, nil
	}
	if !os.IsNotExist(err) {
		return Exists, &FormatError{File: file, Err: err}
	}

	if err := allocateSparse(file, size); err != nil {
		return Exists, &FormatError{File: file, Err: err}
	}

	dev, err := a.Attach(file)
	if err != nil {
		os.Remove(file)
		return Exists, &FormatError{File: file, Err: err}
	}

	if err := a.Mkfs(dev, fsType, mkfsArgs); err != nil {
		a.Detach(dev)
		os.Remove(file)
		return Exists, &FormatError{File: file, Err: err}
	}

	if err := a.Detach(dev); err != nil {
		return Exists, &FormatError{File: file, Err: err}
	}

	return Created, nil
}

// allocateSparse creates file of logical length size with minimal physical
// backing store, by writing a single zero byte at the final offset.
func allocateSparse(file string, size int64) error {
	if size <= 0 {
		return fmt.Errorf("image size must be positive, got %d", size)
	}
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte{0}, size-1); err != nil {
		return err
	}
	return nil
}

// MountResult reports the outcome of MountImage's size reconciliation.
type MountResult struct {
	// RecordedSize is the image.size value found in (or just written to)
	// .tardis_meta.
	RecordedSize int64
	// SizeMatches is false when RecordedSize differs from the caller's
	// declaredSize; the caller should warn and keep using RecordedSize.
	SizeMatches bool
	// FirstMount is true when this call created the metadata file, meaning
	// ownership should be established (owner/group chown already applied
	// by this call if provided).
	FirstMount bool
}

// MountImage performs the idempotent mount sequence: attach and mount
// (unless a filesystem of fsType is already mounted there), load or create
// the metadata file, and first-mount ownership initialization. It never
// formats; EnsureImage does that.
func MountImage(a Attacher, file, mountpoint, fsType string, extraMountOpts []string, declaredSize int64, owner, group string) (MountResult, error) {
	existing, mounted, err := findMount(mountpoint)
	if err != nil {
		return MountResult{}, &MountError{Mountpoint: mountpoint, Err: err}
	}

	// unwind undoes a mount this call performed itself, so every failure
	// path below leaves the image unmounted and the loop device detached.
	// An already-present mount (the idempotent remount case) is left alone.
	unwind := func() {}

	if mounted {
		if existing.FsType != fsType {
			return MountResult{}, &MountError{Mountpoint: mountpoint, Err: fmt.Errorf(
				"mounted filesystem type %q does not match configured type %q", existing.FsType, fsType)}
		}
	} else {
		dev, err := a.Attach(file)
		if err != nil {
			return MountResult{}, &MountError{Mountpoint: mountpoint, Err: err}
		}
		data := strings.Join(extraMountOpts, ",")
		if err := unix.Mount(dev, mountpoint, fsType, 0, data); err != nil {
			a.Detach(dev)
			return MountResult{}, &MountError{Mountpoint: mountpoint, Err: err}
		}
		unwind = func() {
			unix.Unmount(mountpoint, 0)
			a.Detach(dev)
		}
	}

	metaPath := filepath.Join(mountpoint, MetaFileName)
	firstMount := false
	if _, statErr := os.Stat(metaPath); os.IsNotExist(statErr) {
		firstMount = true
	}

	meta, err := LoadOrCreateMeta(metaPath, declaredSize)
	if err != nil {
		unwind()
		return MountResult{}, err
	}

	if firstMount && owner != "" {
		if err := chownRecursive(mountpoint, owner, group); err != nil {
			unwind()
			return MountResult{}, &MountError{Mountpoint: mountpoint, Err: err}
		}
	}

	recorded, ok := RecordedSize(meta)
	if !ok {
		recorded = declaredSize
	}
	return MountResult{
		RecordedSize: recorded,
		SizeMatches:  recorded == declaredSize,
		FirstMount:   firstMount,
	}, nil
}

// UnmountImage verifies something is mounted at mountpoint, unmounts it,
// and detaches the backing loop device.
func UnmountImage(a Attacher, mountpoint string) error {
	entry, mounted, err := findMount(mountpoint)
	if err != nil {
		return &MountError{Mountpoint: mountpoint, Err: err}
	}
	if !mounted {
		return &MountError{Mountpoint: mountpoint, Err: fmt.Errorf("nothing mounted there")}
	}

	if err := unix.Unmount(mountpoint, 0); err != nil {
		return &MountError{Mountpoint: mountpoint, Err: err}
	}

	if strings.HasPrefix(entry.Device, "/dev/loop") {
		if err := a.Detach(entry.Device); err != nil {
			return &MountError{Mountpoint: mountpoint, Err: err}
		}
	}
	return nil
}

// chownRecursive walks root and applies owner:group (by name, resolved via
// os/user) to every entry, for first-mount ownership initialization.
func chownRecursive(root, owner, group string) error {
	u, err := user.Lookup(owner)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}

	gid := -1
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			return err
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return err
		}
	} else {
		gid, err = strconv.Atoi(u.Gid)
		if err != nil {
			return err
		}
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
