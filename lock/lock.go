// Copyright 2025 The Tardis Authors
// SPDX-License-Identifier: Apache-2.0

// Package lock implements the optional per-tree advisory lock file around
// mount…unmount sequences. The core operations never require it, but every
// operation that touches a given remote directory's image or snapshot ring
// MAY wrap the sequence in a Lock to serialize concurrent invocations
// against the same tree.
package lock

import (
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// FileName is the lock file created alongside a remote directory's image,
// at "<base>/<remotedir>.lock".
const FileName = ".lock"

// Lock is a held advisory lock on one remote directory tree. The zero value
// is not usable; construct with Acquire.
type Lock struct {
	fl    *flock.Flock
	Token string
}

// Acquire blocks until it holds an exclusive advisory lock on path, or
// returns an error if the underlying flock call fails outright. There is
// no timeout: suspension points here wait indefinitely on purpose, and a
// held lock is one more such suspension point.
//
// Token identifies this holder (a fresh UUID per acquisition) so a
// diagnostic dump of the lock file tells stale locks apart from live ones
// without relying on PID reuse across a reboot.
func Acquire(path string) (*Lock, error) {
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, &AcquireError{Path: path, Err: err}
	}

	l := &Lock{fl: fl, Token: uuid.New().String()}
	if err := l.writeBody(); err != nil {
		_ = fl.Unlock()
		return nil, &AcquireError{Path: path, Err: err}
	}
	return l, nil
}

// TryAcquire behaves like Acquire but returns immediately with ok == false
// if the lock is already held elsewhere, instead of blocking.
func TryAcquire(path string) (l *Lock, ok bool, err error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, &AcquireError{Path: path, Err: err}
	}
	if !locked {
		return nil, false, nil
	}

	l = &Lock{fl: fl, Token: uuid.New().String()}
	if err := l.writeBody(); err != nil {
		_ = fl.Unlock()
		return nil, false, &AcquireError{Path: path, Err: err}
	}
	return l, true, nil
}

// writeBody stamps the lock file with the holder token and acquisition time,
// purely as an operator diagnostic: flock's advisory lock state, not this
// file content, is what actually serializes invocations.
func (l *Lock) writeBody() error {
	body := fmt.Sprintf("holder=%s\nacquired=%s\npid=%d\n",
		l.Token, time.Now().UTC().Format(time.RFC3339), os.Getpid())
	return os.WriteFile(l.fl.Path(), []byte(body), 0600)
}

// Release drops the advisory lock. Callers MUST release on every exit
// path: defer Release immediately after a successful Acquire.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return &ReleaseError{Path: l.fl.Path(), Err: err}
	}
	return nil
}

// AcquireError wraps a failed attempt to take the advisory lock.
type AcquireError struct {
	Path string
	Err  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("lock: acquire %s: %v", e.Path, e.Err)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// ExitCode implements the shared CLI exit-code contract: a
// lock that cannot be acquired is a temporary/resource condition.
func (e *AcquireError) ExitCode() int { return 75 }

// ReleaseError wraps a failed attempt to drop the advisory lock. Since the
// lock is advisory and scoped to one tree, a failed release is logged by
// the caller but does not itself change the outcome of the operation that
// held it.
type ReleaseError struct {
	Path string
	Err  error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("lock: release %s: %v", e.Path, e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

// ExitCode implements the shared CLI exit-code contract.
func (e *ReleaseError) ExitCode() int { return 75 }
