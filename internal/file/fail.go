// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package file

import (
	"errors"
	"sync/atomic"
)

// ErrInjected is returned by FailFS once its failure point is reached.
var ErrInjected = errors.New("injected failure")

// FailFS wraps an FS and fails the n-th I/O call (ReadAt, WriteAt, Sync or
// Truncate, counted across every file it opened) and every call after it,
// simulating a crash at that point.
type FailFS struct {
	inner  FS
	ops    atomic.Int64
	failAt atomic.Int64
}

var _ FS = &FailFS{}

// NewFailFS returns a FailFS that fails the failAt-th call.  Zero never fails.
func NewFailFS(inner FS, failAt int64) *FailFS {
	f := &FailFS{inner: inner}
	f.failAt.Store(failAt)
	return f
}

// Arm resets the call count and sets a new failure point.
func (f *FailFS) Arm(failAt int64) {
	f.ops.Store(0)
	f.failAt.Store(failAt)
}

// Failed reports whether the failure point has been reached.
func (f *FailFS) Failed() bool {
	n := f.failAt.Load()
	return n > 0 && f.ops.Load() >= n
}

func (f *FailFS) fail() bool {
	n := f.failAt.Load()
	return f.ops.Add(1) >= n && n > 0
}

func (f *FailFS) Create(mode Mode, path string) (File, error) {
	inner, err := f.inner.Create(mode, path)
	if err != nil {
		return nil, err
	}
	return &failFile{fs: f, inner: inner}, nil
}

func (f *FailFS) Open(mode Mode, path string) (File, error) {
	inner, err := f.inner.Open(mode, path)
	if err != nil {
		return nil, err
	}
	return &failFile{fs: f, inner: inner}, nil
}

func (f *FailFS) Erase(path string) error {
	if f.Failed() {
		return ErrInjected
	}
	return f.inner.Erase(path)
}

func (f *FailFS) Exists(path string) (bool, error) {
	return f.inner.Exists(path)
}

type failFile struct {
	fs    *FailFS
	inner File
}

func (f *failFile) ReadAt(p []byte, off int64) (int, error) {
	if f.fs.fail() {
		return 0, ErrInjected
	}
	return f.inner.ReadAt(p, off)
}

// WriteAt fails by writing nothing, modelling a crash before the write
// reached the disk.
func (f *failFile) WriteAt(p []byte, off int64) (int, error) {
	if f.fs.fail() {
		return 0, ErrInjected
	}
	return f.inner.WriteAt(p, off)
}

func (f *failFile) Size() (int64, error) {
	return f.inner.Size()
}

func (f *failFile) Sync() error {
	if f.fs.fail() {
		return ErrInjected
	}
	return f.inner.Sync()
}

func (f *failFile) Truncate(size int64) error {
	if f.fs.fail() {
		return ErrInjected
	}
	return f.inner.Truncate(size)
}

func (f *failFile) Close() error {
	return f.inner.Close()
}
