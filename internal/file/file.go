// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package file is the byte-addressable file abstraction the store is
// written against.  OS is backed by the real file system; the in-memory
// and fault-injecting implementations exist for tests.
package file

import (
	"errors"
	"fmt"
	"io"

	"github.com/bpowers/nudb/internal/fault"
)

// Mode is a hint describing how a file will be accessed.
type Mode int

const (
	// Read is random-access reading only.
	Read Mode = iota
	// Append is mostly sequential writing at the end of the file, with
	// random reads.
	Append
	// Write is random-access reading and writing.
	Write
)

func (m Mode) String() string {
	switch m {
	case Read:
		return "read"
	case Append:
		return "append"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// File is an open file.  Implementations must allow concurrent ReadAt
// calls with each other and with WriteAt calls on disjoint ranges.
type File interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Sync() error
	Truncate(size int64) error
	Close() error
}

// Locker is implemented by files that support an exclusive advisory lock
// held until Close.
type Locker interface {
	Lock() error
}

// FS creates, opens and erases files by path.
type FS interface {
	// Create makes a new, empty file.  It fails with
	// fault.ErrAlreadyExists if path is already present.
	Create(mode Mode, path string) (File, error)
	Open(mode Mode, path string) (File, error)
	// Erase removes path.  Erasing a path that does not exist succeeds.
	Erase(path string) error
	Exists(path string) (bool, error)
}

// ReadFull reads exactly len(p) bytes at off, reporting fault.ErrShortRead
// if the file ends first.
func ReadFull(f io.ReaderAt, p []byte, off int64) error {
	n, err := f.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read %d of %d bytes at offset %d", fault.ErrShortRead, n, len(p), off)
	}
	return fmt.Errorf("ReadAt(%d, len: %d): %w", off, len(p), err)
}

// WriteFull writes all of p at off.
func WriteFull(f io.WriterAt, p []byte, off int64) error {
	n, err := f.WriteAt(p, off)
	if err != nil {
		return fmt.Errorf("WriteAt(%d, len: %d): %w", off, len(p), err)
	}
	if n != len(p) {
		return fmt.Errorf("short write of %d WriteAt(%d, len: %d)", n, off, len(p))
	}
	return nil
}
