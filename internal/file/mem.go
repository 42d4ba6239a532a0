// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package file

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/bpowers/nudb/internal/fault"
)

var errClosed = errors.New("file already closed")

// Mem is an in-memory FS.  File contents survive Close, so a test can
// reopen what it wrote.
type Mem struct {
	mu    sync.Mutex
	files map[string]*memBuffer
}

var _ FS = &Mem{}

func NewMem() *Mem {
	return &Mem{files: make(map[string]*memBuffer)}
}

type memBuffer struct {
	mu  sync.RWMutex
	buf []byte
}

type memFile struct {
	b      *memBuffer
	mu     sync.Mutex
	closed bool
}

func (m *Mem) Create(_ Mode, path string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		return nil, fmt.Errorf("%w: %s", fault.ErrAlreadyExists, path)
	}
	b := &memBuffer{}
	m.files[path] = b
	return &memFile{b: b}, nil
}

func (m *Mem) Open(_ Mode, path string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("open %s: file does not exist", path)
	}
	return &memFile{b: b}, nil
}

func (m *Mem) Erase(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *Mem) Exists(path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok, nil
}

// Bytes returns a copy of the contents of path, for inspection in tests.
func (m *Mem) Bytes(path string) []byte {
	m.mu.Lock()
	b, ok := m.files[path]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]byte(nil), b.buf...)
}

func (f *memFile) check() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	return nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	f.b.mu.RLock()
	defer f.b.mu.RUnlock()
	if off >= int64(len(f.b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, f.b.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *memFile) WriteAt(p []byte, off int64) (int, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if end := off + int64(len(p)); end > int64(len(f.b.buf)) {
		f.b.grow(end)
	}
	return copy(f.b.buf[off:], p), nil
}

func (b *memBuffer) grow(size int64) {
	if size <= int64(cap(b.buf)) {
		b.buf = b.buf[:size]
		return
	}
	buf := make([]byte, size, 2*size)
	copy(buf, b.buf)
	b.buf = buf
}

func (f *memFile) Size() (int64, error) {
	if err := f.check(); err != nil {
		return 0, err
	}
	f.b.mu.RLock()
	defer f.b.mu.RUnlock()
	return int64(len(f.b.buf)), nil
}

func (f *memFile) Sync() error {
	return f.check()
}

func (f *memFile) Truncate(size int64) error {
	if err := f.check(); err != nil {
		return err
	}
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	if size < int64(len(f.b.buf)) {
		clear(f.b.buf[size:])
		f.b.buf = f.b.buf[:size]
	} else {
		f.b.grow(size)
	}
	return nil
}

func (f *memFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
