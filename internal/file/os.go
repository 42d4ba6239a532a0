// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync/atomic"

	"github.com/bpowers/nudb/internal/fault"
)

// OS is the FS backed by the operating system.
type OS struct{}

var _ FS = OS{}

type osFile struct {
	f        *os.File
	isClosed atomic.Bool
}

var _ File = &osFile{}

func flags(mode Mode) int {
	if mode == Read {
		return os.O_RDONLY
	}
	// O_APPEND is deliberately not used: os.File rejects WriteAt on it.
	return os.O_RDWR
}

func (OS) Create(mode Mode, path string) (File, error) {
	f, err := os.OpenFile(path, flags(mode)|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("%w: %s", fault.ErrAlreadyExists, path)
	} else if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	advise(f, mode)
	return &osFile{f: f}, nil
}

func (OS) Open(mode Mode, path string) (File, error) {
	f, err := os.OpenFile(path, flags(mode), 0)
	if err != nil {
		return nil, fmt.Errorf("os.OpenFile(%s): %w", path, err)
	}
	advise(f, mode)
	return &osFile{f: f}, nil
}

func (OS) Erase(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("os.Remove(%s): %w", path, err)
	}
	return nil
}

func (OS) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	} else if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("os.Stat(%s): %w", path, err)
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) {
	return o.f.ReadAt(p, off)
}

func (o *osFile) WriteAt(p []byte, off int64) (int, error) {
	return o.f.WriteAt(p, off)
}

func (o *osFile) Size() (int64, error) {
	stats, err := o.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("f.Stat: %w", err)
	}
	return stats.Size(), nil
}

func (o *osFile) Sync() error {
	if err := datasync(o.f); err != nil {
		return fmt.Errorf("sync %s: %w", o.f.Name(), err)
	}
	return nil
}

func (o *osFile) Truncate(size int64) error {
	if err := o.f.Truncate(size); err != nil {
		return fmt.Errorf("f.Truncate(%d): %w", size, err)
	}
	return nil
}

func (o *osFile) Close() error {
	if o.isClosed.Swap(true) {
		return nil
	}
	return o.f.Close()
}
