// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build unix

package file

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/bpowers/nudb/internal/fault"
)

var _ Locker = &osFile{}

// Lock takes a non-blocking exclusive flock on the file.
func (o *osFile) Lock() error {
	err := unix.Flock(int(o.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return fmt.Errorf("%w: %s", fault.ErrLocked, o.f.Name())
	} else if err != nil {
		return fmt.Errorf("flock(%s): %w", o.f.Name(), err)
	}
	return nil
}

// BlockSize returns the preferred I/O block size of the file system holding
// path, or of its parent directory if path does not exist yet.
func BlockSize(path string) (int, error) {
	var st unix.Statfs_t
	err := unix.Statfs(path, &st)
	if errors.Is(err, unix.ENOENT) {
		err = unix.Statfs(filepath.Dir(path), &st)
	}
	if err != nil {
		return 0, fmt.Errorf("statfs(%s): %w", path, err)
	}
	return int(st.Bsize), nil
}
