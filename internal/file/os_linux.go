// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build linux

package file

import (
	"os"

	"golang.org/x/sys/unix"
)

// datasync flushes file contents without forcing a metadata-only update.
func datasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}

func advise(f *os.File, mode Mode) {
	advice := unix.FADV_RANDOM
	if mode == Append {
		advice = unix.FADV_SEQUENTIAL
	}
	// advisory only: failures don't matter
	_ = unix.Fadvise(int(f.Fd()), 0, 0, advice)
}
