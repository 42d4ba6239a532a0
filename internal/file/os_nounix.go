// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

//go:build !unix

package file

// key files are not locked on these platforms

// BlockSize returns a 4KiB block, the common file system block size.
func BlockSize(string) (int, error) {
	return 4096, nil
}
