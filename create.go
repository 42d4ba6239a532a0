// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"fmt"

	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

// NewSalt returns a random salt for Create.
func NewSalt() (uint64, error) {
	return format.Random()
}

// Create makes a new, empty store: a data file and a key file with a
// single bucket.  None of the three files may exist beforehand.
func Create(datPath, keyPath, logPath string, appnum, salt uint64, keySize, blockSize int, loadFactor float64, opts ...Option) (err error) {
	o := newOptions(opts)

	if keySize < 1 || keySize > format.MaxKeySize {
		return fmt.Errorf("%w: %d", fault.ErrInvalidKeySize, keySize)
	}
	if blockSize < format.KeyFileHeaderSize || blockSize > format.MaxBlockSize {
		return fmt.Errorf("%w: %d", fault.ErrInvalidBlockSize, blockSize)
	}
	if format.Capacity(blockSize) < 1 {
		return fmt.Errorf("%w: block size %d", fault.ErrInvalidCapacity, blockSize)
	}
	lf, err := format.LoadFactor(loadFactor)
	if err != nil {
		return err
	}

	if ok, err := o.fs.Exists(logPath); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", fault.ErrAlreadyExists, logPath)
	}

	uid, err := format.Random()
	if err != nil {
		return err
	}

	df, err := o.fs.Create(file.Append, datPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = o.fs.Erase(datPath)
		}
	}()
	kf, err := o.fs.Create(file.Write, keyPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := kf.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = o.fs.Erase(keyPath)
		}
	}()

	hasher := o.hasher(salt)
	dh := format.DatFileHeader{
		Version: format.CurrentVersion,
		UID:     uid,
		Appnum:  appnum,
		KeySize: keySize,
		Salt:    salt,
	}
	kh := format.NewKeyFileHeader(uid, appnum, keySize, salt, format.Pepper(hasher.Hash, salt), blockSize, lf)

	if err := format.WriteDatFileHeader(df, &dh); err != nil {
		return fmt.Errorf("writing data file header: %w", err)
	}
	if err := format.WriteKeyFileHeader(kf, &kh); err != nil {
		return fmt.Errorf("writing key file header: %w", err)
	}
	// the first bucket, empty
	if err := file.WriteFull(kf, make([]byte, blockSize), int64(blockSize)); err != nil {
		return fmt.Errorf("writing key file bucket: %w", err)
	}
	if err := df.Sync(); err != nil {
		return fmt.Errorf("df.Sync: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("kf.Sync: %w", err)
	}

	o.logger.Info("created store",
		"dat", datPath,
		"key", keyPath,
		"uid", uid,
		"appnum", appnum,
		"key_size", keySize,
		"block_size", blockSize,
		"load_factor", loadFactor)
	return nil
}
