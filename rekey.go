// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"fmt"
	"math"

	"github.com/bpowers/nudb/internal/bucket"
	"github.com/bpowers/nudb/internal/bulkio"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

// Rekey builds a new key file for an existing data file, with a new block
// size and load factor.  itemCount is the number of values in the data
// file, or zero to count them first.  bufferSize bounds the memory used
// for buckets; the data file is read once for every bufferSize bytes of
// buckets.
//
// The key file must not exist.  Rekey appends spill records to the data
// file; if it is interrupted, Recover removes them along with the partial
// key file.
func Rekey(datPath, keyPath, logPath string, blockSize int, loadFactor float64, itemCount uint64, bufferSize int, opts ...Option) (err error) {
	o := newOptions(opts)
	logger := o.logger

	if blockSize < format.KeyFileHeaderSize || blockSize > format.MaxBlockSize {
		return fmt.Errorf("%w: %d", fault.ErrInvalidBlockSize, blockSize)
	}
	capacity := format.Capacity(blockSize)
	if capacity < 1 {
		return fmt.Errorf("%w: block size %d", fault.ErrInvalidCapacity, blockSize)
	}
	lf16, err := format.LoadFactor(loadFactor)
	if err != nil {
		return err
	}
	if ok, err := o.fs.Exists(keyPath); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", fault.ErrAlreadyExists, keyPath)
	}
	if pending, err := logPending(o.fs, logPath); err != nil {
		return err
	} else if pending {
		return fmt.Errorf("%w: %s", fault.ErrLogFileExists, logPath)
	}
	if err := o.fs.Erase(logPath); err != nil {
		return err
	}

	var files closers
	defer func() {
		if cerr := files.close(); err == nil {
			err = cerr
		}
	}()

	df, dh, err := openDatFile(o, datPath, file.Append)
	if err != nil {
		return err
	}
	files.add(df)
	dfSize, err := df.Size()
	if err != nil {
		return fmt.Errorf("df.Size: %w", err)
	}
	hasher := o.hasher(dh.Salt)
	pepper := format.Pepper(hasher.Hash, dh.Salt)
	ks := dh.KeySize

	if itemCount == 0 {
		scan := dataScan{
			f:        df,
			end:      dfSize,
			keySize:  ks,
			readSize: o.readSize,
			value: func(int64, []byte, []byte) error {
				itemCount++
				return nil
			},
		}
		if err := scan.run(); err != nil {
			return err
		}
	}

	perBucket := float64(capacity) * float64(lf16) / 65536
	buckets := uint64(math.Max(1, math.Ceil(float64(itemCount)/perBucket)))
	if buckets > format.MaxBuckets {
		return fmt.Errorf("%w: %d", fault.ErrTooManyBuckets, buckets)
	}
	modulus := format.CeilPow2(buckets)

	// a log with no key file size marks a rekey in progress
	lf, err := o.fs.Create(file.Append, logPath)
	if err != nil {
		return err
	}
	files.add(lf)
	lh := format.LogFileHeader{
		Version:     format.CurrentVersion,
		UID:         dh.UID,
		Appnum:      dh.Appnum,
		KeySize:     ks,
		Salt:        dh.Salt,
		Pepper:      pepper,
		BlockSize:   blockSize,
		KeyFileSize: 0,
		DatFileSize: dfSize,
	}
	if err := format.WriteLogFileHeader(lf, &lh); err != nil {
		return fmt.Errorf("writing log header: %w", err)
	}
	if err := lf.Sync(); err != nil {
		return fmt.Errorf("lf.Sync: %w", err)
	}

	kf, err := o.fs.Create(file.Write, keyPath)
	if err != nil {
		return err
	}
	files.add(kf)
	kh := format.NewKeyFileHeader(dh.UID, dh.Appnum, ks, dh.Salt, pepper, blockSize, lf16)
	if err := format.WriteKeyFileHeader(kf, &kh); err != nil {
		return fmt.Errorf("writing key file header: %w", err)
	}
	if err := kf.Truncate(int64(buckets+1) * int64(blockSize)); err != nil {
		return fmt.Errorf("kf.Truncate: %w", err)
	}

	chunk := uint64(max(1, bufferSize/blockSize))
	buf := make([]byte, min(chunk, buckets)*uint64(blockSize))
	passes := (buckets + chunk - 1) / chunk
	scanned := uint64(dfSize - format.DatFileHeaderSize)
	total := passes * scanned
	w := bulkio.NewWriter(df, dfSize, o.bulkWriteSize)

	logger.Info("rekey",
		"items", itemCount,
		"buckets", buckets,
		"block_size", blockSize,
		"passes", passes)

	spills := 0
	for pass, b0 := uint64(0), uint64(0); b0 < buckets; pass, b0 = pass+1, b0+chunk {
		b1 := min(buckets, b0+chunk)
		clear(buf)
		scan := dataScan{
			f:        df,
			end:      dfSize,
			keySize:  ks,
			readSize: o.readSize,
			progress: func(done int64) {
				o.progress(pass*scanned+uint64(done-format.DatFileHeaderSize), total)
			},
			value: func(off int64, key, data []byte) error {
				h := hasher.Hash(key)
				n := bucket.Index(h, buckets, modulus)
				if n < b0 || n >= b1 {
					return nil
				}
				b := bucket.New(blockSize, buf[(n-b0)*uint64(blockSize):])
				spilled, err := bucket.MaybeSpill(b, w)
				if err != nil {
					return err
				}
				if spilled {
					spills++
				}
				b.Insert(uint64(off), uint64(len(data)), h)
				return nil
			},
		}
		if err := scan.run(); err != nil {
			return err
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for n := b0; n < b1; n++ {
			b := bucket.New(blockSize, buf[(n-b0)*uint64(blockSize):])
			if err := b.WriteKeyFile(kf, n); err != nil {
				return err
			}
		}
	}

	if err := df.Sync(); err != nil {
		return fmt.Errorf("df.Sync: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("kf.Sync: %w", err)
	}
	if err := files.close(); err != nil {
		return err
	}
	logger.Info("rekey finished", "key", keyPath, "spills", spills)
	return o.fs.Erase(logPath)
}
