// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bpowers/nudb/internal/bitset"
	"github.com/bpowers/nudb/internal/bucket"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

// HistogramSize is the number of spill chain length slots in VerifyInfo.
const HistogramSize = 10

// VerifyInfo describes a store examined by Verify.
type VerifyInfo struct {
	// Fast reports whether the entry index fit in the buffer.
	Fast bool

	Version    uint16
	UID        uint64
	Appnum     uint64
	KeySize    int
	Salt       uint64
	Pepper     uint64
	BlockSize  int
	LoadFactor float64
	Capacity   int
	Buckets    uint64
	BucketSize int

	DatFileSize int64
	KeyFileSize int64

	KeyCount   uint64 // entries reachable from the key file
	ValueCount uint64 // value records in the data file
	ValueBytes uint64 // total value size

	SpillCount      uint64 // spill records reachable from the key file
	SpillCountTotal uint64 // spill records in the data file
	SpillBytes      uint64
	SpillBytesTotal uint64

	// Histogram counts buckets by the length of their spill chain; the
	// last slot collects every longer chain.
	Histogram [HistogramSize]uint64

	// AvgFetch is the mean number of buckets read to find a key.
	AvgFetch float64
	// Waste is the fraction of the data file taken by unreachable spills.
	Waste float64
	// Overhead is the file bytes per byte of keys, values and record
	// sizes, minus one.
	Overhead float64
	// ActualLoad is KeyCount over the total bucket capacity.
	ActualLoad float64

	Orphaned       uint64 // value records no entry refers to
	Missing        uint64 // entries with no value record
	Duplicates     uint64 // value records more than one entry refers to
	HashMismatches uint64
	SizeMismatches uint64
}

func (v *VerifyInfo) err() error {
	var errs []error
	add := func(n uint64, kind error) {
		if n > 0 {
			errs = append(errs, fmt.Errorf("%w: %d", kind, n))
		}
	}
	add(v.Orphaned, fault.ErrOrphanedValue)
	add(v.Missing, fault.ErrMissingValue)
	add(v.Duplicates, fault.ErrDuplicateValue)
	add(v.HashMismatches, fault.ErrHashMismatch)
	add(v.SizeMismatches, fault.ErrSizeMismatch)
	return errors.Join(errs...)
}

func (v *VerifyInfo) finish() {
	if v.KeyCount > 0 {
		v.AvgFetch /= float64(v.KeyCount)
	}
	if v.DatFileSize > 0 {
		v.Waste = float64(v.SpillBytesTotal-min(v.SpillBytes, v.SpillBytesTotal)) / float64(v.DatFileSize)
	}
	if payload := v.ValueBytes + v.KeyCount*uint64(v.KeySize+field.Uint48Size); payload > 0 {
		v.Overhead = float64(v.KeyFileSize+v.DatFileSize)/float64(payload) - 1
	}
	if slots := float64(v.Capacity) * float64(v.Buckets); slots > 0 {
		v.ActualLoad = float64(v.KeyCount) / slots
	}
}

// indexed is a key file entry remembered by the fast algorithm.
type indexed struct {
	offset uint64
	size   uint64
	hash   uint64
}

const indexedSize = 3 * 8

// Verify reads a whole store and checks that every key file entry refers
// to exactly one value record and every value record is referenced.
// bufferSize bounds the memory used: when the key file entries fit, the
// data file is checked against an in-memory index, otherwise each value
// is looked up through the key file.
//
// A store with a log file has to be recovered first.  Structural problems
// are returned as errors; corruption found along the way is counted in
// the returned VerifyInfo and also reported as an error joining the kinds
// found.
func Verify(datPath, keyPath, logPath string, bufferSize int, opts ...Option) (*VerifyInfo, error) {
	o := newOptions(opts)
	if pending, err := logPending(o.fs, logPath); err != nil {
		return nil, err
	} else if pending {
		return nil, fmt.Errorf("%w: %s", fault.ErrLogFileExists, logPath)
	}

	var files closers
	defer func() { _ = files.close() }()

	df, dh, err := openDatFile(o, datPath, file.Read)
	if err != nil {
		return nil, err
	}
	files.add(df)
	if ok, err := o.fs.Exists(keyPath); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", fault.ErrNoKeyFile, keyPath)
	}
	kf, err := o.fs.Open(file.Read, keyPath)
	if err != nil {
		return nil, err
	}
	files.add(kf)
	kh, err := format.ReadKeyFileHeader(kf)
	if err != nil {
		return nil, err
	}
	hasher := o.hasher(kh.Salt)
	if err := kh.Verify(format.Pepper(hasher.Hash, kh.Salt)); err != nil {
		return nil, err
	}
	if err := format.VerifyDatKey(&dh, &kh); err != nil {
		return nil, err
	}

	v := &VerifyInfo{
		Version:    kh.Version,
		UID:        kh.UID,
		Appnum:     kh.Appnum,
		KeySize:    kh.KeySize,
		Salt:       kh.Salt,
		Pepper:     kh.Pepper,
		BlockSize:  kh.BlockSize,
		LoadFactor: float64(kh.LoadFactor) / 65536,
		Capacity:   kh.Capacity,
		Buckets:    kh.Buckets,
		BucketSize: kh.BucketSize,
	}
	if v.DatFileSize, err = df.Size(); err != nil {
		return nil, fmt.Errorf("df.Size: %w", err)
	}
	if v.KeyFileSize, err = kf.Size(); err != nil {
		return nil, fmt.Errorf("kf.Size: %w", err)
	}

	vr := &verifier{
		o:      o,
		hasher: hasher,
		df:     df,
		kf:     kf,
		kh:     &kh,
		info:   v,
		limit:  bufferSize,
		total:  uint64(v.KeyFileSize + v.DatFileSize),
	}
	if err := vr.walkKeyFile(); err != nil {
		return nil, err
	}
	if vr.index != nil {
		v.Fast = true
		err = vr.scanFast()
	} else {
		err = vr.scanSlow()
	}
	if err != nil {
		return nil, err
	}
	o.progress(vr.total, vr.total)
	v.finish()

	o.logger.Info("verified store",
		"fast", v.Fast,
		"keys", v.KeyCount,
		"values", v.ValueCount,
		"spills", v.SpillCountTotal,
		"avg_fetch", v.AvgFetch)
	return v, v.err()
}

type verifier struct {
	o      options
	hasher Hasher
	df     file.File
	kf     file.File
	kh     *format.KeyFileHeader
	info   *VerifyInfo
	limit  int
	total  uint64

	index []indexed
	over  bool // the index no longer fits
}

func (vr *verifier) remember(e bucket.Entry) {
	if vr.over {
		return
	}
	n := int64(len(vr.index) + 1)
	if n*indexedSize+bitset.SizeBytes(n) > int64(vr.limit) {
		vr.over = true
		vr.index = nil
		return
	}
	vr.index = append(vr.index, indexed{offset: e.Offset, size: e.Size, hash: e.Hash})
}

// walkKeyFile visits every bucket and spill chain, gathering the chain
// statistics and, if it fits, the entry index.
func (vr *verifier) walkKeyFile() error {
	v := vr.info
	b := bucket.Alloc(vr.kh.BlockSize)
	for n := uint64(0); n < v.Buckets; n++ {
		vr.o.progress(uint64(bucket.KeyFileOffset(n, vr.kh.BlockSize)), vr.total)
		if err := b.ReadKeyFile(vr.kf, n); err != nil {
			return err
		}
		depth := 0
		for {
			for i := 0; i < b.Size(); i++ {
				v.KeyCount++
				v.AvgFetch += float64(depth + 1)
				vr.remember(b.Entry(i))
			}
			spill := b.Spill()
			if spill == 0 {
				break
			}
			if err := b.ReadSpill(vr.df, spill); err != nil {
				return fmt.Errorf("bucket %d: %w", n, err)
			}
			// chains always point back toward the start of the file
			if next := b.Spill(); next != 0 && next >= spill {
				return fmt.Errorf("bucket %d: %w: spill at %d links forward to %d", n, fault.ErrInvalidSpillSize, spill, next)
			}
			v.SpillCount++
			v.SpillBytes += uint64(format.SpillSize(b.CompactSize()))
			depth++
		}
		v.Histogram[min(depth, HistogramSize-1)]++
	}
	if vr.over {
		vr.index = nil
	} else if vr.index == nil {
		vr.index = []indexed{}
	}
	return nil
}

func (vr *verifier) scan(value func(off int64, key, data []byte) error) error {
	v := vr.info
	base := uint64(v.KeyFileSize)
	s := dataScan{
		f:        vr.df,
		end:      v.DatFileSize,
		keySize:  v.KeySize,
		readSize: vr.o.readSize,
		progress: func(done int64) { vr.o.progress(base+uint64(done), vr.total) },
		value: func(off int64, key, data []byte) error {
			v.ValueCount++
			v.ValueBytes += uint64(len(data))
			return value(off, key, data)
		},
		spill: func(_ int64, size int) error {
			v.SpillCountTotal++
			v.SpillBytesTotal += uint64(format.SpillSize(size))
			return nil
		},
	}
	return s.run()
}

func (vr *verifier) scanFast() error {
	v := vr.info
	idx := vr.index
	sort.Slice(idx, func(i, j int) bool { return idx[i].offset < idx[j].offset })
	for i := 1; i < len(idx); i++ {
		if idx[i].offset == idx[i-1].offset {
			v.Duplicates++
		}
	}
	seen := bitset.New(int64(len(idx)))
	err := vr.scan(func(off int64, key, data []byte) error {
		i := sort.Search(len(idx), func(i int) bool { return idx[i].offset >= uint64(off) })
		if i == len(idx) || idx[i].offset != uint64(off) {
			v.Orphaned++
			return nil
		}
		for j := i; j < len(idx) && idx[j].offset == uint64(off); j++ {
			seen.Set(int64(j))
			vr.check(idx[j].size, idx[j].hash, key, data)
		}
		return nil
	})
	if err != nil {
		return err
	}
	seen.EachClear(func(i int64) {
		v.Missing++
		vr.o.logger.Debug("missing value", "offset", idx[i].offset, "size", idx[i].size)
	})
	return nil
}

func (vr *verifier) check(size, hash uint64, key, data []byte) {
	if uint64(len(data)) != size {
		vr.info.SizeMismatches++
	}
	if bucket.Hash(vr.hasher.Hash(key)) != hash {
		vr.info.HashMismatches++
	}
}

// scanSlow looks every value record up through the key file.
func (vr *verifier) scanSlow() error {
	v := vr.info
	b := bucket.Alloc(vr.kh.BlockSize)
	var referenced uint64
	err := vr.scan(func(off int64, key, data []byte) error {
		h := vr.hasher.Hash(key)
		h48 := bucket.Hash(h)
		if err := b.ReadKeyFile(vr.kf, bucket.Index(h, v.Buckets, vr.kh.Modulus)); err != nil {
			return err
		}
		refs := 0
		for {
			for i := b.LowerBound(h48); i < b.Size(); i++ {
				e := b.Entry(i)
				if e.Hash != h48 {
					break
				}
				if e.Offset == uint64(off) {
					refs++
					vr.check(e.Size, e.Hash, key, data)
				}
			}
			spill := b.Spill()
			if spill == 0 {
				break
			}
			if err := b.ReadSpill(vr.df, spill); err != nil {
				return err
			}
		}
		switch {
		case refs == 0:
			v.Orphaned++
		case refs > 1:
			v.Duplicates += uint64(refs - 1)
		}
		referenced += uint64(refs)
		return nil
	})
	if err != nil {
		return err
	}
	if v.KeyCount > referenced {
		v.Missing = v.KeyCount - referenced
	}
	return nil
}
