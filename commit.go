// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"fmt"
	"time"

	"github.com/bpowers/nudb/internal/bucket"
	"github.com/bpowers/nudb/internal/bulkio"
	"github.com/bpowers/nudb/internal/cache"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/format"
	"github.com/bpowers/nudb/internal/pool"
)

// each insert adds loadUnit to frac; a bucket splits every thresh
const loadUnit = 65536

type commitStats struct {
	records int
	bytes   int64
	spills  int
	splits  int
	dirty   int
}

func (s *Store) commit() error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	start := time.Now()
	st, err := s.doCommit()
	if err != nil {
		s.fail(err)
		return err
	}
	if st.records == 0 {
		return nil
	}
	elapsed := time.Since(start)
	s.commits.Add(1)
	s.lastCommit.Store(int64(elapsed))
	s.logger.Debug("commit",
		"records", st.records,
		"bytes", st.bytes,
		"buckets", st.dirty,
		"splits", st.splits,
		"spills", st.spills,
		"duration", elapsed)
	return nil
}

// doCommit moves the open pool to disk.  The sequence matters for both
// recovery and concurrent readers:
//
//  1. the open pool becomes the committing pool, still visible to Fetch
//  2. the log header records the current file sizes
//  3. values and spills are appended to the data file while the touched
//     buckets are updated in a private cache, saving their pre-images
//  4. the updated buckets are published to readers and the generation
//     advances
//  5. the pre-images are made durable in the log
//  6. readers that might still be reading old key file buckets drain
//  7. the updated buckets overwrite the key file
//  8. everything is synced and the log is emptied
func (s *Store) doCommit() (commitStats, error) {
	var st commitStats
	work := s.spare

	s.mu.Lock()
	if s.p1.IsEmpty() {
		s.mu.Unlock()
		return st, nil
	}
	s.p0, s.p1 = s.p1, s.p0
	s.poolThresh = max(s.poolThresh, s.p0.DataSize())
	s.limit.Broadcast()
	s.mu.Unlock()

	p0 := s.p0
	st.records = p0.Len()
	work.Reserve(p0.Len())

	kfSize, err := s.kf.Size()
	if err != nil {
		return st, fmt.Errorf("kf.Size: %w", err)
	}
	dfSize, err := s.df.Size()
	if err != nil {
		return st, fmt.Errorf("df.Size: %w", err)
	}
	lh := format.LogFileHeader{
		Version:     format.CurrentVersion,
		UID:         s.kh.UID,
		Appnum:      s.kh.Appnum,
		KeySize:     s.kh.KeySize,
		Salt:        s.kh.Salt,
		Pepper:      s.kh.Pepper,
		BlockSize:   s.kh.BlockSize,
		KeyFileSize: kfSize,
		DatFileSize: dfSize,
	}
	if err := format.WriteLogFileHeader(s.lf, &lh); err != nil {
		return st, fmt.Errorf("writing log header: %w", err)
	}
	if err := s.lf.Sync(); err != nil {
		return st, fmt.Errorf("lf.Sync: %w", err)
	}

	buckets, modulus := s.buckets, s.modulus
	w := bulkio.NewWriter(s.df, dfSize, s.o.bulkWriteSize)
	err = p0.Each(func(item *pool.Item) error {
		item.Offset = uint64(w.Offset())
		size := format.ValueSize(uint64(len(item.Data)), s.kh.KeySize)
		p, err := w.Prepare(int(size))
		if err != nil {
			return err
		}
		field.PutUint48(p, uint64(len(item.Data)))
		copy(p[field.Uint48Size:], item.Key)
		copy(p[field.Uint48Size+len(item.Key):], item.Data)
		if _, err := w.Write(p); err != nil {
			return err
		}
		st.bytes += size
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("appending values: %w", err)
	}

	tmp := bucket.Alloc(s.kh.BlockSize)
	err = p0.Each(func(item *pool.Item) error {
		if s.frac += loadUnit; s.frac >= s.thresh {
			s.frac -= s.thresh
			if buckets >= format.MaxBuckets {
				return fmt.Errorf("%w: %d", fault.ErrTooManyBuckets, buckets)
			}
			if buckets == modulus {
				modulus *= 2
			}
			n1 := buckets - modulus/2
			n2 := buckets
			buckets++
			b1, err := s.load(n1, work)
			if err != nil {
				return err
			}
			b2 := work.Create(n2)
			spills, err := s.split(b1, b2, tmp, n2, buckets, modulus, w)
			if err != nil {
				return err
			}
			st.splits++
			st.spills += spills
		}
		n := bucket.Index(item.Hash, buckets, modulus)
		b, err := s.load(n, work)
		if err != nil {
			return err
		}
		spilled, err := bucket.MaybeSpill(b, w)
		if err != nil {
			return err
		}
		if spilled {
			st.spills++
		}
		b.Insert(item.Offset, uint64(len(item.Data)), item.Hash)
		return nil
	})
	if err != nil {
		return st, fmt.Errorf("updating buckets: %w", err)
	}
	if err := w.Flush(); err != nil {
		return st, err
	}
	st.dirty = work.Len()

	s.mu.Lock()
	s.spare, s.c1 = s.c1, work
	p0.Clear()
	s.buckets = buckets
	s.modulus = modulus
	s.gate.Start()
	s.mu.Unlock()

	lw := bulkio.NewWriter(s.lf, format.LogFileHeaderSize, s.o.bulkWriteSize)
	err = s.c0.Each(func(n uint64, b bucket.Bucket) error {
		p, err := lw.Prepare(format.LogRecordHeaderSize + b.CompactSize())
		if err != nil {
			return err
		}
		field.PutUint64(p, n)
		copy(p[format.LogRecordHeaderSize:], b.Compact())
		_, err = lw.Write(p)
		return err
	})
	if err != nil {
		return st, fmt.Errorf("logging buckets: %w", err)
	}
	s.c0.Clear()
	if err := lw.Flush(); err != nil {
		return st, fmt.Errorf("logging buckets: %w", err)
	}
	if err := s.lf.Sync(); err != nil {
		return st, fmt.Errorf("lf.Sync: %w", err)
	}

	s.gate.Finish()

	err = work.Each(func(n uint64, b bucket.Bucket) error {
		return b.WriteKeyFile(s.kf, n)
	})
	if err != nil {
		return st, fmt.Errorf("writing buckets: %w", err)
	}

	if err := s.df.Sync(); err != nil {
		return st, fmt.Errorf("df.Sync: %w", err)
	}
	if err := s.kf.Sync(); err != nil {
		return st, fmt.Errorf("kf.Sync: %w", err)
	}
	if err := s.lf.Truncate(0); err != nil {
		return st, fmt.Errorf("lf.Truncate: %w", err)
	}
	if err := s.lf.Sync(); err != nil {
		return st, fmt.Errorf("lf.Sync: %w", err)
	}

	// the key file now has everything; readers can go back to it
	s.mu.Lock()
	s.c1.Clear()
	s.mu.Unlock()
	return st, nil
}

// load returns bucket n from the working cache, reading it from the key
// file and saving its pre-image the first time it is touched.
func (s *Store) load(n uint64, work *cache.Cache) (bucket.Bucket, error) {
	if b, ok := work.Find(n); ok {
		return b, nil
	}
	if b, ok := s.c0.Find(n); ok {
		return work.Insert(n, b), nil
	}
	tmp := bucket.Alloc(s.kh.BlockSize)
	if err := tmp.ReadKeyFile(s.kf, n); err != nil {
		return bucket.Bucket{}, err
	}
	s.c0.Insert(n, tmp)
	return work.Insert(n, tmp), nil
}

// split moves the entries of b1, including those in its spill chain, that
// now hash to n2 into b2.  Entries staying in b1 are compacted into new
// spill records as needed; the old chain becomes garbage.
func (s *Store) split(b1, b2, tmp bucket.Bucket, n2, buckets, modulus uint64, w *bulkio.Writer) (int, error) {
	if b1.IsEmpty() && b1.Spill() == 0 {
		return 0, nil
	}
	for i := 0; i < b1.Size(); {
		e := b1.Entry(i)
		if bucket.Index(e.Hash, buckets, modulus) == n2 {
			b2.Insert(e.Offset, e.Size, e.Hash)
			b1.Erase(i)
		} else {
			i++
		}
	}

	spills := 0
	spill := b1.Spill()
	b1.SetSpill(0)
	for spill != 0 {
		// the spill record might still be sitting in the write buffer
		if int64(spill)+format.SpillSize(s.kh.BucketSize) > w.Offset()-int64(w.Buffered()) {
			if err := w.Flush(); err != nil {
				return spills, err
			}
		}
		if err := tmp.ReadSpill(s.df, spill); err != nil {
			return spills, err
		}
		for i := 0; i < tmp.Size(); i++ {
			e := tmp.Entry(i)
			dst := b1
			if bucket.Index(e.Hash, buckets, modulus) == n2 {
				dst = b2
			}
			spilled, err := bucket.MaybeSpill(dst, w)
			if err != nil {
				return spills, err
			}
			if spilled {
				spills++
			}
			dst.Insert(e.Offset, e.Size, e.Hash)
		}
		spill = tmp.Spill()
	}
	return spills, nil
}
