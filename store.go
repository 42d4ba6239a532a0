// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bpowers/nudb/internal/bucket"
	"github.com/bpowers/nudb/internal/cache"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
	"github.com/bpowers/nudb/internal/gentex"
	"github.com/bpowers/nudb/internal/pool"
)

// Stats is a snapshot of a store's counters.
type Stats struct {
	Inserts    uint64
	Fetches    uint64
	Commits    uint64
	LastCommit time.Duration
	// PoolItems and PoolBytes describe inserts not yet committed.
	PoolItems int
	PoolBytes int
	Buckets   uint64
}

// Store is an open store.  Fetch and Insert may be called from any number
// of goroutines.
type Store struct {
	o      options
	logger *slog.Logger
	hasher Hasher
	codec  Codec

	datPath string
	keyPath string
	logPath string
	df      file.File
	kf      file.File
	lf      file.File
	dh      format.DatFileHeader
	kh      format.KeyFileHeader

	insertMu sync.Mutex
	commitMu sync.Mutex

	// mu guards the fields readers see while a commit is running
	mu         sync.RWMutex
	limit      *sync.Cond
	p0         *pool.Pool // being committed
	p1         *pool.Pool // accepting inserts
	c1         *cache.Cache
	buckets    uint64
	modulus    uint64
	poolThresh int

	// only touched while holding commitMu
	c0     *cache.Cache // pre-images
	spare  *cache.Cache
	frac   uint64
	thresh uint64

	gate *gentex.Gentex

	wake    chan struct{}
	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool

	errMu sync.Mutex
	err   error

	inserts    atomic.Uint64
	fetches    atomic.Uint64
	commits    atomic.Uint64
	lastCommit atomic.Int64
}

// Open opens an existing store for reading and writing.  A store left
// with a non-empty log file by a crash has to be recovered with Recover
// first; an empty log holds no commit and is removed.
func Open(datPath, keyPath, logPath string, opts ...Option) (_ *Store, err error) {
	o := newOptions(opts)

	if ok, err := o.fs.Exists(keyPath); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("%w: %s", fault.ErrNoKeyFile, keyPath)
	}

	var opened []file.File
	defer func() {
		if err != nil {
			for _, f := range opened {
				_ = f.Close()
			}
		}
	}()

	df, err := o.fs.Open(file.Append, datPath)
	if err != nil {
		return nil, err
	}
	opened = append(opened, df)
	kf, err := o.fs.Open(file.Write, keyPath)
	if err != nil {
		return nil, err
	}
	opened = append(opened, kf)
	if l, ok := kf.(file.Locker); ok {
		if err := l.Lock(); err != nil {
			return nil, err
		}
	}
	// checked under the key file lock so a live store's log is never erased
	if pending, err := logPending(o.fs, logPath); err != nil {
		return nil, err
	} else if pending {
		return nil, fmt.Errorf("%w: %s", fault.ErrLogFileExists, logPath)
	}
	if err := o.fs.Erase(logPath); err != nil {
		return nil, err
	}

	dh, err := format.ReadDatFileHeader(df)
	if err != nil {
		return nil, err
	}
	if err := dh.Verify(); err != nil {
		return nil, err
	}
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

	lf, err := o.fs.Create(file.Append, logPath)
	if err != nil {
		return nil, err
	}

	s := &Store{
		o:          o,
		logger:     o.logger,
		hasher:     hasher,
		codec:      o.codec,
		datPath:    datPath,
		keyPath:    keyPath,
		logPath:    logPath,
		df:         df,
		kf:         kf,
		lf:         lf,
		dh:         dh,
		kh:         kh,
		p0:         pool.New(kh.KeySize, o.arenaAllocSize),
		p1:         pool.New(kh.KeySize, o.arenaAllocSize),
		c1:         cache.New(kh.BlockSize, o.arenaAllocSize),
		c0:         cache.New(kh.BlockSize, o.arenaAllocSize),
		spare:      cache.New(kh.BlockSize, o.arenaAllocSize),
		buckets:    kh.Buckets,
		modulus:    kh.Modulus,
		poolThresh: 1,
		thresh:     max(65536, uint64(kh.LoadFactor)*uint64(kh.Capacity)),
		gate:       gentex.New(),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	s.frac = s.thresh / 2
	s.limit = sync.NewCond(&s.mu)

	if s.background() {
		go s.run()
	} else {
		close(s.stopped)
	}

	s.logger.Debug("opened store",
		"dat", datPath,
		"key", keyPath,
		"buckets", kh.Buckets,
		"capacity", kh.Capacity,
		"key_size", kh.KeySize)
	return s, nil
}

func (s *Store) background() bool {
	return s.o.commitInterval > 0
}

// KeySize is the size every key of the store has.
func (s *Store) KeySize() int {
	return s.kh.KeySize
}

// Appnum is the application number the store was created with.
func (s *Store) Appnum() uint64 {
	return s.kh.Appnum
}

func (s *Store) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail poisons the store: every later operation returns err.
func (s *Store) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()

	s.mu.Lock()
	s.limit.Broadcast()
	s.mu.Unlock()
}

func (s *Store) check() error {
	if s.closed.Load() {
		return fault.ErrStoreClosed
	}
	return s.failure()
}

func (s *Store) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) checkKey(key []byte) error {
	if len(key) != s.kh.KeySize {
		return fmt.Errorf("%w: key is %d bytes, store uses %d", fault.ErrInvalidKeySize, len(key), s.kh.KeySize)
	}
	return nil
}

// Insert adds a key/value pair.  Inserting a key that is already in the
// store fails with ErrKeyExists.  The value is durable once the insert has
// been committed.
func (s *Store) Insert(key, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.checkKey(key); err != nil {
		return err
	}
	if len(value) == 0 || uint64(len(value)) > format.MaxValueSize {
		return fmt.Errorf("%w: %d", fault.ErrInvalidValueSize, len(value))
	}
	h := s.hasher.Hash(key)

	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	found, err := s.exists(h, key)
	if err != nil {
		return err
	} else if found {
		return fmt.Errorf("%w: %x", fault.ErrKeyExists, key)
	}

	data, err := s.codec.Compress(nil, value)
	if err != nil {
		return fmt.Errorf("%s: %w", s.codec.Name(), err)
	}
	if len(data) == 0 || uint64(len(data)) > format.MaxValueSize {
		return fmt.Errorf("%w: encoded size %d", fault.ErrInvalidValueSize, len(data))
	}

	s.mu.Lock()
	s.p1.Insert(h, key, data)
	s.inserts.Add(1)
	if s.o.commitLimit > 0 && s.p1.DataSize() >= s.o.commitLimit {
		if !s.background() {
			s.mu.Unlock()
			return s.commit()
		}
		s.notify()
		for s.p1.DataSize() >= s.o.commitLimit && s.failure() == nil && !s.closed.Load() {
			s.limit.Wait()
		}
	}
	notify := s.p1.DataSize() >= s.poolThresh
	s.mu.Unlock()

	if notify && s.background() {
		s.notify()
	}
	return nil
}

// Fetch returns the value stored for key, or ErrKeyNotFound.
func (s *Store) Fetch(key []byte) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	s.fetches.Add(1)
	h := s.hasher.Hash(key)

	var value []byte
	err := s.search(h, key, func(data []byte) error {
		v, err := s.codec.Decompress(nil, data)
		if err != nil {
			return fmt.Errorf("%s: %w", s.codec.Name(), err)
		}
		// the pool's memory is recycled after commit
		value = bytes.Clone(v)
		return nil
	}, func(b bucket.Bucket) error {
		var err error
		value, err = s.fetchChain(h, key, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// search looks key up in the pools and then in the bucket chain for h.
// pooled runs under the read lock with the pooled (encoded) value; chain
// runs with a private copy of the first bucket in the chain.
func (s *Store) search(h uint64, key []byte, pooled func(data []byte) error, chain func(b bucket.Bucket) error) error {
	s.mu.RLock()
	for _, p := range [...]*pool.Pool{s.p1, s.p0} {
		if item, ok := p.Find(key); ok {
			err := pooled(item.Data)
			s.mu.RUnlock()
			return err
		}
	}
	n := bucket.Index(h, s.buckets, s.modulus)
	b := bucket.Alloc(s.kh.BlockSize)
	if cached, ok := s.c1.Find(n); ok {
		b.CopyFrom(cached)
		s.mu.RUnlock()
		return chain(b)
	}
	// the key file bucket must not be overwritten while we read it
	gen := s.gate.Lock()
	s.mu.RUnlock()
	defer s.gate.Unlock(gen)
	if err := b.ReadKeyFile(s.kf, n); err != nil {
		return err
	}
	return chain(b)
}

func (s *Store) readRecord(off uint64, p []byte) error {
	if err := file.ReadFull(s.df, p, int64(off)); err != nil {
		if fault.IsErrShort(err) {
			return fmt.Errorf("value at %d: %w: %w", off, fault.ErrShortDataRecord, err)
		}
		return fmt.Errorf("value at %d: %w", off, err)
	}
	return nil
}

// readRecordHeader reads the value record for e into p, checking its size
// against the bucket entry.
func (s *Store) readRecordHeader(e bucket.Entry, p []byte) error {
	if err := s.readRecord(e.Offset, p); err != nil {
		return err
	}
	if size := field.Uint48(p); size != e.Size {
		return fmt.Errorf("value at %d: %w: record has %d bytes, bucket %d", e.Offset, fault.ErrSizeMismatch, size, e.Size)
	}
	return nil
}

func (s *Store) fetchChain(h uint64, key []byte, b bucket.Bucket) ([]byte, error) {
	h48 := bucket.Hash(h)
	ks := s.kh.KeySize
	for {
		for i := b.LowerBound(h48); i < b.Size(); i++ {
			e := b.Entry(i)
			if e.Hash != h48 {
				break
			}
			rec := make([]byte, format.ValueSize(e.Size, ks))
			if err := s.readRecordHeader(e, rec); err != nil {
				return nil, err
			}
			k := rec[field.Uint48Size : field.Uint48Size+ks]
			if !bytes.Equal(k, key) {
				// a collision is fine, an entry pointing at a key that
				// hashes elsewhere is not
				if bucket.Hash(s.hasher.Hash(k)) != e.Hash {
					return nil, fmt.Errorf("value at %d: %w", e.Offset, fault.ErrHashMismatch)
				}
				continue
			}
			v, err := s.codec.Decompress(nil, rec[field.Uint48Size+ks:])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.codec.Name(), err)
			}
			return v, nil
		}
		spill := b.Spill()
		if spill == 0 {
			return nil, fault.ErrKeyNotFound
		}
		if err := b.ReadSpill(s.df, spill); err != nil {
			return nil, err
		}
	}
}

// exists reports whether key is pooled or reachable from its bucket.
func (s *Store) exists(h uint64, key []byte) (bool, error) {
	found := false
	h48 := bucket.Hash(h)
	ks := s.kh.KeySize
	err := s.search(h, key, func([]byte) error {
		found = true
		return nil
	}, func(b bucket.Bucket) error {
		rec := make([]byte, field.Uint48Size+ks)
		for {
			for i := b.LowerBound(h48); i < b.Size(); i++ {
				e := b.Entry(i)
				if e.Hash != h48 {
					break
				}
				if err := s.readRecord(e.Offset, rec); err != nil {
					return err
				}
				if bytes.Equal(rec[field.Uint48Size:], key) {
					found = true
					return nil
				}
			}
			spill := b.Spill()
			if spill == 0 {
				return nil
			}
			if err := b.ReadSpill(s.df, spill); err != nil {
				return err
			}
		}
	})
	return found, err
}

// Commit writes every pending insert to disk and waits for it to be
// durable.
func (s *Store) Commit() error {
	if err := s.check(); err != nil {
		return err
	}
	return s.commit()
}

// run is the background committer.
func (s *Store) run() {
	defer close(s.stopped)
	t := time.NewTicker(s.o.commitInterval)
	defer t.Stop()
	for {
		idle := false
		select {
		case <-s.stop:
			return
		case <-s.wake:
		case <-t.C:
			s.mu.RLock()
			idle = s.p1.DataSize() < s.poolThresh
			s.mu.RUnlock()
		}
		if err := s.commit(); err != nil {
			s.logger.Error("background commit failed", "err", err)
			return
		}
		if idle {
			s.reclaim()
		}
	}
}

// reclaim lowers the commit threshold and returns arena memory when the
// store is quiet.
func (s *Store) reclaim() {
	now := time.Now()
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poolThresh = max(1, s.poolThresh/2)
	for _, p := range [...]*pool.Pool{s.p0, s.p1} {
		p.Periodic(now)
		p.ShrinkToFit()
	}
	for _, c := range [...]*cache.Cache{s.c0, s.c1, s.spare} {
		c.Periodic(now)
		c.ShrinkToFit()
	}
}

// Close commits pending inserts, closes the files and removes the log
// file.  If the store failed, the log file is left for Recover.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return fault.ErrStoreClosed
	}
	close(s.stop)
	<-s.stopped

	err := s.commit()

	s.mu.Lock()
	s.limit.Broadcast()
	s.mu.Unlock()

	cerr := errors.Join(s.df.Close(), s.kf.Close(), s.lf.Close())
	if err != nil {
		return err
	}
	if cerr != nil {
		return cerr
	}
	return s.o.fs.Erase(s.logPath)
}

// Stats returns the store's counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Inserts:    s.inserts.Load(),
		Fetches:    s.fetches.Load(),
		Commits:    s.commits.Load(),
		LastCommit: time.Duration(s.lastCommit.Load()),
		PoolItems:  s.p1.Len() + s.p0.Len(),
		PoolBytes:  s.p1.DataSize() + s.p0.DataSize(),
		Buckets:    s.buckets,
	}
}
