// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

type testPaths struct {
	dat, key, log string
}

func memPaths() testPaths {
	return testPaths{dat: "db.dat", key: "db.key", log: "db.log"}
}

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("%08d", i))
}

func testValue(i int) []byte {
	return []byte(fmt.Sprintf("%07x", i))
}

func createStore(t *testing.T, fs file.FS, p testPaths, blockSize int, loadFactor float64) {
	t.Helper()
	salt, err := NewSalt()
	require.NoError(t, err)
	require.NoError(t, Create(p.dat, p.key, p.log, 1, salt, 8, blockSize, loadFactor, WithFS(fs)))
}

func openStore(t *testing.T, fs file.FS, p testPaths, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithFS(fs), WithCommitInterval(0), WithBulkWriteSize(4096), WithReadSize(4096)}, opts...)
	s, err := Open(p.dat, p.key, p.log, opts...)
	require.NoError(t, err)
	return s
}

func insertRange(t *testing.T, s *Store, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		require.NoError(t, s.Insert(testKey(i), testValue(i)))
	}
}

func requireRange(t *testing.T, s *Store, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		v, err := s.Fetch(testKey(i))
		require.NoError(t, err, "key %d", i)
		require.Equal(t, testValue(i), v, "key %d", i)
	}
}

func TestStore_InsertFetch(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	s := openStore(t, fs, p)

	insertRange(t, s, 0, 100)
	// pending inserts are visible before they are committed
	requireRange(t, s, 0, 100)
	_, err := s.Fetch(testKey(100))
	assert.True(t, errors.Is(err, ErrKeyNotFound))

	require.NoError(t, s.Commit())
	requireRange(t, s, 0, 100)
	_, err = s.Fetch(testKey(100))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	assert.True(t, IsErrNotFound(err))

	err = s.Insert(testKey(7), []byte("other"))
	assert.True(t, errors.Is(err, ErrKeyExists))
	assert.True(t, IsErrExists(err))

	st := s.Stats()
	assert.Equal(t, uint64(100), st.Inserts)
	assert.Equal(t, uint64(1), st.Commits)
	assert.Equal(t, 0, st.PoolItems)
	assert.Equal(t, 8, s.KeySize())
	assert.Equal(t, uint64(1), s.Appnum())

	require.NoError(t, s.Close())
	exists, err := fs.Exists(p.log)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStore_InvalidSizes(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	s := openStore(t, fs, p)
	defer func() { require.NoError(t, s.Close()) }()

	err := s.Insert([]byte("short"), []byte("v"))
	assert.True(t, errors.Is(err, ErrInvalidKeySize))
	err = s.Insert(testKey(1), nil)
	assert.True(t, errors.Is(err, ErrInvalidValueSize))
	_, err = s.Fetch([]byte("much too long"))
	assert.True(t, errors.Is(err, ErrInvalidKeySize))
}

func TestStore_Closed(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	s := openStore(t, fs, p)
	insertRange(t, s, 0, 10)
	require.NoError(t, s.Close())

	assert.True(t, errors.Is(s.Close(), ErrStoreClosed))
	assert.True(t, errors.Is(s.Insert(testKey(20), testValue(20)), ErrStoreClosed))
	_, err := s.Fetch(testKey(1))
	assert.True(t, errors.Is(err, ErrStoreClosed))

	// Close committed the pending inserts
	s = openStore(t, fs, p)
	requireRange(t, s, 0, 10)
	require.NoError(t, s.Close())
}

// Capacity(256) is 13, so 510 keys force many splits and spills.
func TestStore_SmallBlocks(t *testing.T) {
	const n = 510
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 256, 0.5)

	s := openStore(t, fs, p)
	for i := 0; i < n; i++ {
		require.NoError(t, s.Insert(testKey(i), testValue(i)))
		if i%50 == 49 {
			require.NoError(t, s.Commit())
		}
	}
	require.NoError(t, s.Commit())
	requireRange(t, s, 0, n)
	buckets := s.Stats().Buckets
	assert.Greater(t, buckets, uint64(1))
	require.NoError(t, s.Close())

	info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.NoError(t, err)
	assert.True(t, info.Fast)
	assert.Equal(t, uint64(n), info.ValueCount)
	assert.Equal(t, uint64(n), info.KeyCount)
	assert.Equal(t, buckets, info.Buckets)
	assert.Equal(t, 13, info.Capacity)
	assert.Zero(t, info.Orphaned)
	assert.Zero(t, info.Missing)

	s = openStore(t, fs, p)
	requireRange(t, s, 0, n)
	_, err = s.Fetch(testKey(n))
	assert.True(t, errors.Is(err, ErrKeyNotFound))
	require.NoError(t, s.Close())
}

func TestStore_Reopen(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 1024, 0.7)

	for round := 0; round < 4; round++ {
		s := openStore(t, fs, p)
		requireRange(t, s, 0, round*200)
		insertRange(t, s, round*200, (round+1)*200)
		require.NoError(t, s.Close())
	}
	info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.NoError(t, err)
	assert.Equal(t, uint64(800), info.KeyCount)
}

// writeLog leaves a log holding just a header, as a commit interrupted
// right after logging it would.
func writeLog(t *testing.T, fs file.FS, p testPaths) {
	t.Helper()
	f, err := fs.Create(file.Write, p.log)
	require.NoError(t, err)
	lh := format.LogFileHeader{Version: format.CurrentVersion, BlockSize: 4096}
	require.NoError(t, format.WriteLogFileHeader(f, &lh))
	require.NoError(t, f.Close())
}

func TestStore_LogFileExists(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	writeLog(t, fs, p)

	_, err := Open(p.dat, p.key, p.log, WithFS(fs))
	assert.True(t, errors.Is(err, ErrLogFileExists))
	ok, err := fs.Exists(p.log)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, fs.Erase(p.log))
	s := openStore(t, fs, p)
	require.NoError(t, s.Close())
}

func TestStore_EmptyLog(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	s := openStore(t, fs, p)
	insertRange(t, s, 0, 200)
	require.NoError(t, s.Commit())
	// dropped without Close: the log is still there, truncated to zero
	ok, err := fs.Exists(p.log)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, fs.Bytes(p.log))

	info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.NoError(t, err)
	assert.Equal(t, uint64(200), info.KeyCount)

	s = openStore(t, fs, p)
	requireRange(t, s, 0, 200)
	insertRange(t, s, 200, 300)
	require.NoError(t, s.Close())

	s = openStore(t, fs, p)
	requireRange(t, s, 0, 300)
	require.NoError(t, s.Close())
}

func TestCreate_Errors(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)

	err := Create(p.dat, p.key, p.log, 1, 1, 8, 4096, 0.5, WithFS(fs))
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	q := testPaths{dat: "x.dat", key: "x.key", log: "x.log"}
	assert.True(t, errors.Is(Create(q.dat, q.key, q.log, 1, 1, 0, 4096, 0.5, WithFS(fs)), ErrInvalidKeySize))
	assert.True(t, errors.Is(Create(q.dat, q.key, q.log, 1, 1, 8, 64, 0.5, WithFS(fs)), ErrInvalidBlockSize))
	assert.True(t, errors.Is(Create(q.dat, q.key, q.log, 1, 1, 8, 4096, 1.5, WithFS(fs)), ErrInvalidLoadFactor))
	// a failed create leaves nothing behind
	for _, path := range []string{q.dat, q.key, q.log} {
		ok, err := fs.Exists(path)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestOpen_SaltMismatch(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)

	// the salt follows the type, version, uid, appnum and key size fields
	const saltOffset = 8 + 2 + 8 + 8 + 2
	df, err := fs.Open(file.Write, p.dat)
	require.NoError(t, err)
	var salt [8]byte
	field.PutUint64(salt[:], 0xdeadbeef)
	require.NoError(t, file.WriteFull(df, salt[:], saltOffset))
	require.NoError(t, df.Close())

	_, err = Open(p.dat, p.key, p.log, WithFS(fs))
	assert.True(t, errors.Is(err, ErrSaltMismatch))
	assert.True(t, IsErrMismatch(err))
	ok, err := fs.Exists(p.log)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpen_WrongHasher(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)

	other := func(salt uint64) Hasher { return FarmHasher(salt + 1) }
	_, err := Open(p.dat, p.key, p.log, WithFS(fs), WithHasher(other))
	assert.True(t, errors.Is(err, ErrPepperMismatch))
}

func TestOpen_NoKeyFile(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	require.NoError(t, fs.Erase(p.key))

	_, err := Open(p.dat, p.key, p.log, WithFS(fs))
	assert.True(t, errors.Is(err, ErrNoKeyFile))
}

func TestStore_Snappy(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	s := openStore(t, fs, p, WithCodec(SnappyCodec{}))

	value := make([]byte, 4096)
	for i := range value {
		value[i] = byte(i % 7)
	}
	require.NoError(t, s.Insert(testKey(1), value))
	require.NoError(t, s.Commit())
	v, err := s.Fetch(testKey(1))
	require.NoError(t, err)
	assert.Equal(t, value, v)
	require.NoError(t, s.Close())

	// the data file holds the compressed form
	size := len(fs.Bytes(p.dat))
	assert.Less(t, size, len(value))

	var seen int
	require.NoError(t, Visit(p.dat, func(key, data []byte) error {
		seen++
		assert.Equal(t, testKey(1), key)
		assert.Equal(t, value, data)
		return nil
	}, WithFS(fs), WithCodec(SnappyCodec{})))
	assert.Equal(t, 1, seen)
}

func TestStore_CommitLimit(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	// without a background committer Insert commits by itself
	s := openStore(t, fs, p, WithCommitLimit(64))
	insertRange(t, s, 0, 100)
	assert.Greater(t, s.Stats().Commits, uint64(1))
	requireRange(t, s, 0, 100)
	require.NoError(t, s.Close())
}

func TestStore_Concurrent(t *testing.T) {
	const (
		writers = 4
		perKeys = 300
	)
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 512, 0.5)
	s := openStore(t, fs, p, WithCommitInterval(time.Millisecond), WithCommitLimit(1024))

	insertRange(t, s, 0, 200)
	require.NoError(t, s.Commit())

	var g errgroup.Group
	for w := 0; w < writers; w++ {
		w := w
		g.Go(func() error {
			from := 200 + w*perKeys
			for i := from; i < from+perKeys; i++ {
				if err := s.Insert(testKey(i), testValue(i)); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for r := 0; r < writers; r++ {
		g.Go(func() error {
			for round := 0; round < 5; round++ {
				for i := 0; i < 200; i++ {
					v, err := s.Fetch(testKey(i))
					if err != nil {
						return fmt.Errorf("fetch %d: %w", i, err)
					}
					if string(v) != string(testValue(i)) {
						return fmt.Errorf("fetch %d: got %q", i, v)
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	requireRange(t, s, 0, 200+writers*perKeys)
	require.NoError(t, s.Close())

	info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.NoError(t, err)
	assert.Equal(t, uint64(200+writers*perKeys), info.KeyCount)
}

func TestStore_OS(t *testing.T) {
	dir := t.TempDir()
	p := testPaths{
		dat: filepath.Join(dir, "db.dat"),
		key: filepath.Join(dir, "db.key"),
		log: filepath.Join(dir, "db.log"),
	}
	createStore(t, file.OS{}, p, 4096, 0.5)

	s, err := Open(p.dat, p.key, p.log, WithCommitInterval(10*time.Millisecond))
	require.NoError(t, err)
	insertRange(t, s, 0, 1000)
	require.NoError(t, s.Commit())
	requireRange(t, s, 0, 1000)
	require.NoError(t, s.Close())

	s, err = Open(p.dat, p.key, p.log)
	require.NoError(t, err)
	requireRange(t, s, 0, 1000)
	require.NoError(t, s.Close())

	_, err = Verify(p.dat, p.key, p.log, 1<<20)
	require.NoError(t, err)
}

// heldFS pauses the first key file read after hold until release is closed.
type heldFS struct {
	file.FS
	key     string
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (h *heldFS) hold() {
	h.entered = make(chan struct{})
	h.release = make(chan struct{})
	h.armed.Store(true)
}

func (h *heldFS) Open(mode file.Mode, path string) (file.File, error) {
	f, err := h.FS.Open(mode, path)
	if err != nil || path != h.key {
		return f, err
	}
	return &heldFile{File: f, fs: h}, nil
}

type heldFile struct {
	file.File
	fs *heldFS
}

func (f *heldFile) ReadAt(p []byte, off int64) (int, error) {
	if f.fs.armed.CompareAndSwap(true, false) {
		close(f.fs.entered)
		<-f.fs.release
	}
	return f.File.ReadAt(p, off)
}

func TestStore_CommitWaitsForReaders(t *testing.T) {
	mem := file.NewMem()
	p := memPaths()
	createStore(t, mem, p, 4096, 0.5)
	fs := &heldFS{FS: mem, key: p.key}
	s := openStore(t, fs, p)
	insertRange(t, s, 0, 100)
	require.NoError(t, s.Commit())

	fs.hold()
	var g errgroup.Group
	g.Go(func() error {
		v, err := s.Fetch(testKey(7))
		if err != nil {
			return err
		}
		if string(v) != string(testValue(7)) {
			return fmt.Errorf("fetched %q", v)
		}
		return nil
	})
	<-fs.entered

	keyBefore := mem.Bytes(p.key)
	insertRange(t, s, 100, 300)
	committed := make(chan error, 1)
	go func() { committed <- s.Commit() }()

	select {
	case err := <-committed:
		t.Fatalf("commit finished with a reader on the key file: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, keyBefore, mem.Bytes(p.key))

	close(fs.release)
	require.NoError(t, g.Wait())
	require.NoError(t, <-committed)
	requireRange(t, s, 0, 300)
	require.NoError(t, s.Close())
}
