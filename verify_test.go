// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

func TestVerify_FastAndSlow(t *testing.T) {
	const n = 600
	fs := file.NewMem()
	p := memPaths()
	fillStore(t, fs, p, 256, n)

	fast, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.NoError(t, err)
	slow, err := Verify(p.dat, p.key, p.log, 0, WithFS(fs))
	require.NoError(t, err)
	assert.True(t, fast.Fast)
	assert.False(t, slow.Fast)

	for _, info := range []*VerifyInfo{fast, slow} {
		assert.Equal(t, uint64(n), info.KeyCount)
		assert.Equal(t, uint64(n), info.ValueCount)
		assert.Equal(t, uint64(n*7), info.ValueBytes)
		assert.Equal(t, 8, info.KeySize)
		assert.Equal(t, int64(len(fs.Bytes(p.dat))), info.DatFileSize)
		assert.Equal(t, int64(len(fs.Bytes(p.key))), info.KeyFileSize)
		assert.GreaterOrEqual(t, info.AvgFetch, 1.0)
		assert.Greater(t, info.ActualLoad, 0.0)
		assert.Greater(t, info.Overhead, 0.0)
		assert.LessOrEqual(t, info.SpillCount, info.SpillCountTotal)

		var buckets uint64
		for _, c := range info.Histogram {
			buckets += c
		}
		assert.Equal(t, info.Buckets, buckets)
	}
	fast.Fast = slow.Fast
	assert.Equal(t, fast, slow)
}

func TestVerify_Empty(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)

	info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.NoError(t, err)
	assert.Zero(t, info.KeyCount)
	assert.Zero(t, info.ValueCount)
	assert.Equal(t, uint64(1), info.Buckets)
	assert.Equal(t, uint64(1), info.Histogram[0])
}

func TestVerify_LogFileExists(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	createStore(t, fs, p, 4096, 0.5)
	writeLog(t, fs, p)

	_, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	assert.True(t, errors.Is(err, ErrLogFileExists))
}

func appendRecord(t *testing.T, fs file.FS, path string, key, value []byte) {
	t.Helper()
	f, err := fs.Open(file.Append, path)
	require.NoError(t, err)
	size, err := f.Size()
	require.NoError(t, err)
	rec := make([]byte, field.Uint48Size+len(key)+len(value))
	field.PutUint48(rec, uint64(len(value)))
	copy(rec[field.Uint48Size:], key)
	copy(rec[field.Uint48Size+len(key):], value)
	require.NoError(t, file.WriteFull(f, rec, size))
	require.NoError(t, f.Close())
}

func TestVerify_Orphaned(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	fillStore(t, fs, p, 1024, 100)
	appendRecord(t, fs, p.dat, testKey(1000), testValue(1000))

	for _, bufferSize := range []int{1 << 20, 0} {
		info, err := Verify(p.dat, p.key, p.log, bufferSize, WithFS(fs))
		require.True(t, errors.Is(err, ErrOrphanedValue), "%v", err)
		assert.True(t, IsErrCorrupt(err))
		require.NotNil(t, info)
		assert.Equal(t, uint64(1), info.Orphaned)
		assert.Equal(t, uint64(101), info.ValueCount)
		assert.Zero(t, info.Missing)
	}
}

func TestVerify_HashMismatch(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	fillStore(t, fs, p, 1024, 10)

	// overwrite the first key in the data file
	f, err := fs.Open(file.Write, p.dat)
	require.NoError(t, err)
	require.NoError(t, file.WriteFull(f, testKey(99), format.DatFileHeaderSize+field.Uint48Size))
	require.NoError(t, f.Close())

	info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
	require.True(t, errors.Is(err, ErrHashMismatch), "%v", err)
	assert.Equal(t, uint64(1), info.HashMismatches)

	// looked up by its new key, the record is not referenced at all
	info, err = Verify(p.dat, p.key, p.log, 0, WithFS(fs))
	require.True(t, errors.Is(err, ErrOrphanedValue), "%v", err)
	require.True(t, errors.Is(err, ErrMissingValue), "%v", err)
	assert.Equal(t, uint64(1), info.Orphaned)
	assert.Equal(t, uint64(1), info.Missing)
}

func TestVisit(t *testing.T) {
	const n = 250
	fs := file.NewMem()
	p := memPaths()
	fillStore(t, fs, p, 256, n)

	seen := make(map[string]string)
	require.NoError(t, Visit(p.dat, func(key, value []byte) error {
		seen[string(key)] = string(value)
		return nil
	}, WithFS(fs), WithReadSize(512)))
	require.Len(t, seen, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, string(testValue(i)), seen[string(testKey(i))])
	}

	stop := errors.New("stop")
	calls := 0
	err := Visit(p.dat, func(key, value []byte) error {
		calls++
		return stop
	}, WithFS(fs))
	assert.True(t, errors.Is(err, stop))
	assert.Equal(t, 1, calls)
}
