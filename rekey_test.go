// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/nudb/internal/file"
)

func fillStore(t *testing.T, fs file.FS, p testPaths, blockSize, n int) {
	t.Helper()
	createStore(t, fs, p, blockSize, 0.5)
	s := openStore(t, fs, p)
	insertRange(t, s, 0, n)
	require.NoError(t, s.Close())
}

func TestRekey(t *testing.T) {
	const n = 1000
	for _, tt := range []struct {
		name       string
		blockSize  int
		bufferSize int
		itemCount  uint64
	}{
		{"one pass", 512, 1 << 20, n},
		{"counted", 512, 1 << 20, 0},
		{"many passes", 256, 256 * 7, 0},
		{"larger blocks", 4096, 1 << 20, n},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fs := file.NewMem()
			p := memPaths()
			fillStore(t, fs, p, 1024, n)
			require.NoError(t, fs.Erase(p.key))

			var calls int
			var last uint64
			progress := func(done, total uint64) {
				calls++
				assert.LessOrEqual(t, done, total)
				last = done
			}
			err := Rekey(p.dat, p.key, p.log, tt.blockSize, 0.5, tt.itemCount, tt.bufferSize,
				WithFS(fs), WithReadSize(4096), WithBulkWriteSize(4096), WithProgress(progress))
			require.NoError(t, err)
			assert.Greater(t, calls, 0)
			assert.Greater(t, last, uint64(0))

			ok, err := fs.Exists(p.log)
			require.NoError(t, err)
			assert.False(t, ok)

			info, err := Verify(p.dat, p.key, p.log, 1<<20, WithFS(fs))
			require.NoError(t, err)
			assert.Equal(t, uint64(n), info.KeyCount)
			assert.Equal(t, uint64(n), info.ValueCount)
			assert.Equal(t, tt.blockSize, info.BlockSize)

			s := openStore(t, fs, p)
			requireRange(t, s, 0, n)
			insertRange(t, s, n, n+100)
			require.NoError(t, s.Commit())
			requireRange(t, s, 0, n+100)
			require.NoError(t, s.Close())
		})
	}
}

func TestRekey_Errors(t *testing.T) {
	fs := file.NewMem()
	p := memPaths()
	fillStore(t, fs, p, 1024, 10)

	err := Rekey(p.dat, p.key, p.log, 1024, 0.5, 0, 1<<20, WithFS(fs))
	assert.True(t, errors.Is(err, ErrAlreadyExists))

	require.NoError(t, fs.Erase(p.key))
	assert.True(t, errors.Is(Rekey(p.dat, p.key, p.log, 32, 0.5, 0, 1<<20, WithFS(fs)), ErrInvalidBlockSize))
	assert.True(t, errors.Is(Rekey(p.dat, p.key, p.log, 1024, 0, 0, 1<<20, WithFS(fs)), ErrInvalidLoadFactor))
}

func TestRekey_Interrupted(t *testing.T) {
	const n = 300
	for failAt := int64(1); ; failAt++ {
		fs := file.NewMem()
		p := memPaths()
		fillStore(t, fs, p, 1024, n)
		require.NoError(t, fs.Erase(p.key))
		datSize := len(fs.Bytes(p.dat))

		ffs := file.NewFailFS(fs, failAt)
		err := Rekey(p.dat, p.key, p.log, 256, 0.5, 0, 256*4, WithFS(ffs), WithReadSize(4096), WithBulkWriteSize(1024))
		if !ffs.Failed() {
			require.NoError(t, err)
			break
		}
		require.Error(t, err, "fail at %d", failAt)

		require.NoError(t, Recover(p.dat, p.key, p.log, WithFS(fs)))
		_, err = Open(p.dat, p.key, p.log, WithFS(fs))
		require.True(t, errors.Is(err, ErrNoKeyFile), "fail at %d: %v", failAt, err)
		assert.Equal(t, datSize, len(fs.Bytes(p.dat)), "fail at %d", failAt)

		// a rolled back rekey can simply be run again
		require.NoError(t, Rekey(p.dat, p.key, p.log, 256, 0.5, 0, 256*4, WithFS(fs)))
		s := openStore(t, fs, p)
		requireRange(t, s, 0, n)
		require.NoError(t, s.Close())

		require.Less(t, failAt, int64(10000), "rekey never finished")
	}
}
