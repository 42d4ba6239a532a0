// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	"errors"
	"testing"

	farm "github.com/dgryski/go-farm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/file"
)

func farmHash(salt uint64) func([]byte) uint64 {
	return func(p []byte) uint64 {
		return farm.Hash64WithSeed(p, salt)
	}
}

func TestDatFileHeader_RoundTrip(t *testing.T) {
	uid, err := Random()
	require.NoError(t, err)
	origH := DatFileHeader{
		Version: CurrentVersion,
		UID:     uid,
		Appnum:  7,
		KeySize: 32,
		Salt:    0xfeedface,
	}

	// this should be an error
	err = origH.MarshalTo(nil)
	assert.Error(t, err)

	var newH DatFileHeader
	headerBytes := make([]byte, DatFileHeaderSize)
	// missing type
	err = newH.UnmarshalBytes(headerBytes)
	assert.ErrorIs(t, err, fault.ErrNotDataFile)

	require.NoError(t, origH.MarshalTo(headerBytes))

	err = newH.UnmarshalBytes(headerBytes[:DatFileHeaderSize-1])
	assert.ErrorIs(t, err, fault.ErrIncompleteDataFileHeader)

	require.NoError(t, newH.UnmarshalBytes(headerBytes))
	assert.Equal(t, origH, newH)
	assert.NoError(t, newH.Verify())

	origH.Version = 666
	require.NoError(t, origH.MarshalTo(headerBytes))
	err = newH.UnmarshalBytes(headerBytes)
	assert.ErrorIs(t, err, fault.ErrDifferentVersion)

	origH.Version = CurrentVersion
	origH.KeySize = 0
	assert.ErrorIs(t, origH.Verify(), fault.ErrInvalidKeySize)
}

func TestKeyFileHeader_RoundTrip(t *testing.T) {
	const salt = 12345
	hash := farmHash(salt)
	lf, err := LoadFactor(0.5)
	require.NoError(t, err)
	origH := NewKeyFileHeader(1, 2, 8, salt, Pepper(hash, salt), 256, lf)
	assert.Equal(t, 13, origH.Capacity)
	assert.Equal(t, 8+13*18, origH.BucketSize)
	assert.Equal(t, uint64(1), origH.Buckets)

	buf := make([]byte, origH.BlockSize)
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, origH.MarshalTo(buf))
	for _, b := range buf[KeyFileHeaderSize:] {
		require.Zero(t, b)
	}

	var newH KeyFileHeader
	require.NoError(t, newH.UnmarshalBytes(buf))
	require.NoError(t, newH.SetFileSize(int64(3*origH.BlockSize)))
	assert.Equal(t, uint64(2), newH.Buckets)
	assert.Equal(t, uint64(2), newH.Modulus)
	assert.NoError(t, newH.Verify(Pepper(hash, salt)))
	assert.ErrorIs(t, newH.Verify(Pepper(farmHash(salt+1), salt)), fault.ErrPepperMismatch)

	assert.ErrorIs(t, newH.SetFileSize(int64(origH.BlockSize-1)), fault.ErrShortKeyFile)
	assert.ErrorIs(t, newH.SetFileSize(int64(origH.BlockSize)), fault.ErrInvalidBucketCount)
	assert.ErrorIs(t, newH.SetFileSize(int64(2*origH.BlockSize+1)), fault.ErrShortKeyFile)

	err = newH.UnmarshalBytes(buf[:KeyFileHeaderSize-1])
	assert.ErrorIs(t, err, fault.ErrIncompleteKeyFileHeader)
}

func TestKeyFileHeader_Verify(t *testing.T) {
	pepper := Pepper(farmHash(1), 1)
	for _, tt := range []struct {
		name      string
		keySize   int
		blockSize int
		lf        uint16
		want      error
	}{
		{"ok", 8, 4096, 32768, nil},
		{"key size", 0, 4096, 32768, fault.ErrInvalidKeySize},
		{"block size", 8, 64, 32768, fault.ErrInvalidBlockSize},
		{"load factor", 8, 4096, 0, fault.ErrInvalidLoadFactor},
	} {
		t.Run(tt.name, func(t *testing.T) {
			h := NewKeyFileHeader(1, 0, tt.keySize, 1, pepper, tt.blockSize, tt.lf)
			err := h.Verify(pepper)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLogFileHeader_RoundTrip(t *testing.T) {
	origH := LogFileHeader{
		Version:     CurrentVersion,
		UID:         99,
		Appnum:      3,
		KeySize:     16,
		Salt:        5,
		Pepper:      6,
		BlockSize:   4096,
		KeyFileSize: 8192,
		DatFileSize: 1 << 40,
	}
	buf := make([]byte, LogFileHeaderSize)
	require.NoError(t, origH.MarshalTo(buf))

	var newH LogFileHeader
	require.NoError(t, newH.UnmarshalBytes(buf))
	assert.Equal(t, origH, newH)

	for n := 0; n < LogFileHeaderSize; n++ {
		err := newH.UnmarshalBytes(buf[:n])
		require.ErrorIs(t, err, fault.ErrShortRead, "n=%d", n)
	}
}

func TestCrossFileIdentity(t *testing.T) {
	dh := DatFileHeader{Version: CurrentVersion, UID: 1, Appnum: 2, KeySize: 8, Salt: 4}
	kh := NewKeyFileHeader(1, 2, 8, 4, 5, 4096, 32768)
	lh := LogFileHeader{Version: CurrentVersion, UID: 1, Appnum: 2, KeySize: 8, Salt: 4, Pepper: 5, BlockSize: 4096}
	require.NoError(t, VerifyDatKey(&dh, &kh))
	require.NoError(t, VerifyKeyLog(&kh, &lh))
	require.NoError(t, VerifyDatLog(&dh, &lh))

	mutations := []struct {
		mutate func(dh *DatFileHeader, kh *KeyFileHeader, lh *LogFileHeader)
		want   error
	}{
		{func(dh *DatFileHeader, _ *KeyFileHeader, _ *LogFileHeader) { dh.UID++ }, fault.ErrUIDMismatch},
		{func(dh *DatFileHeader, _ *KeyFileHeader, _ *LogFileHeader) { dh.Appnum++ }, fault.ErrAppnumMismatch},
		{func(dh *DatFileHeader, _ *KeyFileHeader, _ *LogFileHeader) { dh.KeySize++ }, fault.ErrKeySizeMismatch},
		{func(dh *DatFileHeader, _ *KeyFileHeader, _ *LogFileHeader) { dh.Salt++ }, fault.ErrSaltMismatch},
	}
	for _, m := range mutations {
		d, k, l := dh, kh, lh
		m.mutate(&d, &k, &l)
		assert.ErrorIs(t, VerifyDatKey(&d, &k), m.want)
		assert.ErrorIs(t, VerifyDatLog(&d, &l), m.want)
	}

	l := lh
	l.Pepper++
	assert.ErrorIs(t, VerifyKeyLog(&kh, &l), fault.ErrPepperMismatch)
	l = lh
	l.BlockSize = 512
	assert.ErrorIs(t, VerifyKeyLog(&kh, &l), fault.ErrBlockSizeMismatch)
	assert.True(t, fault.IsErrMismatch(VerifyKeyLog(&kh, &l)))
}

func TestReadWriteHeaders(t *testing.T) {
	fs := file.NewMem()
	f, err := fs.Create(file.Write, "store.key")
	require.NoError(t, err)

	kh := NewKeyFileHeader(1, 2, 8, 4, 5, 512, 32768)
	require.NoError(t, WriteKeyFileHeader(f, &kh))

	// header only: there has to be at least one bucket
	_, err = ReadKeyFileHeader(f)
	assert.ErrorIs(t, err, fault.ErrInvalidBucketCount)

	require.NoError(t, f.Truncate(2*512))
	got, err := ReadKeyFileHeader(f)
	require.NoError(t, err)
	assert.Equal(t, kh, got)

	df, err := fs.Create(file.Append, "store.dat")
	require.NoError(t, err)
	_, err = ReadDatFileHeader(df)
	assert.True(t, errors.Is(err, fault.ErrIncompleteDataFileHeader))
	assert.True(t, errors.Is(err, fault.ErrShortRead))
}

func TestSizes(t *testing.T) {
	assert.Equal(t, 92, DatFileHeaderSize)
	assert.Equal(t, 104, KeyFileHeaderSize)
	assert.Equal(t, 62, LogFileHeaderSize)
	assert.Equal(t, int64(6+8+3), ValueSize(3, 8))
	assert.Equal(t, int64(8+26), SpillSize(26))
	assert.Equal(t, 227, Capacity(4096))
	assert.Equal(t, 0, Capacity(100))

	for n, want := range map[uint64]uint64{0: 1, 1: 1, 2: 2, 3: 4, 4: 4, 5: 8, 1000: 1024} {
		assert.Equal(t, want, CeilPow2(n), "n=%d", n)
	}

	lf, err := LoadFactor(0.5)
	require.NoError(t, err)
	assert.Equal(t, uint16(32768), lf)
	lf, err = LoadFactor(0.99999999)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), lf)
	for _, bad := range []float64{0, 1, -1, 2} {
		_, err = LoadFactor(bad)
		assert.ErrorIs(t, err, fault.ErrInvalidLoadFactor)
	}
}
