// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package format

import (
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
)

const (
	CurrentVersion = 1

	DatFileHeaderSize = 8 + 2 + 8 + 8 + 2 + 8 + 56
	KeyFileHeaderSize = 8 + 2 + 8 + 8 + 2 + 8 + 8 + 2 + 2 + 56
	LogFileHeaderSize = 8 + 2 + 8 + 8 + 2 + 8 + 8 + 2 + 8 + 8

	// BucketHeaderSize is the count and spill fields of a bucket.
	BucketHeaderSize = field.Uint16Size + field.Uint48Size
	// EntrySize is one {offset, size, hash} bucket entry.
	EntrySize = 3 * field.Uint48Size

	// MaxKeySize bounds the key size so a value record header stays small.
	MaxKeySize = field.MaxUint16
	// MaxValueSize is the largest value a u48 size field can describe.
	MaxValueSize = field.MaxUint48
	// MaxBlockSize is the largest block size the u16 header field holds.
	MaxBlockSize = field.MaxUint16
	// MaxBuckets bounds the bucket count so bucket indexes stay in range of
	// the key file offsets.
	MaxBuckets = 1 << 32

	// SpillHeaderSize is the zero size marker and bucket length preceding a
	// spill record's bucket image.
	SpillHeaderSize = field.Uint48Size + field.Uint16Size
	// LogRecordHeaderSize is the bucket index preceding a log record's
	// bucket image.
	LogRecordHeaderSize = field.Uint64Size
)

var (
	datFileType = [8]byte{'n', 'u', 'd', 'b', '.', 'd', 'a', 't'}
	keyFileType = [8]byte{'n', 'u', 'd', 'b', '.', 'k', 'e', 'y'}
	logFileType = [8]byte{'n', 'u', 'd', 'b', '.', 'l', 'o', 'g'}
)

// Capacity returns how many entries fit in a bucket for a block size.
func Capacity(blockSize int) int {
	if blockSize < KeyFileHeaderSize || blockSize > MaxBlockSize {
		return 0
	}
	return (blockSize - BucketHeaderSize) / EntrySize
}

// BucketSize is the size of a full bucket image with capacity entries.
func BucketSize(capacity int) int {
	return BucketHeaderSize + capacity*EntrySize
}

// ValueSize is the on-disk size of a value record.
func ValueSize(size uint64, keySize int) int64 {
	return field.Uint48Size + int64(keySize) + int64(size)
}

// SpillSize is the on-disk size of a spill record whose bucket image is
// compactSize bytes.
func SpillSize(compactSize int) int64 {
	return SpillHeaderSize + int64(compactSize)
}

// CeilPow2 returns the smallest power of two >= n.
func CeilPow2(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// LoadFactor converts a fraction in (0, 1) to the 16-bit header encoding.
func LoadFactor(f float64) (uint16, error) {
	if math.IsNaN(f) || f <= 0 || f >= 1 {
		return 0, fmt.Errorf("%w: %v", fault.ErrInvalidLoadFactor, f)
	}
	return uint16(math.Min(65535, f*65536)), nil
}

// Pepper is the fingerprint of a salt under a hash function; files whose
// pepper doesn't match were written with a different hash function.
func Pepper(hash func([]byte) uint64, salt uint64) uint64 {
	var buf [8]byte
	field.PutUint64(buf[:], salt)
	return hash(buf[:])
}

// Random returns a random 64-bit number for uids and salts.
func Random() (uint64, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("crand.Read: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

type DatFileHeader struct {
	Version uint16
	UID     uint64
	Appnum  uint64
	KeySize int
	Salt    uint64
}

func (h *DatFileHeader) MarshalTo(buf []byte) error {
	if len(buf) < DatFileHeaderSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), DatFileHeaderSize)
	}
	w := field.NewWriter(buf)
	w.Bytes(datFileType[:])
	w.Uint16(h.Version)
	w.Uint64(h.UID)
	w.Uint64(h.Appnum)
	w.Uint16(uint16(h.KeySize))
	w.Uint64(h.Salt)
	w.Zeros(56)
	return nil
}

func (h *DatFileHeader) UnmarshalBytes(buf []byte) error {
	r := field.NewReader(buf)
	typ := r.Bytes(8)
	h.Version = r.Uint16()
	h.UID = r.Uint64()
	h.Appnum = r.Uint64()
	h.KeySize = int(r.Uint16())
	h.Salt = r.Uint64()
	r.Skip(56)
	if r.Short() {
		return fault.ErrIncompleteDataFileHeader
	}
	if [8]byte(typ) != datFileType {
		return fault.ErrNotDataFile
	}
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: data file is v%d, expected v%d", fault.ErrDifferentVersion, h.Version, CurrentVersion)
	}
	return nil
}

// Verify checks the header on its own.
func (h *DatFileHeader) Verify() error {
	if h.KeySize < 1 {
		return fmt.Errorf("%w: %d", fault.ErrInvalidKeySize, h.KeySize)
	}
	return nil
}

type KeyFileHeader struct {
	Version    uint16
	UID        uint64
	Appnum     uint64
	KeySize    int
	Salt       uint64
	Pepper     uint64
	BlockSize  int
	LoadFactor uint16

	// derived
	Capacity   int
	BucketSize int
	Buckets    uint64
	Modulus    uint64
}

// NewKeyFileHeader fills in the derived fields for a new key file with a
// single bucket.
func NewKeyFileHeader(uid, appnum uint64, keySize int, salt, pepper uint64, blockSize int, loadFactor uint16) KeyFileHeader {
	h := KeyFileHeader{
		Version:    CurrentVersion,
		UID:        uid,
		Appnum:     appnum,
		KeySize:    keySize,
		Salt:       salt,
		Pepper:     pepper,
		BlockSize:  blockSize,
		LoadFactor: loadFactor,
	}
	h.derive()
	h.Buckets = 1
	h.Modulus = 1
	return h
}

func (h *KeyFileHeader) derive() {
	h.Capacity = Capacity(h.BlockSize)
	h.BucketSize = BucketSize(h.Capacity)
}

// MarshalTo writes the header into the first block of a key file; buf must
// be BlockSize bytes and the padding is zeroed.
func (h *KeyFileHeader) MarshalTo(buf []byte) error {
	if len(buf) < KeyFileHeaderSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), KeyFileHeaderSize)
	}
	w := field.NewWriter(buf)
	w.Bytes(keyFileType[:])
	w.Uint16(h.Version)
	w.Uint64(h.UID)
	w.Uint64(h.Appnum)
	w.Uint16(uint16(h.KeySize))
	w.Uint64(h.Salt)
	w.Uint64(h.Pepper)
	w.Uint16(uint16(h.BlockSize))
	w.Uint16(h.LoadFactor)
	w.Zeros(56)
	clear(buf[w.Len():])
	return nil
}

func (h *KeyFileHeader) UnmarshalBytes(buf []byte) error {
	r := field.NewReader(buf)
	typ := r.Bytes(8)
	h.Version = r.Uint16()
	h.UID = r.Uint64()
	h.Appnum = r.Uint64()
	h.KeySize = int(r.Uint16())
	h.Salt = r.Uint64()
	h.Pepper = r.Uint64()
	h.BlockSize = int(r.Uint16())
	h.LoadFactor = r.Uint16()
	r.Skip(56)
	if r.Short() {
		return fault.ErrIncompleteKeyFileHeader
	}
	if [8]byte(typ) != keyFileType {
		return fault.ErrNotKeyFile
	}
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: key file is v%d, expected v%d", fault.ErrDifferentVersion, h.Version, CurrentVersion)
	}
	h.derive()
	return nil
}

// SetFileSize derives the bucket count from the size of the key file.
func (h *KeyFileHeader) SetFileSize(size int64) error {
	if h.BlockSize < 1 {
		return fault.ErrInvalidBlockSize
	}
	bs := int64(h.BlockSize)
	if size < bs || size%bs != 0 {
		return fmt.Errorf("%w: size %d for block size %d", fault.ErrShortKeyFile, size, bs)
	}
	buckets := uint64(size/bs) - 1
	if buckets == 0 {
		return fmt.Errorf("%w: no buckets after the header block", fault.ErrInvalidBucketCount)
	}
	if buckets > MaxBuckets {
		return fmt.Errorf("%w: %d", fault.ErrTooManyBuckets, buckets)
	}
	h.Buckets = buckets
	h.Modulus = CeilPow2(buckets)
	return nil
}

// Verify checks the header on its own; pepper is the expected pepper for
// the header's salt under the configured hash function.
func (h *KeyFileHeader) Verify(pepper uint64) error {
	if h.KeySize < 1 {
		return fmt.Errorf("%w: %d", fault.ErrInvalidKeySize, h.KeySize)
	}
	if h.BlockSize < KeyFileHeaderSize || h.BlockSize > MaxBlockSize {
		return fmt.Errorf("%w: %d", fault.ErrInvalidBlockSize, h.BlockSize)
	}
	if h.Capacity < 1 {
		return fmt.Errorf("%w: block size %d", fault.ErrInvalidCapacity, h.BlockSize)
	}
	if h.LoadFactor < 1 {
		return fault.ErrInvalidLoadFactor
	}
	if h.Pepper != pepper {
		return fault.ErrPepperMismatch
	}
	return nil
}

// VerifyDatKey checks that a data file and key file belong together.
func VerifyDatKey(dh *DatFileHeader, kh *KeyFileHeader) error {
	switch {
	case dh.UID != kh.UID:
		return fault.ErrUIDMismatch
	case dh.Appnum != kh.Appnum:
		return fault.ErrAppnumMismatch
	case dh.KeySize != kh.KeySize:
		return fault.ErrKeySizeMismatch
	case dh.Salt != kh.Salt:
		return fault.ErrSaltMismatch
	}
	return nil
}

type LogFileHeader struct {
	Version     uint16
	UID         uint64
	Appnum      uint64
	KeySize     int
	Salt        uint64
	Pepper      uint64
	BlockSize   int
	KeyFileSize int64
	DatFileSize int64
}

func (h *LogFileHeader) MarshalTo(buf []byte) error {
	if len(buf) < LogFileHeaderSize {
		return fmt.Errorf("buf too short: %d < %d", len(buf), LogFileHeaderSize)
	}
	w := field.NewWriter(buf)
	w.Bytes(logFileType[:])
	w.Uint16(h.Version)
	w.Uint64(h.UID)
	w.Uint64(h.Appnum)
	w.Uint16(uint16(h.KeySize))
	w.Uint64(h.Salt)
	w.Uint64(h.Pepper)
	w.Uint16(uint16(h.BlockSize))
	w.Uint64(uint64(h.KeyFileSize))
	w.Uint64(uint64(h.DatFileSize))
	return nil
}

// UnmarshalBytes decodes a log header.  A short buffer yields
// fault.ErrShortRead: a crash while the header was being written.
func (h *LogFileHeader) UnmarshalBytes(buf []byte) error {
	r := field.NewReader(buf)
	typ := r.Bytes(8)
	h.Version = r.Uint16()
	h.UID = r.Uint64()
	h.Appnum = r.Uint64()
	h.KeySize = int(r.Uint16())
	h.Salt = r.Uint64()
	h.Pepper = r.Uint64()
	h.BlockSize = int(r.Uint16())
	h.KeyFileSize = int64(r.Uint64())
	h.DatFileSize = int64(r.Uint64())
	if r.Short() {
		return fault.ErrShortRead
	}
	if [8]byte(typ) != logFileType {
		return fault.ErrNotLogFile
	}
	if h.Version != CurrentVersion {
		return fmt.Errorf("%w: log file is v%d, expected v%d", fault.ErrDifferentVersion, h.Version, CurrentVersion)
	}
	return nil
}

// VerifyKeyLog checks that a log file was written for a key file.
func VerifyKeyLog(kh *KeyFileHeader, lh *LogFileHeader) error {
	switch {
	case kh.UID != lh.UID:
		return fault.ErrUIDMismatch
	case kh.Appnum != lh.Appnum:
		return fault.ErrAppnumMismatch
	case kh.KeySize != lh.KeySize:
		return fault.ErrKeySizeMismatch
	case kh.Salt != lh.Salt:
		return fault.ErrSaltMismatch
	case kh.Pepper != lh.Pepper:
		return fault.ErrPepperMismatch
	case kh.BlockSize != lh.BlockSize:
		return fault.ErrBlockSizeMismatch
	}
	return nil
}

// VerifyDatLog checks that a log file was written for a data file; used
// when the key file is gone (an interrupted rekey).
func VerifyDatLog(dh *DatFileHeader, lh *LogFileHeader) error {
	switch {
	case dh.UID != lh.UID:
		return fault.ErrUIDMismatch
	case dh.Appnum != lh.Appnum:
		return fault.ErrAppnumMismatch
	case dh.KeySize != lh.KeySize:
		return fault.ErrKeySizeMismatch
	case dh.Salt != lh.Salt:
		return fault.ErrSaltMismatch
	}
	return nil
}

func ReadDatFileHeader(f file.File) (DatFileHeader, error) {
	var h DatFileHeader
	buf := make([]byte, DatFileHeaderSize)
	if err := file.ReadFull(f, buf, 0); err != nil {
		if fault.IsErrShort(err) {
			return h, fmt.Errorf("%w: %w", fault.ErrIncompleteDataFileHeader, err)
		}
		return h, err
	}
	err := h.UnmarshalBytes(buf)
	return h, err
}

func WriteDatFileHeader(f file.File, h *DatFileHeader) error {
	buf := make([]byte, DatFileHeaderSize)
	if err := h.MarshalTo(buf); err != nil {
		return err
	}
	return file.WriteFull(f, buf, 0)
}

// PeekKeyFileHeader reads the header without looking at the size of the
// key file, which may be torn after a crash.
func PeekKeyFileHeader(f file.File) (KeyFileHeader, error) {
	var h KeyFileHeader
	buf := make([]byte, KeyFileHeaderSize)
	if err := file.ReadFull(f, buf, 0); err != nil {
		if fault.IsErrShort(err) {
			return h, fmt.Errorf("%w: %w", fault.ErrIncompleteKeyFileHeader, err)
		}
		return h, err
	}
	err := h.UnmarshalBytes(buf)
	return h, err
}

// ReadKeyFileHeader reads the header and derives the bucket count from
// the key file's size.
func ReadKeyFileHeader(f file.File) (KeyFileHeader, error) {
	h, err := PeekKeyFileHeader(f)
	if err != nil {
		return h, err
	}
	size, err := f.Size()
	if err != nil {
		return h, err
	}
	if h.BlockSize < KeyFileHeaderSize {
		return h, fmt.Errorf("%w: %d", fault.ErrInvalidBlockSize, h.BlockSize)
	}
	if err := h.SetFileSize(size); err != nil {
		return h, err
	}
	return h, nil
}

func WriteKeyFileHeader(f file.File, h *KeyFileHeader) error {
	buf := make([]byte, h.BlockSize)
	if err := h.MarshalTo(buf); err != nil {
		return err
	}
	return file.WriteFull(f, buf, 0)
}

func ReadLogFileHeader(f file.File) (LogFileHeader, error) {
	var h LogFileHeader
	buf := make([]byte, LogFileHeaderSize)
	if err := file.ReadFull(f, buf, 0); err != nil {
		return h, err
	}
	err := h.UnmarshalBytes(buf)
	return h, err
}

func WriteLogFileHeader(f file.File, h *LogFileHeader) error {
	buf := make([]byte, LogFileHeaderSize)
	if err := h.MarshalTo(buf); err != nil {
		return err
	}
	return file.WriteFull(f, buf, 0)
}
