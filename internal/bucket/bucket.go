// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bucket implements the hash buckets stored in the key file and,
// as spill records, in the data file.
//
// A bucket occupies one key file block:
//
//	count  u16
//	spill  u48  data file offset of the next bucket in the chain, or 0
//	entries[count] {
//	  offset u48  data file offset of the value record
//	  size   u48  value size
//	  hash   u48  low 48 bits of the key's hash
//	}
//
// Entries are ordered by hash.  The bytes following the last entry are
// always zero, so the first CompactSize bytes are the serialized form.
package bucket

import (
	"fmt"
	"io"
	"sort"

	"github.com/bpowers/nudb/internal/bulkio"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

const (
	headerSize = format.BucketHeaderSize
	entrySize  = format.EntrySize

	// HashMask selects the part of a 64-bit hash kept in a bucket entry.
	HashMask = field.MaxUint48
)

// Entry is a single bucket slot.
type Entry struct {
	Offset uint64
	Size   uint64
	Hash   uint64
}

// Bucket is a view over a block-sized buffer.  Copying a Bucket copies the
// view, not the bytes.
type Bucket struct {
	blockSize int
	capacity  int
	buf       []byte
}

// Index maps a hash to a bucket number with linear hashing.
func Index(h, buckets, modulus uint64) uint64 {
	n := h % modulus
	if n >= buckets {
		n -= modulus / 2
	}
	return n
}

// Hash truncates a full hash to the width stored in entries.
func Hash(h uint64) uint64 {
	return h & HashMask
}

// New returns a view over buf, which must be at least blockSize bytes, as
// it is.
func New(blockSize int, buf []byte) Bucket {
	if len(buf) < blockSize {
		panic(fmt.Sprintf("bucket: buffer %d smaller than block size %d", len(buf), blockSize))
	}
	return Bucket{
		blockSize: blockSize,
		capacity:  format.Capacity(blockSize),
		buf:       buf[:blockSize],
	}
}

// Empty returns a zeroed bucket over buf.
func Empty(blockSize int, buf []byte) Bucket {
	b := New(blockSize, buf)
	b.Clear()
	return b
}

// Alloc returns an empty bucket with its own buffer.
func Alloc(blockSize int) Bucket {
	return New(blockSize, make([]byte, blockSize))
}

// Size is the number of entries.
func (b Bucket) Size() int {
	return int(field.Uint16(b.buf))
}

func (b Bucket) setSize(n int) {
	field.PutUint16(b.buf, uint16(n))
}

// Spill is the data file offset of the next bucket in the chain.
func (b Bucket) Spill() uint64 {
	return field.Uint48(b.buf[field.Uint16Size:])
}

func (b Bucket) SetSpill(off uint64) {
	field.PutUint48(b.buf[field.Uint16Size:], off)
}

func (b Bucket) IsEmpty() bool { return b.Size() == 0 }
func (b Bucket) IsFull() bool  { return b.Size() >= b.capacity }

// CompactSize is the size of the serialized bucket.
func (b Bucket) CompactSize() int {
	return headerSize + b.Size()*entrySize
}

// Compact returns the serialized bucket, aliasing the view's buffer.
func (b Bucket) Compact() []byte {
	return b.buf[:b.CompactSize()]
}

func (b Bucket) Clear() {
	clear(b.buf)
}

func (b Bucket) slot(i int) []byte {
	off := headerSize + i*entrySize
	return b.buf[off : off+entrySize]
}

func (b Bucket) Entry(i int) Entry {
	s := b.slot(i)
	return Entry{
		Offset: field.Uint48(s),
		Size:   field.Uint48(s[6:]),
		Hash:   field.Uint48(s[12:]),
	}
}

func (b Bucket) hashAt(i int) uint64 {
	return field.Uint48(b.slot(i)[12:])
}

// LowerBound returns the index of the first entry whose hash is not less
// than h.
func (b Bucket) LowerBound(h uint64) int {
	h = Hash(h)
	return sort.Search(b.Size(), func(i int) bool {
		return b.hashAt(i) >= h
	})
}

// Insert adds an entry, keeping the entries ordered by hash.  Inserting
// into a full bucket panics; the caller spills first.
func (b Bucket) Insert(offset, size, hash uint64) {
	n := b.Size()
	if n >= b.capacity {
		panic("bucket: insert into full bucket")
	}
	hash = Hash(hash)
	i := b.LowerBound(hash)
	start := headerSize + i*entrySize
	end := headerSize + n*entrySize
	copy(b.buf[start+entrySize:end+entrySize], b.buf[start:end])
	s := b.buf[start : start+entrySize]
	field.PutUint48(s, offset)
	field.PutUint48(s[6:], size)
	field.PutUint48(s[12:], hash)
	b.setSize(n + 1)
}

// Erase removes entry i.
func (b Bucket) Erase(i int) {
	n := b.Size()
	if i < 0 || i >= n {
		panic(fmt.Sprintf("bucket: erase %d of %d", i, n))
	}
	start := headerSize + i*entrySize
	end := headerSize + n*entrySize
	copy(b.buf[start:], b.buf[start+entrySize:end])
	clear(b.buf[end-entrySize : end])
	b.setSize(n - 1)
}

// CopyFrom makes b a copy of other.
func (b Bucket) CopyFrom(other Bucket) {
	copy(b.buf, other.buf)
}

// Decode loads a serialized bucket, checking it against the capacity.
func (b Bucket) Decode(p []byte) error {
	if len(p) < headerSize {
		return fmt.Errorf("%w: %d bytes", fault.ErrShortBucket, len(p))
	}
	n := int(field.Uint16(p))
	if n > b.capacity {
		return fmt.Errorf("%w: count %d exceeds capacity %d", fault.ErrInvalidBucketSize, n, b.capacity)
	}
	size := headerSize + n*entrySize
	if len(p) < size {
		return fmt.Errorf("%w: %d of %d bytes", fault.ErrShortBucket, len(p), size)
	}
	copy(b.buf, p[:size])
	clear(b.buf[size:])
	return nil
}

// ReadKeyFile loads bucket n from the key file.
func (b Bucket) ReadKeyFile(f io.ReaderAt, n uint64) error {
	off := KeyFileOffset(n, b.blockSize)
	if err := file.ReadFull(f, b.buf, off); err != nil {
		if fault.IsErrShort(err) {
			return fmt.Errorf("bucket %d: %w: %w", n, fault.ErrShortBucket, err)
		}
		return fmt.Errorf("bucket %d: %w", n, err)
	}
	if size := b.Size(); size > b.capacity {
		return fmt.Errorf("bucket %d: %w: count %d exceeds capacity %d", n, fault.ErrInvalidBucketSize, size, b.capacity)
	}
	clear(b.buf[b.CompactSize():])
	return nil
}

// WriteKeyFile stores the whole block as bucket n of the key file.
func (b Bucket) WriteKeyFile(f io.WriterAt, n uint64) error {
	if err := file.WriteFull(f, b.buf, KeyFileOffset(n, b.blockSize)); err != nil {
		return fmt.Errorf("bucket %d: %w", n, err)
	}
	return nil
}

// KeyFileOffset is the key file offset of bucket n.
func KeyFileOffset(n uint64, blockSize int) int64 {
	return int64(n+1) * int64(blockSize)
}

// ReadSpill loads the spill record at off in the data file.
func (b Bucket) ReadSpill(f io.ReaderAt, off uint64) error {
	var hdr [format.SpillHeaderSize]byte
	if err := file.ReadFull(f, hdr[:], int64(off)); err != nil {
		if fault.IsErrShort(err) {
			return fmt.Errorf("spill at %d: %w: %w", off, fault.ErrShortSpill, err)
		}
		return fmt.Errorf("spill at %d: %w", off, err)
	}
	if marker := field.Uint48(hdr[:]); marker != 0 {
		return fmt.Errorf("spill at %d: %w: value record of size %d", off, fault.ErrInvalidSpillSize, marker)
	}
	size := int(field.Uint16(hdr[field.Uint48Size:]))
	if size < headerSize || size > format.BucketSize(b.capacity) || (size-headerSize)%entrySize != 0 {
		return fmt.Errorf("spill at %d: %w: %d", off, fault.ErrInvalidSpillSize, size)
	}
	p := b.buf[:size]
	if err := file.ReadFull(f, p, int64(off)+format.SpillHeaderSize); err != nil {
		if fault.IsErrShort(err) {
			return fmt.Errorf("spill at %d: %w: %w", off, fault.ErrShortSpill, err)
		}
		return fmt.Errorf("spill at %d: %w", off, err)
	}
	if got := b.CompactSize(); got != size {
		return fmt.Errorf("spill at %d: %w: count says %d bytes, record %d", off, fault.ErrInvalidSpillSize, got, size)
	}
	clear(b.buf[size:])
	return nil
}

// WriteSpill appends b to the data file as a spill record and returns the
// record's offset.
func (b Bucket) WriteSpill(w *bulkio.Writer) (uint64, error) {
	size := b.CompactSize()
	off := w.Offset()
	p, err := w.Prepare(int(format.SpillSize(size)))
	if err != nil {
		return 0, err
	}
	field.PutUint48(p, 0)
	field.PutUint16(p[field.Uint48Size:], uint16(size))
	copy(p[format.SpillHeaderSize:], b.Compact())
	if _, err := w.Write(p); err != nil {
		return 0, err
	}
	return uint64(off), nil
}

// MaybeSpill makes room in a full bucket: its contents move to a spill
// record in the data file and the emptied bucket links to it.  It reports
// whether a spill was written.
func MaybeSpill(b Bucket, w *bulkio.Writer) (bool, error) {
	if !b.IsFull() {
		return false, nil
	}
	off, err := b.WriteSpill(w)
	if err != nil {
		return false, err
	}
	b.Clear()
	b.SetSpill(off)
	return true, nil
}
