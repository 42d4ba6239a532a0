// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package field

// Writer encodes fields sequentially into a caller-provided buffer.  It
// panics if the buffer is too small: buffers are always sized from the
// format, so running out of room is a programming error.
type Writer struct {
	buf []byte
	off int
}

func NewWriter(buf []byte) *Writer {
	return &Writer{buf: buf}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int {
	return w.off
}

func (w *Writer) next(n int) []byte {
	b := w.buf[w.off : w.off+n]
	w.off += n
	return b
}

func (w *Writer) Bytes(p []byte) {
	copy(w.next(len(p)), p)
}

// Zeros writes n zero bytes, used for reserved header space.
func (w *Writer) Zeros(n int) {
	clear(w.next(n))
}

func (w *Writer) Uint8(v uint8)   { PutUint8(w.next(Uint8Size), v) }
func (w *Writer) Uint16(v uint16) { PutUint16(w.next(Uint16Size), v) }
func (w *Writer) Uint24(v uint32) { PutUint24(w.next(Uint24Size), v) }
func (w *Writer) Uint32(v uint32) { PutUint32(w.next(Uint32Size), v) }
func (w *Writer) Uint48(v uint64) { PutUint48(w.next(Uint48Size), v) }
func (w *Writer) Uint64(v uint64) { PutUint64(w.next(Uint64Size), v) }

// Reader decodes fields sequentially.  Unlike Writer it never panics: once
// the input is exhausted every read returns zero and Short reports true, so
// callers check once after decoding a whole structure.
type Reader struct {
	buf   []byte
	off   int
	short bool
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Short is true if any read ran past the end of the input.
func (r *Reader) Short() bool {
	return r.short
}

// Len returns the number of bytes consumed so far.
func (r *Reader) Len() int {
	return r.off
}

func (r *Reader) next(n int) []byte {
	if r.short || r.off+n > len(r.buf) {
		r.short = true
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) []byte {
	return r.next(n)
}

func (r *Reader) Skip(n int) {
	_ = r.next(n)
}

func (r *Reader) Uint8() uint8 {
	if b := r.next(Uint8Size); b != nil {
		return Uint8(b)
	}
	return 0
}

func (r *Reader) Uint16() uint16 {
	if b := r.next(Uint16Size); b != nil {
		return Uint16(b)
	}
	return 0
}

func (r *Reader) Uint24() uint32 {
	if b := r.next(Uint24Size); b != nil {
		return Uint24(b)
	}
	return 0
}

func (r *Reader) Uint32() uint32 {
	if b := r.next(Uint32Size); b != nil {
		return Uint32(b)
	}
	return 0
}

func (r *Reader) Uint48() uint64 {
	if b := r.next(Uint48Size); b != nil {
		return Uint48(b)
	}
	return 0
}

func (r *Reader) Uint64() uint64 {
	if b := r.next(Uint64Size); b != nil {
		return Uint64(b)
	}
	return 0
}
