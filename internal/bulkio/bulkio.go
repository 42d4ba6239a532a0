// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package bulkio batches small sequential reads and appends into large
// file operations.
package bulkio

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/bpowers/nudb/internal/fault"
)

// Writer appends to a file starting at a fixed offset.
type Writer struct {
	bw  *bufio.Writer
	off int64
}

// NewWriter returns a Writer appending at off with a buffer of size bytes.
func NewWriter(f io.WriterAt, off int64, size int) *Writer {
	return &Writer{
		bw:  bufio.NewWriterSize(io.NewOffsetWriter(f, off), size),
		off: off,
	}
}

// Offset is the file offset the next write lands at, including buffered
// bytes not yet flushed.
func (w *Writer) Offset() int64 {
	return w.off
}

// Buffered is the number of bytes not yet written to the file.
func (w *Writer) Buffered() int {
	return w.bw.Buffered()
}

// Prepare returns n bytes of scratch space for the caller to encode a
// record into before passing it to Write.  When the buffer has room, the
// space is the buffer itself and Write does not copy.
func (w *Writer) Prepare(n int) ([]byte, error) {
	if w.bw.Available() < n {
		if err := w.Flush(); err != nil {
			return nil, err
		}
	}
	if w.bw.Available() < n {
		return make([]byte, n), nil
	}
	return w.bw.AvailableBuffer()[:n], nil
}

func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.off += int64(n)
	if err != nil {
		return n, fmt.Errorf("bulkio.Write: %w", err)
	}
	return n, nil
}

func (w *Writer) Flush() error {
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("bulkio.Flush: %w", err)
	}
	return nil
}

// Reader reads a file sequentially between two offsets.
type Reader struct {
	br  *bufio.Reader
	off int64
	end int64
}

// NewReader returns a Reader over [off, end) with a buffer of size bytes.
func NewReader(f io.ReaderAt, off, end int64, size int) *Reader {
	return &Reader{
		br:  bufio.NewReaderSize(io.NewSectionReader(f, off, end-off), size),
		off: off,
		end: end,
	}
}

// Offset is the file offset of the next byte Prepare returns.
func (r *Reader) Offset() int64 {
	return r.off
}

// EOF reports whether every byte in the range has been consumed.
func (r *Reader) EOF() bool {
	return r.off >= r.end
}

// Prepare returns the next n bytes.  The slice is only valid until the
// next call.  Running off the end of the range is fault.ErrShortRead.
func (r *Reader) Prepare(n int) ([]byte, error) {
	if n <= r.br.Size() {
		b, err := r.br.Peek(n)
		if err != nil {
			return nil, r.wrap(err, len(b), n)
		}
		_, _ = r.br.Discard(n)
		r.off += int64(n)
		return b, nil
	}
	b := make([]byte, n)
	m, err := io.ReadFull(r.br, b)
	if err != nil {
		return nil, r.wrap(err, m, n)
	}
	r.off += int64(n)
	return b, nil
}

func (r *Reader) wrap(err error, got, want int) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read %d of %d bytes at offset %d", fault.ErrShortRead, got, want, r.off)
	}
	return fmt.Errorf("bulkio.Prepare(%d) at %d: %w", want, r.off, err)
}
