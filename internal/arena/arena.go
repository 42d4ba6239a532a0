// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package arena is a bump allocator for short-lived byte slices that all
// die at the same time.
//
// Memory is handed out from large blocks.  Individual allocations are never
// freed; Clear retires every allocation at once and keeps the blocks around
// for reuse by the next generation.  The target block size adapts to the
// observed allocation rate so a busy arena makes few large blocks and an
// idle one does not pin a lot of memory.
package arena

import (
	"time"
)

const (
	minAllocSize = 4 * 1024
	maxAllocSize = 256 * 1024 * 1024
	alignment    = 8
)

type block struct {
	buf  []byte
	used int
}

func (b *block) remain() int {
	return len(b.buf) - b.used
}

type Arena struct {
	allocSize int
	used      []*block
	free      []*block

	// bookkeeping for Periodic
	when   time.Time
	nalloc uint64
}

// New returns an arena whose first blocks are allocSize bytes.
func New(allocSize int) *Arena {
	return &Arena{
		allocSize: clampAllocSize(allocSize),
		when:      time.Now(),
	}
}

func clampAllocSize(n int) int {
	if n < minAllocSize {
		return minAllocSize
	}
	if n > maxAllocSize {
		return maxAllocSize
	}
	return n
}

func roundUp(n int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// Alloc returns n zeroed bytes.  The returned slice has capacity n and
// remains valid until the next Clear.
func (a *Arena) Alloc(n int) []byte {
	if n < 0 {
		panic("arena: negative allocation")
	}
	size := roundUp(n)
	a.nalloc += uint64(size)

	if len(a.used) > 0 {
		if b := a.used[len(a.used)-1]; b.remain() >= size {
			return b.take(n, size)
		}
	}

	// look for a recycled block big enough
	for i, b := range a.free {
		if len(b.buf) >= size {
			a.free = append(a.free[:i], a.free[i+1:]...)
			a.used = append(a.used, b)
			return b.take(n, size)
		}
	}

	blockSize := a.allocSize
	if size > blockSize {
		blockSize = size
	}
	b := &block{buf: make([]byte, blockSize)}
	a.used = append(a.used, b)
	return b.take(n, size)
}

func (b *block) take(n, size int) []byte {
	p := b.buf[b.used : b.used+n : b.used+n]
	b.used += size
	return p
}

// Clear retires every allocation.  Blocks move to the free list and are
// zeroed, so slices handed out earlier must no longer be used.
func (a *Arena) Clear() {
	for _, b := range a.used {
		clear(b.buf[:b.used])
		b.used = 0
		a.free = append(a.free, b)
	}
	a.used = a.used[:0]
}

// ShrinkToFit releases the free list back to the garbage collector.
func (a *Arena) ShrinkToFit() {
	clear(a.free)
	a.free = nil
}

// Periodic retunes the target block size toward the allocation rate seen
// since the last call.
func (a *Arena) Periodic(now time.Time) {
	elapsed := now.Sub(a.when).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(a.nalloc) / elapsed
	for rate > 2*float64(a.allocSize) && a.allocSize < maxAllocSize {
		a.allocSize *= 2
	}
	for rate < float64(a.allocSize)/2 && a.allocSize > minAllocSize {
		a.allocSize /= 2
	}
	a.allocSize = clampAllocSize(a.allocSize)
	a.when = now
	a.nalloc = 0
}

// AllocSize is the size of the next block the arena will create.
func (a *Arena) AllocSize() int {
	return a.allocSize
}

// Blocks returns the number of blocks in use and on the free list.
func (a *Arena) Blocks() (used, free int) {
	return len(a.used), len(a.free)
}
