// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package pool holds inserted key/value pairs until they are committed.
package pool

import (
	"bytes"
	"fmt"
	"sort"
	"time"
	"unsafe"

	"github.com/bpowers/nudb/internal/arena"
)

// Item is a pooled insert.  Key and Data are owned by the pool's arena.
type Item struct {
	Hash uint64
	Key  []byte
	Data []byte
	// Offset is the data file offset of the value record, assigned when
	// the pool is committed.
	Offset uint64
}

// Pool is a set of items keyed by their key bytes.  It is not safe for
// concurrent mutation; readers may call Find concurrently with each other
// once the pool stops changing.
type Pool struct {
	keySize  int
	arena    *arena.Arena
	items    []Item
	index    map[string]int
	order    []int
	dataSize int
}

func New(keySize, allocSize int) *Pool {
	return &Pool{
		keySize: keySize,
		arena:   arena.New(allocSize),
		index:   make(map[string]int),
	}
}

// arenaString views arena memory as a string without copying; the string
// must not outlive the next Clear.
func arenaString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// Insert copies key and data into the pool.  Inserting a key that is
// already pooled panics: callers check with Find first.
func (p *Pool) Insert(hash uint64, key, data []byte) *Item {
	if len(key) != p.keySize {
		panic(fmt.Sprintf("pool: key is %d bytes, want %d", len(key), p.keySize))
	}
	if _, ok := p.index[string(key)]; ok {
		panic("pool: duplicate key")
	}
	buf := p.arena.Alloc(len(key) + len(data))
	copy(buf, key)
	copy(buf[len(key):], data)
	k := buf[:len(key):len(key)]
	p.items = append(p.items, Item{
		Hash: hash,
		Key:  k,
		Data: buf[len(key):],
	})
	p.index[arenaString(k)] = len(p.items) - 1
	p.order = nil
	p.dataSize += len(data)
	return &p.items[len(p.items)-1]
}

// Find returns the pooled item for key.
func (p *Pool) Find(key []byte) (*Item, bool) {
	i, ok := p.index[string(key)]
	if !ok {
		return nil, false
	}
	return &p.items[i], true
}

// Len is the number of items.
func (p *Pool) Len() int {
	return len(p.items)
}

// DataSize is the total size of the pooled values.
func (p *Pool) DataSize() int {
	return p.dataSize
}

// IsEmpty reports whether nothing is pooled.
func (p *Pool) IsEmpty() bool {
	return len(p.items) == 0
}

// Each calls fn for every item in key order, stopping at the first error.
func (p *Pool) Each(fn func(*Item) error) error {
	if p.order == nil {
		p.order = make([]int, len(p.items))
		for i := range p.order {
			p.order[i] = i
		}
		sort.Slice(p.order, func(i, j int) bool {
			return bytes.Compare(p.items[p.order[i]].Key, p.items[p.order[j]].Key) < 0
		})
	}
	for _, i := range p.order {
		if err := fn(&p.items[i]); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every item.  The arena's memory is kept for the next
// generation.
func (p *Pool) Clear() {
	clear(p.index)
	clear(p.items)
	p.items = p.items[:0]
	p.order = nil
	p.dataSize = 0
	p.arena.Clear()
}

// ShrinkToFit releases memory retained for reuse.
func (p *Pool) ShrinkToFit() {
	if len(p.items) == 0 {
		p.items = nil
		p.index = make(map[string]int)
	}
	p.arena.ShrinkToFit()
}

// Periodic retunes the arena to the recent insert rate.
func (p *Pool) Periodic(now time.Time) {
	p.arena.Periodic(now)
}
