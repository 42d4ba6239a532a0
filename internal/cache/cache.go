// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package cache maps bucket numbers to bucket images held in an arena.
package cache

import (
	"sort"
	"time"

	"github.com/bpowers/nudb/internal/arena"
	"github.com/bpowers/nudb/internal/bucket"
)

type Cache struct {
	blockSize int
	arena     *arena.Arena
	buckets   map[uint64]bucket.Bucket
}

func New(blockSize, allocSize int) *Cache {
	return &Cache{
		blockSize: blockSize,
		arena:     arena.New(allocSize),
		buckets:   make(map[uint64]bucket.Bucket),
	}
}

// Create adds an empty bucket n.
func (c *Cache) Create(n uint64) bucket.Bucket {
	b := bucket.Empty(c.blockSize, c.arena.Alloc(c.blockSize))
	c.buckets[n] = b
	return b
}

// Insert adds a copy of b as bucket n and returns the copy.
func (c *Cache) Insert(n uint64, b bucket.Bucket) bucket.Bucket {
	cp := bucket.New(c.blockSize, c.arena.Alloc(c.blockSize))
	cp.CopyFrom(b)
	c.buckets[n] = cp
	return cp
}

func (c *Cache) Find(n uint64) (bucket.Bucket, bool) {
	b, ok := c.buckets[n]
	return b, ok
}

// Reserve sizes an empty cache for about n buckets.
func (c *Cache) Reserve(n int) {
	if len(c.buckets) == 0 {
		c.buckets = make(map[uint64]bucket.Bucket, n)
	}
}

func (c *Cache) Len() int {
	return len(c.buckets)
}

// Each calls fn for every bucket in ascending bucket order, stopping at
// the first error.
func (c *Cache) Each(fn func(n uint64, b bucket.Bucket) error) error {
	ns := make([]uint64, 0, len(c.buckets))
	for n := range c.buckets {
		ns = append(ns, n)
	}
	sort.Slice(ns, func(i, j int) bool { return ns[i] < ns[j] })
	for _, n := range ns {
		if err := fn(n, c.buckets[n]); err != nil {
			return err
		}
	}
	return nil
}

// Clear drops every bucket.
func (c *Cache) Clear() {
	clear(c.buckets)
	c.arena.Clear()
}

func (c *Cache) ShrinkToFit() {
	if len(c.buckets) == 0 {
		c.buckets = make(map[uint64]bucket.Bucket)
	}
	c.arena.ShrinkToFit()
}

func (c *Cache) Periodic(now time.Time) {
	c.arena.Periodic(now)
}
