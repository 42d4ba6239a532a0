// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bpowers/nudb/internal/bucket"
)

func TestCache(t *testing.T) {
	const blockSize = 512
	c := New(blockSize, 4096)
	c.Reserve(8)

	b := c.Create(3)
	assert.True(t, b.IsEmpty())
	b.Insert(10, 20, 30)

	got, ok := c.Find(3)
	require.True(t, ok)
	assert.Equal(t, 1, got.Size())

	src := bucket.Alloc(blockSize)
	src.Insert(1, 2, 3)
	src.SetSpill(99)
	cp := c.Insert(1, src)
	src.Insert(4, 5, 6)
	assert.Equal(t, 1, cp.Size(), "insert copies the bucket")
	assert.Equal(t, uint64(99), cp.Spill())

	c.Create(0)
	assert.Equal(t, 3, c.Len())

	var order []uint64
	require.NoError(t, c.Each(func(n uint64, b bucket.Bucket) error {
		order = append(order, n)
		return nil
	}))
	assert.Equal(t, []uint64{0, 1, 3}, order)

	c.Clear()
	assert.Zero(t, c.Len())
	_, ok = c.Find(3)
	assert.False(t, ok)

	c.ShrinkToFit()
	b = c.Create(7)
	assert.True(t, b.IsEmpty())
}
