// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	farm "github.com/dgryski/go-farm"
)

// Hasher digests keys.  It must be deterministic across processes: keys
// are re-hashed every time a store is opened.
type Hasher interface {
	Hash(p []byte) uint64
}

// HasherFunc constructs the Hasher for a store's salt.
type HasherFunc func(salt uint64) Hasher

type farmHasher uint64

func (h farmHasher) Hash(p []byte) uint64 {
	return farm.Hash64WithSeed(p, uint64(h))
}

// FarmHasher is the default HasherFunc, seeded farmhash.
func FarmHasher(salt uint64) Hasher {
	return farmHasher(salt)
}
