// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package gentex implements a generation gate: one writer waits for the
// readers of earlier generations to leave without ever blocking readers.
package gentex

import "sync"

type Gentex struct {
	mu   sync.Mutex
	cond sync.Cond
	gen  uint64
	cur  int // readers of gen
	prev int // readers of every earlier generation
}

func New() *Gentex {
	g := &Gentex{}
	g.cond.L = &g.mu
	return g
}

// Lock enters the current generation and returns it for Unlock.
func (g *Gentex) Lock() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cur++
	return g.gen
}

// Unlock leaves generation gen.
func (g *Gentex) Unlock(gen uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gen == g.gen {
		g.cur--
		return
	}
	g.prev--
	if g.prev < 0 {
		panic("gentex: unbalanced Unlock")
	}
	if g.prev == 0 {
		g.cond.Broadcast()
	}
}

// Start begins a new generation.  Readers already inside are counted as
// prior readers that Finish waits for.
func (g *Gentex) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.prev += g.cur
	g.cur = 0
}

// Finish blocks until every reader from before the last Start has left.
func (g *Gentex) Finish() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.prev > 0 {
		g.cond.Wait()
	}
}
