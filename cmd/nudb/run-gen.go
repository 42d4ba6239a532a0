// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"crypto/hmac"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"math/rand"

	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
)

const suffixLen = 16

func newRand() (*rand.Rand, error) {
	var seedBytes [8]byte
	if _, err := crand.Read(seedBytes[:]); err != nil {
		return nil, err
	}
	seed := int64(binary.LittleEndian.Uint64(seedBytes[:]))
	return rand.New(rand.NewSource(seed)), nil
}

// pairGen produces random values and keys derived from them, so a key can
// be checked against its value without a lookup table.
type pairGen struct {
	rng    *rand.Rand
	mac    hash.Hash
	prefix string
}

func (g *pairGen) next() (key, value []byte, err error) {
	var buf [suffixLen / 2]byte
	if _, err := g.rng.Read(buf[:]); err != nil {
		return nil, nil, err
	}
	value = []byte(fmt.Sprintf("%s%x", g.prefix, buf))
	g.mac.Reset()
	g.mac.Write(value)
	return g.mac.Sum(nil), value, nil
}

func runGen(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	rng, err := newRand()
	if err != nil {
		return err
	}
	g := &pairGen{
		rng:    rng,
		mac:    hmac.New(sha256.New, []byte(c.String("hmac-key"))),
		prefix: c.String("prefix"),
	}
	n := c.Int("count")

	if c.String("db") == "" {
		w := bufio.NewWriter(m.w)
		for i := 0; i < n; i++ {
			key, value, err := g.next()
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s:%s\n", hex.EncodeToString(key), value)
		}
		return w.Flush()
	}

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	s, err := nudb.Open(p.dat, p.key, p.log, m.opts...)
	if err != nil {
		return err
	}
	if s.KeySize() > sha256.Size {
		_ = s.Close()
		return fmt.Errorf("store key size %d is larger than the %d byte generated keys", s.KeySize(), sha256.Size)
	}
	for i := 0; i < n; i++ {
		key, value, err := g.next()
		if err == nil {
			err = s.Insert(key[:s.KeySize()], value)
		}
		if nudb.IsErrExists(err) {
			continue
		} else if err != nil {
			_ = s.Close()
			return err
		}
		if m.verbose && i%100000 == 0 {
			m.logger.Debug("inserting", "done", i, "total", n)
		}
	}
	if err := s.Close(); err != nil {
		return err
	}
	st := s.Stats()
	m.logger.Info("generated pairs", "inserted", st.Inserts, "commits", st.Commits, "buckets", st.Buckets)
	return nil
}
