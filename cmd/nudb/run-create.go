// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
)

func runCreate(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	bs, err := blockSize(c, p.dat)
	if err != nil {
		return err
	}
	salt, err := nudb.NewSalt()
	if err != nil {
		return err
	}
	keySize := c.Int("key-size")
	loadFactor := c.Float64("load-factor")
	if err := nudb.Create(p.dat, p.key, p.log, c.Uint64("appnum"), salt, keySize, bs, loadFactor, m.opts...); err != nil {
		return err
	}
	m.logger.Info("created store",
		"dat", p.dat,
		"key", p.key,
		"key_size", keySize,
		"block_size", bs,
		"load_factor", loadFactor)
	return nil
}
