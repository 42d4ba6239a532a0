// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
	"github.com/bpowers/nudb/internal/file"
)

func runRekey(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	bs, err := blockSize(c, p.key)
	if err != nil {
		return err
	}
	if c.Bool("replace") {
		var fs file.OS
		if ok, err := fs.Exists(p.log); err != nil {
			return err
		} else if ok {
			// the old key file may be needed to recover
			return nudb.ErrLogFileExists
		}
		if err := fs.Erase(p.key); err != nil {
			return err
		}
		m.logger.Info("removed key file", "key", p.key)
	}
	return nudb.Rekey(p.dat, p.key, p.log, bs, c.Float64("load-factor"), c.Uint64("items"), c.Int("buffer"), m.opts...)
}
