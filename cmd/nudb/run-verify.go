// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
)

func runVerify(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	info, err := nudb.Verify(p.dat, p.key, p.log, c.Int("buffer"), m.opts...)
	if info != nil {
		if perr := printJson(m.w, info); perr != nil {
			return perr
		}
	}
	return err
}

func runRecover(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	return nudb.Recover(p.dat, p.key, p.log, m.opts...)
}
