// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"

	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
)

func runVisit(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	countOnly := c.Bool("count-only")
	w := bufio.NewWriter(m.w)
	n := 0
	err = nudb.Visit(p.dat, func(key, value []byte) error {
		n++
		if countOnly {
			return nil
		}
		_, err := fmt.Fprintf(w, "%x:%s\n", key, value)
		return err
	}, m.opts...)
	if err != nil {
		return err
	}
	if countOnly {
		fmt.Fprintf(w, "%d\n", n)
	}
	return w.Flush()
}
