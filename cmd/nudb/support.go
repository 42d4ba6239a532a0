// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
	"github.com/bpowers/nudb/internal/file"
)

type paths struct {
	dat, key, log string
}

func storePaths(c *cli.Context) (paths, error) {
	prefix := c.String("db")
	if prefix == "" {
		return paths{}, fmt.Errorf("store prefix is required, use --db")
	}
	return paths{
		dat: prefix + ".dat",
		key: prefix + ".key",
		log: prefix + ".log",
	}, nil
}

// blockSize returns the block-size flag, or the file system's block size
// for the directory holding path.
func blockSize(c *cli.Context, path string) (int, error) {
	if n := c.Int("block-size"); n > 0 {
		return n, nil
	}
	return file.BlockSize(path)
}

// newProgress logs progress at most once a second.
func newProgress(logger *slog.Logger) nudb.Progress {
	var last time.Time
	return func(done, total uint64) {
		now := time.Now()
		if done < total && now.Sub(last) < time.Second {
			return
		}
		last = now
		pct := 100.0
		if total > 0 {
			pct = 100 * float64(done) / float64(total)
		}
		logger.Debug("progress", "done", done, "total", total, "percent", fmt.Sprintf("%.1f", pct))
	}
}

func printJson(handle io.Writer, message interface{}) error {
	b, err := json.MarshalIndent(message, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(handle, "%s\n", b)
	return nil
}
