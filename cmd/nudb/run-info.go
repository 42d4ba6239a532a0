// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package main

import (
	"github.com/urfave/cli"

	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

type fileInfo struct {
	Path   string      `json:"path"`
	Size   int64       `json:"size"`
	Header interface{} `json:"header,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func describe(path string, read func(f file.File) (interface{}, error)) *fileInfo {
	var fs file.OS
	if ok, err := fs.Exists(path); err != nil || !ok {
		return nil
	}
	info := &fileInfo{Path: path}
	f, err := fs.Open(file.Read, path)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer func() { _ = f.Close() }()
	if info.Size, err = f.Size(); err != nil {
		info.Error = err.Error()
		return info
	}
	if info.Header, err = read(f); err != nil {
		info.Error = err.Error()
	}
	return info
}

func runInfo(c *cli.Context) error {
	m := c.App.Metadata["config"].(*metadata)

	p, err := storePaths(c)
	if err != nil {
		return err
	}
	out := struct {
		Dat *fileInfo `json:"dat,omitempty"`
		Key *fileInfo `json:"key,omitempty"`
		Log *fileInfo `json:"log,omitempty"`
	}{
		Dat: describe(p.dat, func(f file.File) (interface{}, error) {
			h, err := format.ReadDatFileHeader(f)
			return h, err
		}),
		Key: describe(p.key, func(f file.File) (interface{}, error) {
			h, err := format.ReadKeyFileHeader(f)
			if err != nil {
				// show what a damaged key file claims to be
				if peek, perr := format.PeekKeyFileHeader(f); perr == nil {
					return peek, err
				}
			}
			return h, err
		}),
		Log: describe(p.log, func(f file.File) (interface{}, error) {
			h, err := format.ReadLogFileHeader(f)
			return h, err
		}),
	}
	return printJson(m.w, out)
}
