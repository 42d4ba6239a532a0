// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Command nudb creates, fills, inspects and repairs nudb stores.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli"

	"github.com/bpowers/nudb"
)

type metadata struct {
	logger  *slog.Logger
	opts    []nudb.Option
	verbose bool
	e       io.Writer
	w       io.Writer
}

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "zero"

func main() {
	app := cli.NewApp()
	app.Name = "nudb"
	app.Usage = "create, fill, inspect and repair nudb stores"
	app.Version = version

	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: " log debug output and progress",
		},
		cli.StringFlag{
			Name:  "codec, c",
			Value: "identity",
			Usage: " value encoding `CODEC` [identity|snappy]",
		},
	}

	dbFlag := cli.StringFlag{
		Name:  "db, d",
		Value: "",
		Usage: "*store `PREFIX`, the files are PREFIX.dat, PREFIX.key and PREFIX.log",
	}
	blockSizeFlag := cli.IntFlag{
		Name:  "block-size, b",
		Value: 0,
		Usage: " key file block size in `BYTES` [default file system block size]",
	}
	loadFactorFlag := cli.Float64Flag{
		Name:  "load-factor, l",
		Value: 0.5,
		Usage: " target bucket occupancy `FRACTION` in (0, 1)",
	}
	bufferFlag := cli.IntFlag{
		Name:  "buffer, m",
		Value: 64 * 1024 * 1024,
		Usage: " memory budget in `BYTES`",
	}

	app.Commands = []cli.Command{
		{
			Name:      "create",
			Usage:     "create an empty store",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				dbFlag,
				cli.IntFlag{
					Name:  "key-size, k",
					Value: 32,
					Usage: " size of every key in `BYTES`",
				},
				blockSizeFlag,
				loadFactorFlag,
				cli.Uint64Flag{
					Name:  "appnum, a",
					Value: 0,
					Usage: " application defined `NUMBER` stored in the headers",
				},
			},
			Action: runCreate,
		},
		{
			Name:      "gen",
			Usage:     "generate test key/value pairs, inserting them or printing them as KEY:VALUE lines",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "db, d",
					Value: "",
					Usage: " insert into the store at `PREFIX` instead of printing",
				},
				cli.IntFlag{
					Name:  "count, n",
					Value: 1000000,
					Usage: " number of pairs `COUNT`",
				},
				cli.StringFlag{
					Name:  "prefix, p",
					Value: "pref_",
					Usage: " value `PREFIX`",
				},
				cli.StringFlag{
					Name:  "hmac-key",
					Value: "d259c7f656caf7f1",
					Usage: " keys are the HMAC-SHA256 of the value under `SECRET`",
				},
			},
			Action: runGen,
		},
		{
			Name:      "info",
			Usage:     "print the file headers of a store",
			ArgsUsage: "\n   (* = required)",
			Flags:     []cli.Flag{dbFlag},
			Action:    runInfo,
		},
		{
			Name:      "verify",
			Usage:     "check that every key refers to exactly one value",
			ArgsUsage: "\n   (* = required)",
			Flags:     []cli.Flag{dbFlag, bufferFlag},
			Action:    runVerify,
		},
		{
			Name:      "recover",
			Usage:     "roll back an interrupted commit or rekey",
			ArgsUsage: "\n   (* = required)",
			Flags:     []cli.Flag{dbFlag},
			Action:    runRecover,
		},
		{
			Name:      "rekey",
			Usage:     "build a new key file from the data file",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				dbFlag,
				blockSizeFlag,
				loadFactorFlag,
				bufferFlag,
				cli.Uint64Flag{
					Name:  "items, i",
					Value: 0,
					Usage: " number of values in the data file `COUNT` [count them]",
				},
				cli.BoolFlag{
					Name:  "replace, r",
					Usage: " remove an existing key file first",
				},
			},
			Action: runRekey,
		},
		{
			Name:      "visit",
			Usage:     "print every key/value pair in a data file",
			ArgsUsage: "\n   (* = required)",
			Flags: []cli.Flag{
				dbFlag,
				cli.BoolFlag{
					Name:  "count-only",
					Usage: " only print the number of pairs",
				},
			},
			Action: runVisit,
		},
	}

	app.Before = func(c *cli.Context) error {
		verbose := c.GlobalBool("verbose")
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))

		codec, err := nudb.CodecByName(c.GlobalString("codec"))
		if err != nil {
			return err
		}
		opts := []nudb.Option{
			nudb.WithLogger(logger),
			nudb.WithCodec(codec),
		}
		if verbose {
			opts = append(opts, nudb.WithProgress(newProgress(logger)))
		}

		c.App.Metadata["config"] = &metadata{
			logger:  logger,
			opts:    opts,
			verbose: verbose,
			e:       c.App.ErrWriter,
			w:       c.App.Writer,
		}
		return nil
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(app.ErrWriter, "terminated with error: %s\n", err)
		os.Exit(1)
	}
}
