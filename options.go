// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"io"
	"log/slog"
	"time"

	"github.com/bpowers/nudb/internal/file"
)

const (
	defaultArenaAllocSize = 4 * 1024 * 1024
	defaultCommitInterval = time.Second
	defaultCommitLimit    = 1024 * 1024 * 1024
	defaultBulkWriteSize  = 16 * 1024 * 1024
	defaultReadSize       = 16 * 1024 * 1024
)

// Progress is called periodically by long running operations with the
// amount of work done so far out of total.
type Progress func(done, total uint64)

// Option configures Create, Open, Recover, Rekey, Verify and Visit.
// Options that don't apply to an operation are ignored.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	fs             file.FS
	hasher         HasherFunc
	codec          Codec
	arenaAllocSize int
	commitInterval time.Duration
	commitLimit    int
	bulkWriteSize  int
	readSize       int
	progress       Progress
}

func newOptions(opts []Option) options {
	o := options{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		fs:             file.OS{},
		hasher:         FarmHasher,
		codec:          IdentityCodec{},
		arenaAllocSize: defaultArenaAllocSize,
		commitInterval: defaultCommitInterval,
		commitLimit:    defaultCommitLimit,
		bulkWriteSize:  defaultBulkWriteSize,
		readSize:       defaultReadSize,
		progress:       func(done, total uint64) {},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets an optional logger for commits, recovery and rekeying.
// If not provided, no logging output will be produced.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithFS replaces the operating system file system, mostly for tests.
func WithFS(fs file.FS) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithHasher sets the hash function.  Every operation on a store must use
// the same one; a different function is detected at open time as a pepper
// mismatch.
func WithHasher(h HasherFunc) Option {
	return func(o *options) {
		o.hasher = h
	}
}

// WithCodec sets how values are encoded in the data file.  The codec is
// not recorded in the files, so a store must always be opened with the
// codec it was written with.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithArenaAllocSize sets the initial block size of the insert pools and
// bucket caches.
func WithArenaAllocSize(n int) Option {
	return func(o *options) {
		o.arenaAllocSize = n
	}
}

// WithCommitInterval sets how often the background committer wakes up.
// Zero or less turns the background committer off: inserts accumulate
// until Commit or Close is called.
func WithCommitInterval(d time.Duration) Option {
	return func(o *options) {
		o.commitInterval = d
	}
}

// WithCommitLimit bounds the bytes of values waiting to be committed;
// Insert blocks while the limit is exceeded.  Zero means no limit.
func WithCommitLimit(n int) Option {
	return func(o *options) {
		o.commitLimit = n
	}
}

// WithBulkWriteSize sets the buffer size for appends to the data and log
// files.
func WithBulkWriteSize(n int) Option {
	return func(o *options) {
		o.bulkWriteSize = n
	}
}

// WithReadSize sets the buffer size for sequential scans of the data and
// log files.
func WithReadSize(n int) Option {
	return func(o *options) {
		o.readSize = n
	}
}

// WithProgress sets a progress callback for Rekey, Verify and Visit.
func WithProgress(p Progress) Option {
	return func(o *options) {
		o.progress = p
	}
}
