// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package nudb is an embedded, append-only key/value store for fixed size
// keys.
//
// A store is three files.  The data file holds every value ever inserted,
// in insertion order.  The key file is an on-disk linear hash table
// mapping keys to data file offsets; buckets that overflow chain into
// spill records appended to the data file.  The log file exists while a
// store is open and holds the pre-images of the buckets a commit is about
// to overwrite, so an interrupted commit can be rolled back by Recover.
//
// Inserts are buffered in memory and committed in batches by a background
// goroutine.  Fetches never wait for a commit to finish writing.  There is
// no update or delete.
package nudb
