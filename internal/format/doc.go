// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package format describes the three files making up a store and the
// headers that tie them together.
//
// A data file is append-only and looks like:
//
//	┌───────────────────┐
//	│ file header (92)  │
//	├───────────────────┤
//	│ value records and │
//	│ spill records,    │
//	│ interleaved       │
//	│                   │
//	└───────────────────┘
//
// A value record is a 48-bit size (never zero), the key and the value.
// A spill record (an overflow bucket) is a 48-bit zero, a 16-bit length
// and the bucket image:
//
//	 0    1    2    3    4    5    6    7
//	+----+----+----+----+----+----+----+----+
//	| size (u48)                  | key...  |
//	+----+----+----+----+----+----+----+----+
//	| ...key      | value...                |
//	+----+----+----+----+----+----+----+----+
//
// A key file is a sequence of equal blocks.  Block 0 holds the key file
// header, block n+1 holds bucket n.  The log file holds the header
// followed by (bucket index, bucket image) records captured before the
// bucket is overwritten.
//
// All integers are big-endian.
package format
