// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package field encodes and decodes the fixed-width big-endian integers
// used by every on-disk structure.
package field

import (
	"encoding/binary"
	"fmt"
)

// widths in bytes
const (
	Uint8Size  = 1
	Uint16Size = 2
	Uint24Size = 3
	Uint32Size = 4
	Uint48Size = 6
	Uint64Size = 8
)

// largest values representable in each width
const (
	MaxUint16 = 1<<16 - 1
	MaxUint24 = 1<<24 - 1
	MaxUint32 = 1<<32 - 1
	MaxUint48 = 1<<48 - 1
)

func PutUint8(b []byte, v uint8) {
	b[0] = v
}

func PutUint16(b []byte, v uint16) {
	binary.BigEndian.PutUint16(b, v)
}

func PutUint24(b []byte, v uint32) {
	if v > MaxUint24 {
		panic(fmt.Errorf("field: %d overflows uint24", v))
	}
	_ = b[2]
	b[0] = byte(v >> 16)
	b[1] = byte(v >> 8)
	b[2] = byte(v)
}

func PutUint32(b []byte, v uint32) {
	binary.BigEndian.PutUint32(b, v)
}

func PutUint48(b []byte, v uint64) {
	if v > MaxUint48 {
		panic(fmt.Errorf("field: %d overflows uint48", v))
	}
	_ = b[5]
	b[0] = byte(v >> 40)
	b[1] = byte(v >> 32)
	b[2] = byte(v >> 24)
	b[3] = byte(v >> 16)
	b[4] = byte(v >> 8)
	b[5] = byte(v)
}

func PutUint64(b []byte, v uint64) {
	binary.BigEndian.PutUint64(b, v)
}

func Uint8(b []byte) uint8 {
	return b[0]
}

func Uint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func Uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func Uint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func Uint48(b []byte) uint64 {
	_ = b[5]
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func Uint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
