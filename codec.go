// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"fmt"

	"github.com/golang/snappy"
)

// Codec transforms values on their way into and out of the data file.
// Either method may return a slice aliasing src or dst.
type Codec interface {
	Name() string
	Compress(dst, src []byte) ([]byte, error)
	Decompress(dst, src []byte) ([]byte, error)
}

// IdentityCodec stores values as they are.
type IdentityCodec struct{}

var _ Codec = IdentityCodec{}

func (IdentityCodec) Name() string { return "identity" }

func (IdentityCodec) Compress(_, src []byte) ([]byte, error) {
	return src, nil
}

func (IdentityCodec) Decompress(_, src []byte) ([]byte, error) {
	return src, nil
}

// SnappyCodec compresses values with snappy.
type SnappyCodec struct{}

var _ Codec = SnappyCodec{}

func (SnappyCodec) Name() string { return "snappy" }

func (SnappyCodec) Compress(dst, src []byte) ([]byte, error) {
	return snappy.Encode(dst, src), nil
}

func (SnappyCodec) Decompress(dst, src []byte) ([]byte, error) {
	out, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy.Decode: %w", err)
	}
	return out, nil
}

// CodecByName returns the built-in codec called name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", IdentityCodec{}.Name():
		return IdentityCodec{}, nil
	case SnappyCodec{}.Name():
		return SnappyCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}
