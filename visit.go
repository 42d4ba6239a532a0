// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"fmt"

	"github.com/bpowers/nudb/internal/bulkio"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

// dataScan walks the records of a data file in order.
type dataScan struct {
	f        file.File
	end      int64
	keySize  int
	readSize int
	progress func(done int64)

	// value is called with each value record; key and data are only
	// valid during the call.
	value func(off int64, key, data []byte) error
	// spill is called with the offset and bucket image size of each
	// spill record.
	spill func(off int64, size int) error
}

func (d *dataScan) run() error {
	r := bulkio.NewReader(d.f, format.DatFileHeaderSize, d.end, d.readSize)
	for !r.EOF() {
		off := r.Offset()
		if d.progress != nil {
			d.progress(off)
		}
		p, err := r.Prepare(field.Uint48Size)
		if err != nil {
			return fmt.Errorf("record at %d: %w: %w", off, fault.ErrShortDataRecord, err)
		}
		size := field.Uint48(p)
		if size == 0 {
			p, err = r.Prepare(field.Uint16Size)
			if err != nil {
				return fmt.Errorf("spill at %d: %w: %w", off, fault.ErrShortSpill, err)
			}
			n := int(field.Uint16(p))
			if _, err := r.Prepare(n); err != nil {
				return fmt.Errorf("spill at %d: %w: %w", off, fault.ErrShortSpill, err)
			}
			if d.spill != nil {
				if err := d.spill(off, n); err != nil {
					return err
				}
			}
			continue
		}
		p, err = r.Prepare(d.keySize + int(size))
		if err != nil {
			return fmt.Errorf("value at %d: %w: %w", off, fault.ErrShortValue, err)
		}
		if d.value != nil {
			if err := d.value(off, p[:d.keySize], p[d.keySize:]); err != nil {
				return err
			}
		}
	}
	if d.progress != nil {
		d.progress(d.end)
	}
	return nil
}

func openDatFile(o options, datPath string, mode file.Mode) (file.File, format.DatFileHeader, error) {
	df, err := o.fs.Open(mode, datPath)
	if err != nil {
		return nil, format.DatFileHeader{}, err
	}
	dh, err := format.ReadDatFileHeader(df)
	if err == nil {
		err = dh.Verify()
	}
	if err != nil {
		_ = df.Close()
		return nil, dh, err
	}
	return df, dh, nil
}

// Visit calls fn with every key/value pair in a data file, in the order
// they were committed.  The slices are only valid during the call.  The
// key file is not consulted, so Visit also works on a store being rekeyed.
func Visit(datPath string, fn func(key, value []byte) error, opts ...Option) error {
	o := newOptions(opts)
	df, dh, err := openDatFile(o, datPath, file.Read)
	if err != nil {
		return err
	}
	defer func() { _ = df.Close() }()
	size, err := df.Size()
	if err != nil {
		return fmt.Errorf("df.Size: %w", err)
	}

	var buf []byte
	scan := dataScan{
		f:        df,
		end:      size,
		keySize:  dh.KeySize,
		readSize: o.readSize,
		progress: func(done int64) { o.progress(uint64(done), uint64(size)) },
		value: func(_ int64, key, data []byte) error {
			v, err := o.codec.Decompress(buf[:cap(buf)], data)
			if err != nil {
				return fmt.Errorf("%s: %w", o.codec.Name(), err)
			}
			buf = v
			return fn(key, v)
		},
	}
	return scan.run()
}
