// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"errors"
	"fmt"

	"github.com/bpowers/nudb/internal/bucket"
	"github.com/bpowers/nudb/internal/bulkio"
	"github.com/bpowers/nudb/internal/fault"
	"github.com/bpowers/nudb/internal/field"
	"github.com/bpowers/nudb/internal/file"
	"github.com/bpowers/nudb/internal/format"
)

// closers closes a set of files once, joining their errors.
type closers []file.File

func (c *closers) add(f file.File) {
	*c = append(*c, f)
}

func (c *closers) close() error {
	var errs []error
	for _, f := range *c {
		errs = append(errs, f.Close())
	}
	*c = nil
	return errors.Join(errs...)
}

// logPending reports whether a non-empty log file is present at path.  A
// zero-length log is left by a store that was dropped without Close and
// records nothing to undo.
func logPending(fsys file.FS, path string) (bool, error) {
	if ok, err := fsys.Exists(path); err != nil || !ok {
		return false, err
	}
	f, err := fsys.Open(file.Read, path)
	if err != nil {
		return false, err
	}
	defer func() { _ = f.Close() }()
	size, err := f.Size()
	if err != nil {
		return false, err
	}
	return size > 0, nil
}

// Recover undoes an interrupted commit or rekey using the log file, then
// removes the log.  A store without a log file is left untouched.
func Recover(datPath, keyPath, logPath string, opts ...Option) (err error) {
	o := newOptions(opts)
	logger := o.logger

	if ok, err := o.fs.Exists(logPath); err != nil {
		return err
	} else if !ok {
		return nil
	}

	var files closers
	defer func() {
		if cerr := files.close(); err == nil {
			err = cerr
		}
	}()

	lf, err := o.fs.Open(file.Write, logPath)
	if err != nil {
		return err
	}
	files.add(lf)
	lh, err := format.ReadLogFileHeader(lf)
	if fault.IsErrShort(err) {
		// the crash happened before anything was logged
		logger.Info("recover: erasing incomplete log", "log", logPath)
		if err := files.close(); err != nil {
			return err
		}
		return o.fs.Erase(logPath)
	} else if err != nil {
		return err
	}

	df, err := o.fs.Open(file.Write, datPath)
	if err != nil {
		return err
	}
	files.add(df)
	dh, err := format.ReadDatFileHeader(df)
	if err != nil {
		return err
	}
	if err := dh.Verify(); err != nil {
		return err
	}
	if err := format.VerifyDatLog(&dh, &lh); err != nil {
		return err
	}

	if lh.KeyFileSize == 0 {
		return recoverRekey(o, &files, df, lf, &lh, keyPath, logPath)
	}

	if ok, err := o.fs.Exists(keyPath); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %s", fault.ErrNoKeyFile, keyPath)
	}
	kf, err := o.fs.Open(file.Write, keyPath)
	if err != nil {
		return err
	}
	files.add(kf)
	kh, err := format.PeekKeyFileHeader(kf)
	if err != nil {
		return err
	}
	if err := kh.Verify(format.Pepper(o.hasher(kh.Salt).Hash, kh.Salt)); err != nil {
		return err
	}
	if err := format.VerifyDatKey(&dh, &kh); err != nil {
		return err
	}
	if err := format.VerifyKeyLog(&kh, &lh); err != nil {
		return err
	}
	bs := int64(kh.BlockSize)
	if lh.KeyFileSize < 2*bs || lh.KeyFileSize%bs != 0 {
		return fmt.Errorf("%w: key file size %d", fault.ErrInvalidLogOffset, lh.KeyFileSize)
	}
	buckets := uint64(lh.KeyFileSize/bs) - 1

	logSize, err := lf.Size()
	if err != nil {
		return fmt.Errorf("lf.Size: %w", err)
	}
	r := bulkio.NewReader(lf, format.LogFileHeaderSize, logSize, o.readSize)
	b := bucket.Alloc(kh.BlockSize)
	img := make([]byte, kh.BucketSize)
	records := 0
	for !r.EOF() {
		o.progress(uint64(r.Offset()), uint64(logSize))
		n, done, err := readLogRecord(r, img, &kh, &lh, buckets)
		if err != nil {
			return err
		} else if done {
			break
		}
		if err := b.Decode(img); err != nil {
			return fmt.Errorf("%w: %w", fault.ErrInvalidLogRecord, err)
		}
		if err := b.WriteKeyFile(kf, n); err != nil {
			return err
		}
		records++
	}
	o.progress(uint64(logSize), uint64(logSize))

	if err := kf.Truncate(lh.KeyFileSize); err != nil {
		return fmt.Errorf("kf.Truncate: %w", err)
	}
	if err := df.Truncate(lh.DatFileSize); err != nil {
		return fmt.Errorf("df.Truncate: %w", err)
	}
	if err := kf.Sync(); err != nil {
		return fmt.Errorf("kf.Sync: %w", err)
	}
	if err := df.Sync(); err != nil {
		return fmt.Errorf("df.Sync: %w", err)
	}
	if err := lf.Truncate(0); err != nil {
		return fmt.Errorf("lf.Truncate: %w", err)
	}
	if err := lf.Sync(); err != nil {
		return fmt.Errorf("lf.Sync: %w", err)
	}
	if err := files.close(); err != nil {
		return err
	}
	logger.Info("recovered store",
		"dat", datPath,
		"key", keyPath,
		"buckets_restored", records,
		"key_file_size", lh.KeyFileSize,
		"dat_file_size", lh.DatFileSize)
	return o.fs.Erase(logPath)
}

// readLogRecord reads the next (index, bucket) record into img.  A record
// cut short by the crash ends the log: done is true and err is nil.
func readLogRecord(r *bulkio.Reader, img []byte, kh *format.KeyFileHeader, lh *format.LogFileHeader, buckets uint64) (n uint64, done bool, err error) {
	short := func(err error) (uint64, bool, error) {
		if fault.IsErrShort(err) {
			return 0, true, nil
		}
		return 0, false, err
	}
	p, err := r.Prepare(format.LogRecordHeaderSize)
	if err != nil {
		return short(err)
	}
	n = field.Uint64(p)
	p, err = r.Prepare(format.BucketHeaderSize)
	if err != nil {
		return short(err)
	}
	copy(img, p)
	count := int(field.Uint16(p))
	spill := field.Uint48(p[field.Uint16Size:])
	if count > kh.Capacity {
		return 0, false, fmt.Errorf("%w: bucket %d has %d entries", fault.ErrInvalidLogRecord, n, count)
	}
	if n >= buckets {
		return 0, false, fmt.Errorf("%w: bucket %d of %d", fault.ErrInvalidLogIndex, n, buckets)
	}
	if spill != 0 && int64(spill) >= lh.DatFileSize {
		return 0, false, fmt.Errorf("%w: bucket %d spills to %d, data file size %d", fault.ErrInvalidLogSpill, n, spill, lh.DatFileSize)
	}
	p, err = r.Prepare(count * format.EntrySize)
	if err != nil {
		return short(err)
	}
	copy(img[format.BucketHeaderSize:], p)
	return n, false, nil
}

// recoverRekey rolls back an interrupted Rekey: the partial key file is
// removed and any spills it appended to the data file are cut off.
func recoverRekey(o options, files *closers, df, lf file.File, lh *format.LogFileHeader, keyPath, logPath string) error {
	if err := df.Truncate(lh.DatFileSize); err != nil {
		return fmt.Errorf("df.Truncate: %w", err)
	}
	if err := df.Sync(); err != nil {
		return fmt.Errorf("df.Sync: %w", err)
	}
	if err := lf.Truncate(0); err != nil {
		return fmt.Errorf("lf.Truncate: %w", err)
	}
	if err := lf.Sync(); err != nil {
		return fmt.Errorf("lf.Sync: %w", err)
	}
	if err := files.close(); err != nil {
		return err
	}
	if err := o.fs.Erase(keyPath); err != nil {
		return err
	}
	o.logger.Info("rolled back interrupted rekey", "key", keyPath, "dat_file_size", lh.DatFileSize)
	return o.fs.Erase(logPath)
}
