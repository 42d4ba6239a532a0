// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

// Package fault holds the error kinds reported by the store.
//
// Each kind is a single comparable value so callers can use errors.Is, and
// belongs to exactly one class so callers can ask what sort of failure
// occurred without enumerating kinds.
package fault

import "errors"

type (
	NotFoundError  string
	ExistsError    string
	ShortError     string
	InvalidError   string
	MismatchError  string
	CorruptError   string
	LifecycleError string
)

func (e NotFoundError) Error() string  { return string(e) }
func (e ExistsError) Error() string    { return string(e) }
func (e ShortError) Error() string     { return string(e) }
func (e InvalidError) Error() string   { return string(e) }
func (e MismatchError) Error() string  { return string(e) }
func (e CorruptError) Error() string   { return string(e) }
func (e LifecycleError) Error() string { return string(e) }

// keep each group in alphabetic order
var (
	ErrKeyNotFound = NotFoundError("key not found")

	ErrAlreadyExists = ExistsError("file already exists")
	ErrKeyExists     = ExistsError("key exists")

	ErrIncompleteDataFileHeader = ShortError("incomplete data file header")
	ErrIncompleteKeyFileHeader  = ShortError("incomplete key file header")
	ErrShortBucket              = ShortError("short bucket")
	ErrShortDataRecord          = ShortError("short data record")
	ErrShortKeyFile             = ShortError("short key file")
	ErrShortRead                = ShortError("short read")
	ErrShortSpill               = ShortError("short spill")
	ErrShortValue               = ShortError("short value")

	ErrDifferentVersion   = InvalidError("different version")
	ErrInvalidBlockSize   = InvalidError("invalid block size")
	ErrInvalidBucketCount = InvalidError("invalid bucket count")
	ErrInvalidBucketSize  = InvalidError("invalid bucket size")
	ErrInvalidCapacity    = InvalidError("invalid capacity")
	ErrInvalidKeySize     = InvalidError("invalid key size")
	ErrInvalidLoadFactor  = InvalidError("invalid load factor")
	ErrInvalidLogIndex    = InvalidError("invalid log index")
	ErrInvalidLogOffset   = InvalidError("invalid log offset")
	ErrInvalidLogRecord   = InvalidError("invalid log record")
	ErrInvalidLogSpill    = InvalidError("invalid log spill")
	ErrInvalidSpillSize   = InvalidError("invalid spill size")
	ErrInvalidValueSize   = InvalidError("invalid value size")
	ErrNotDataFile        = InvalidError("not a data file")
	ErrNotKeyFile         = InvalidError("not a key file")
	ErrNotLogFile         = InvalidError("not a log file")
	ErrTooManyBuckets     = InvalidError("too many buckets")

	ErrAppnumMismatch    = MismatchError("appnum mismatch")
	ErrBlockSizeMismatch = MismatchError("block size mismatch")
	ErrKeySizeMismatch   = MismatchError("key size mismatch")
	ErrPepperMismatch    = MismatchError("pepper mismatch")
	ErrSaltMismatch      = MismatchError("salt mismatch")
	ErrSizeMismatch      = MismatchError("size mismatch")
	ErrUIDMismatch       = MismatchError("uid mismatch")

	ErrDuplicateValue = CorruptError("duplicate value")
	ErrHashMismatch   = CorruptError("hash mismatch")
	ErrMissingValue   = CorruptError("missing value")
	ErrOrphanedValue  = CorruptError("orphaned value")

	ErrLocked        = LifecycleError("key file is locked by another process")
	ErrLogFileExists = LifecycleError("log file exists")
	ErrNoKeyFile     = LifecycleError("no key file")
	ErrStoreClosed   = LifecycleError("store closed")
)

// determine the class of an error, looking through any wrapping
func IsErrNotFound(err error) bool  { var e NotFoundError; return errors.As(err, &e) }
func IsErrExists(err error) bool    { var e ExistsError; return errors.As(err, &e) }
func IsErrShort(err error) bool     { var e ShortError; return errors.As(err, &e) }
func IsErrInvalid(err error) bool   { var e InvalidError; return errors.As(err, &e) }
func IsErrMismatch(err error) bool  { var e MismatchError; return errors.As(err, &e) }
func IsErrCorrupt(err error) bool   { var e CorruptError; return errors.As(err, &e) }
func IsErrLifecycle(err error) bool { var e LifecycleError; return errors.As(err, &e) }
