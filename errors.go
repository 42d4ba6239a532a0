// Copyright 2023 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package nudb

import (
	"github.com/bpowers/nudb/internal/fault"
)

// Error classes.  Every error returned by this package that describes a
// condition of the store, rather than an error from the file system,
// wraps one of the sentinels below; match them with errors.Is, or a whole
// class with the IsErr functions.
type (
	NotFoundError  = fault.NotFoundError
	ExistsError    = fault.ExistsError
	ShortError     = fault.ShortError
	InvalidError   = fault.InvalidError
	MismatchError  = fault.MismatchError
	CorruptError   = fault.CorruptError
	LifecycleError = fault.LifecycleError
)

var (
	ErrKeyNotFound = fault.ErrKeyNotFound

	ErrAlreadyExists = fault.ErrAlreadyExists
	ErrKeyExists     = fault.ErrKeyExists

	ErrIncompleteDataFileHeader = fault.ErrIncompleteDataFileHeader
	ErrIncompleteKeyFileHeader  = fault.ErrIncompleteKeyFileHeader
	ErrShortBucket              = fault.ErrShortBucket
	ErrShortDataRecord          = fault.ErrShortDataRecord
	ErrShortKeyFile             = fault.ErrShortKeyFile
	ErrShortRead                = fault.ErrShortRead
	ErrShortSpill               = fault.ErrShortSpill
	ErrShortValue               = fault.ErrShortValue

	ErrDifferentVersion   = fault.ErrDifferentVersion
	ErrInvalidBlockSize   = fault.ErrInvalidBlockSize
	ErrInvalidBucketCount = fault.ErrInvalidBucketCount
	ErrInvalidBucketSize  = fault.ErrInvalidBucketSize
	ErrInvalidCapacity    = fault.ErrInvalidCapacity
	ErrInvalidKeySize     = fault.ErrInvalidKeySize
	ErrInvalidLoadFactor  = fault.ErrInvalidLoadFactor
	ErrInvalidLogIndex    = fault.ErrInvalidLogIndex
	ErrInvalidLogOffset   = fault.ErrInvalidLogOffset
	ErrInvalidLogRecord   = fault.ErrInvalidLogRecord
	ErrInvalidLogSpill    = fault.ErrInvalidLogSpill
	ErrInvalidSpillSize   = fault.ErrInvalidSpillSize
	ErrInvalidValueSize   = fault.ErrInvalidValueSize
	ErrNotDataFile        = fault.ErrNotDataFile
	ErrNotKeyFile         = fault.ErrNotKeyFile
	ErrNotLogFile         = fault.ErrNotLogFile
	ErrTooManyBuckets     = fault.ErrTooManyBuckets

	ErrAppnumMismatch    = fault.ErrAppnumMismatch
	ErrBlockSizeMismatch = fault.ErrBlockSizeMismatch
	ErrKeySizeMismatch   = fault.ErrKeySizeMismatch
	ErrPepperMismatch    = fault.ErrPepperMismatch
	ErrSaltMismatch      = fault.ErrSaltMismatch
	ErrSizeMismatch      = fault.ErrSizeMismatch
	ErrUIDMismatch       = fault.ErrUIDMismatch

	ErrDuplicateValue = fault.ErrDuplicateValue
	ErrHashMismatch   = fault.ErrHashMismatch
	ErrMissingValue   = fault.ErrMissingValue
	ErrOrphanedValue  = fault.ErrOrphanedValue

	ErrLocked        = fault.ErrLocked
	ErrLogFileExists = fault.ErrLogFileExists
	ErrNoKeyFile     = fault.ErrNoKeyFile
	ErrStoreClosed   = fault.ErrStoreClosed
)

var (
	IsErrNotFound  = fault.IsErrNotFound
	IsErrExists    = fault.IsErrExists
	IsErrShort     = fault.IsErrShort
	IsErrInvalid   = fault.IsErrInvalid
	IsErrMismatch  = fault.IsErrMismatch
	IsErrCorrupt   = fault.IsErrCorrupt
	IsErrLifecycle = fault.IsErrLifecycle
)
