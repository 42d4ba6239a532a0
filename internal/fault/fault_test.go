// Copyright 2021 The bit Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClasses(t *testing.T) {
	for _, testcase := range []struct {
		err   error
		class func(error) bool
	}{
		{ErrKeyNotFound, IsErrNotFound},
		{ErrKeyExists, IsErrExists},
		{ErrShortBucket, IsErrShort},
		{ErrInvalidBlockSize, IsErrInvalid},
		{ErrSaltMismatch, IsErrMismatch},
		{ErrOrphanedValue, IsErrCorrupt},
		{ErrLogFileExists, IsErrLifecycle},
	} {
		assert.True(t, testcase.class(testcase.err), testcase.err.Error())
		wrapped := fmt.Errorf("context: %w", testcase.err)
		assert.True(t, testcase.class(wrapped), wrapped.Error())
		assert.True(t, errors.Is(wrapped, testcase.err))
	}

	assert.False(t, IsErrShort(ErrKeyExists))
	assert.False(t, IsErrMismatch(errors.New("salt mismatch")))
}

func TestJoinedKinds(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrShortSpill, ErrShortRead)
	assert.ErrorIs(t, err, ErrShortSpill)
	assert.ErrorIs(t, err, ErrShortRead)
	assert.NotErrorIs(t, err, ErrShortBucket)
}
