// Copyright 2024 The axifabric Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fabricerr

import (
	"errors"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrnoMapping(t *testing.T) {
	for _, tc := range []struct {
		err   *Error
		errno unix.Errno
	}{
		{ErrAllocation, unix.ENOMEM},
		{ErrAlreadyOpen, unix.EBUSY},
		{ErrNotOpen, unix.EIO},
		{ErrInterruptUnavailable, unix.EBUSY},
		{ErrInvalidGeometry, unix.EINVAL},
		{ErrResolution, unix.EFAULT},
		{ErrUnresolvedAddress, unix.EINVAL},
		{ErrInvalidCommand, unix.ENOTTY},
		{ErrInterrupted, unix.EINTR},
	} {
		if got := tc.err.Errno(); got != tc.errno {
			t.Errorf("%v: got errno %d, wanted %d", tc.err, got, tc.errno)
		}
	}
}

func TestIdentity(t *testing.T) {
	// Two errors sharing an errno must still be distinguishable.
	if errors.Is(ErrAlreadyOpen, ErrInterruptUnavailable) {
		t.Error("ErrAlreadyOpen and ErrInterruptUnavailable compare equal")
	}
	wrapped := fmt.Errorf("open: %w", ErrAlreadyOpen)
	if !errors.Is(wrapped, ErrAlreadyOpen) {
		t.Error("wrapped ErrAlreadyOpen does not match itself")
	}
}
