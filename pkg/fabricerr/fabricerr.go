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

// Package fabricerr defines the stable error values returned across the
// fabric control surface. Each error carries the errno that the equivalent
// character-device operation would have produced, so callers layered over a
// real device node can compare against unix.Errno values via Errno.
//
// Errors are compared by identity: every failure class has exactly one
// exported *Error value.
package fabricerr

import (
	"golang.org/x/sys/unix"
)

// Error is a stable error with an associated errno.
type Error struct {
	errno   unix.Errno
	message string
}

// New creates a new *Error.
func New(errno unix.Errno, message string) *Error {
	return &Error{
		errno:   errno,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the underlying errno value.
func (e *Error) Errno() unix.Errno { return e.errno }

// Errors returned by the fabric control surface. The errno mapping follows
// the character-device convention: busy resources report EBUSY, operations
// on a closed session report EIO, contract violations report EINVAL, and an
// unknown control command reports ENOTTY.
var (
	// ErrAllocation indicates that a physically contiguous buffer of the
	// requested order could not be reserved. Fatal to device binding.
	ErrAllocation = New(unix.ENOMEM, "cannot reserve contiguous buffer")

	// ErrAlreadyOpen indicates that the single permitted session is already
	// open.
	ErrAlreadyOpen = New(unix.EBUSY, "device already open")

	// ErrNotOpen indicates a data-path operation on a closed session.
	ErrNotOpen = New(unix.EIO, "device not open")

	// ErrInterruptUnavailable indicates that the interrupt line could not be
	// acquired at open time.
	ErrInterruptUnavailable = New(unix.EBUSY, "interrupt line unavailable")

	// ErrInvalidGeometry indicates a mapping request whose size or offset
	// does not match the fixed control-plus-buffer geometry.
	ErrInvalidGeometry = New(unix.EINVAL, "mapping size or offset does not match device geometry")

	// ErrResolution indicates that a consumer address could not be resolved
	// to a backing physical page.
	ErrResolution = New(unix.EFAULT, "cannot resolve and pin user address")

	// ErrUnresolvedAddress indicates an ownership-transfer request for a
	// physical address that was never resolved in this session.
	ErrUnresolvedAddress = New(unix.EINVAL, "physical address was not resolved by this session")

	// ErrInvalidCommand indicates an unrecognized control command.
	ErrInvalidCommand = New(unix.ENOTTY, "unrecognized control command")

	// ErrInterrupted indicates that a blocking wait was cancelled before an
	// event was latched.
	ErrInterrupted = New(unix.EINTR, "wait interrupted")
)
