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

// Package eventfd wraps Linux's eventfd(2) syscall.
package eventfd

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const sizeofUint64 = 8

// Eventfd represents a Linux eventfd object.
type Eventfd struct {
	fd int
}

// Create returns an initialized eventfd.
func Create() (Eventfd, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return Eventfd{}, fmt.Errorf("failed to create eventfd: %w", err)
	}
	return Eventfd{fd: fd}, nil
}

// Wrap returns an initialized Eventfd using the provided fd.
func Wrap(fd int) Eventfd {
	return Eventfd{fd: fd}
}

// Close closes the eventfd, after which it should not be used.
func (ev Eventfd) Close() error {
	return unix.Close(ev.fd)
}

// Notify alerts other users of the eventfd. Users can receive alerts by
// calling Wait or Read.
func (ev Eventfd) Notify() error {
	return ev.Write(1)
}

// Write writes a specific value to the eventfd.
func (ev Eventfd) Write(val uint64) error {
	var buf [sizeofUint64]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	for {
		n, err := unix.Write(ev.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n != sizeofUint64 {
			panic(fmt.Sprintf("bad write to eventfd: got %d bytes, wanted %d", n, sizeofUint64))
		}
		return nil
	}
}

// Wait blocks until the eventfd is non-zero (i.e. someone calls Notify or
// Write).
func (ev Eventfd) Wait() error {
	_, err := ev.Read()
	return err
}

// Read blocks until the eventfd is non-zero and returns the value read,
// resetting the eventfd to zero.
func (ev Eventfd) Read() (uint64, error) {
	var buf [sizeofUint64]byte
	for {
		n, err := unix.Read(ev.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n != sizeofUint64 {
			panic(fmt.Sprintf("short read from eventfd: got %d bytes, wanted %d", n, sizeofUint64))
		}
		return binary.LittleEndian.Uint64(buf[:]), nil
	}
}

// FD returns the underlying file descriptor. Use with care, as this breaks
// the Eventfd abstraction.
func (ev Eventfd) FD() int {
	return ev.fd
}
