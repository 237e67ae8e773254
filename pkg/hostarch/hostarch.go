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

// Package hostarch contains host architecture parameters: page geometry and
// address alignment helpers.
package hostarch

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// PageShift is the binary log of the system page size.
	PageShift = 12

	// PageSize is the system page size.
	PageSize = 1 << PageShift

	// PageMask masks the in-page offset bits of an address.
	PageMask = PageSize - 1
)

func init() {
	// The fabric geometry math assumes 4K pages throughout.
	if size := unix.Getpagesize(); size != PageSize {
		panic(fmt.Sprintf("unsupported page size %d, only %d is supported", size, PageSize))
	}
}

// Addr represents an address in an address space, either consumer-virtual or
// device-physical.
type Addr uintptr

// RoundDown returns the address rounded down to the nearest page boundary.
func (v Addr) RoundDown() Addr {
	return v &^ PageMask
}

// RoundUp returns the address rounded up to the nearest page boundary. ok is
// false if rounding overflows.
func (v Addr) RoundUp() (addr Addr, ok bool) {
	addr = (v + PageMask).RoundDown()
	return addr, addr >= v
}

// PageOffset returns the offset of v into its containing page.
func (v Addr) PageOffset() uint64 {
	return uint64(v & PageMask)
}

// IsPageAligned returns true if v is page-aligned.
func (v Addr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// PagesToBytes returns the size in bytes of the given number of pages.
func PagesToBytes(pages uint64) uint64 {
	return pages << PageShift
}

// BytesToPages returns the number of pages spanned by size bytes starting at
// a page boundary.
func BytesToPages(size uint64) uint64 {
	return (size + PageMask) >> PageShift
}
