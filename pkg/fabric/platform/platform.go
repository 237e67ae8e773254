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

// Package platform defines the host memory capability surface that the
// fabric layer is built on: contiguous allocation, user-page pinning and
// translation, physical-range mapping, and cache ownership synchronization.
//
// Implementations differ per target (a /dev/mem backed implementation for
// real hardware, a memfd backed one for tests), but must preserve the
// ordering contract documented on SyncForDevice and SyncForCPU.
package platform

import (
	"fmt"

	"github.com/opensdr/axifabric/pkg/hostarch"
)

// PhysAddr is a device-visible physical address.
type PhysAddr uint64

// String implements fmt.Stringer.
func (pa PhysAddr) String() string {
	return fmt.Sprintf("%#x", uint64(pa))
}

// PageAligned returns true if pa is page-aligned.
func (pa PhysAddr) PageAligned() bool {
	return pa&hostarch.PageMask == 0
}

// PhysRange is a contiguous range of physical address space.
type PhysRange struct {
	Base PhysAddr
	Size uint64
}

// Contains returns true if pa falls within r.
func (r PhysRange) Contains(pa PhysAddr) bool {
	return pa >= r.Base && pa < r.Base+PhysAddr(r.Size)
}

// Direction is the direction of a device transfer, from the host's point of
// view.
type Direction int

const (
	// ToDevice indicates that the device reads memory the host wrote.
	ToDevice Direction = iota

	// FromDevice indicates that the device writes memory the host reads.
	FromDevice
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case ToDevice:
		return "to-device"
	case FromDevice:
		return "from-device"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Buffer is a physically contiguous, page-aligned allocation. Its size is
// always a power-of-two number of pages. The pages backing a Buffer are
// independently trackable: each may be pinned and handed to the device on
// its own.
type Buffer struct {
	// Base is the physical address of the first page. Page-aligned.
	Base PhysAddr

	// PageCountLog2 is the binary log of the page count.
	PageCountLog2 uint
}

// Pages returns the number of pages in the buffer.
func (b *Buffer) Pages() uint64 {
	return 1 << b.PageCountLog2
}

// Len returns the buffer size in bytes.
func (b *Buffer) Len() uint64 {
	return hostarch.PagesToBytes(b.Pages())
}

// Page returns the physical address of the i'th page.
func (b *Buffer) Page(i uint64) PhysAddr {
	return b.Base + PhysAddr(hostarch.PagesToBytes(i))
}

// Range returns the buffer's physical range.
func (b *Buffer) Range() PhysRange {
	return PhysRange{Base: b.Base, Size: b.Len()}
}

// Memory is the platform memory capability used by the fabric layer.
//
// All methods are safe for concurrent use.
type Memory interface {
	// AllocateContiguous reserves a physically contiguous, page-aligned
	// block of 2^pageCountLog2 pages. The block's physical base is aligned
	// to its own size. Returns fabricerr.ErrAllocation if the platform
	// cannot satisfy the request; this is fatal to device binding and is
	// never retried internally.
	AllocateContiguous(pageCountLog2 uint) (*Buffer, error)

	// Release frees a buffer returned by AllocateContiguous.
	Release(b *Buffer) error

	// PinAndTranslate locates the physical page backing the consumer-space
	// range [addr, addr+size), pins it so it cannot be paged out or moved,
	// and returns its physical address (with addr's page offset applied).
	// Returns fabricerr.ErrResolution if the address is not mapped.
	//
	// Pinning is idempotent: re-pinning an already pinned page recomputes
	// the translation and leaves the page pinned.
	PinAndTranslate(addr uintptr, size uint64) (PhysAddr, error)

	// MapPhysicalRanges maps the given physical ranges back to back into
	// one contiguous consumer-space region with caching disabled, and
	// returns it. Range sizes must be page multiples.
	MapPhysicalRanges(ranges []PhysRange) ([]byte, error)

	// Unmap releases a mapping returned by MapPhysicalRanges.
	Unmap(m []byte) error

	// SyncForDevice passes ownership of [pa, pa+size) to the device.
	// For ToDevice transfers this flushes host-cached writes so the device
	// observes up-to-date data; for FromDevice it discards stale host cache
	// lines so they cannot later be written back over device data. Must be
	// called before the device touches the range.
	SyncForDevice(pa PhysAddr, size uint64, dir Direction) error

	// SyncForCPU reclaims ownership of [pa, pa+size) for the host. For
	// FromDevice transfers this makes device-written data visible to host
	// reads; for ToDevice it refreshes the host's view after the device has
	// consumed the range. Must be called before the host reads results.
	SyncForCPU(pa PhysAddr, size uint64, dir Direction) error
}
