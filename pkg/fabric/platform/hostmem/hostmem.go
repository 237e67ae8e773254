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

// Package hostmem implements platform.Memory on top of an anonymous memfd
// arena. "Physical" addresses are stable byte offsets into the arena, which
// makes geometry and ownership behavior fully observable from tests without
// hardware. Cache synchronization calls are recorded rather than performed,
// since the arena is host memory and always coherent.
package hostmem

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/opensdr/axifabric/pkg/fabric/platform"
	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/hostarch"
	"github.com/opensdr/axifabric/pkg/log"
	"github.com/opensdr/axifabric/pkg/memutil"
	"github.com/opensdr/axifabric/pkg/sync"
)

// SyncRecord describes one cache synchronization call.
type SyncRecord struct {
	PA        platform.PhysAddr
	Size      uint64
	Dir       platform.Direction
	ForDevice bool
}

// mapping is one region exported by MapPhysicalRanges.
type mapping struct {
	addr   uintptr
	size   uint64
	ranges []platform.PhysRange
}

// translate resolves a consumer address within the mapping to a physical
// address, or returns false if the address is outside the mapping.
func (m *mapping) translate(addr uintptr) (platform.PhysAddr, bool) {
	if addr < m.addr || addr >= m.addr+uintptr(m.size) {
		return 0, false
	}
	off := uint64(addr - m.addr)
	for _, r := range m.ranges {
		if off < r.Size {
			return r.Base + platform.PhysAddr(off), true
		}
		off -= r.Size
	}
	return 0, false
}

// Memory is a memfd-backed platform.Memory.
type Memory struct {
	fd    int
	arena uint64

	mu sync.Mutex

	// next is the bump-allocation watermark, in arena bytes.
	//
	// +checklocks:mu
	next uint64

	// +checklocks:mu
	buffers map[platform.PhysAddr]*platform.Buffer

	// +checklocks:mu
	mappings map[uintptr]*mapping

	// pins counts outstanding pins per physical page base.
	//
	// +checklocks:mu
	pins map[platform.PhysAddr]uint64

	// +checklocks:mu
	syncs []SyncRecord
}

// New creates an arena of arenaPages pages.
func New(arenaPages uint64) (*Memory, error) {
	size := hostarch.PagesToBytes(arenaPages)
	fd, err := memutil.CreateMemFD("axifabric-arena", size)
	if err != nil {
		return nil, fmt.Errorf("creating arena: %w", err)
	}
	log.Debugf("hostmem: created %d page arena on memfd %d", arenaPages, fd)
	return &Memory{
		fd:       fd,
		arena:    size,
		buffers:  make(map[platform.PhysAddr]*platform.Buffer),
		mappings: make(map[uintptr]*mapping),
		pins:     make(map[platform.PhysAddr]uint64),
	}, nil
}

// Close releases the arena.
func (m *Memory) Close() error {
	return unix.Close(m.fd)
}

// AllocateContiguous implements platform.Memory.AllocateContiguous.
func (m *Memory) AllocateContiguous(pageCountLog2 uint) (*platform.Buffer, error) {
	size := uint64(hostarch.PageSize) << pageCountLog2

	m.mu.Lock()
	defer m.mu.Unlock()

	// Natural alignment: the block base is aligned to the block size, like
	// a buddy allocator would return.
	base := (m.next + size - 1) &^ (size - 1)
	if base+size > m.arena || size > m.arena {
		return nil, fmt.Errorf("%w: order %d exceeds arena", fabricerr.ErrAllocation, pageCountLog2)
	}
	m.next = base + size

	b := &platform.Buffer{Base: platform.PhysAddr(base), PageCountLog2: pageCountLog2}
	m.buffers[b.Base] = b
	log.Debugf("hostmem: allocated %d pages at %v", b.Pages(), b.Base)
	return b, nil
}

// Release implements platform.Memory.Release.
func (m *Memory) Release(b *platform.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buffers[b.Base]; !ok {
		return fmt.Errorf("release of unknown buffer at %v", b.Base)
	}
	delete(m.buffers, b.Base)
	// Reclaim the tail allocation; interior holes stay allocated, which is
	// fine for an allocate-once model.
	if uint64(b.Base)+b.Len() == m.next {
		m.next = uint64(b.Base)
	}
	return nil
}

// MapPhysicalRanges implements platform.Memory.MapPhysicalRanges.
func (m *Memory) MapPhysicalRanges(ranges []platform.PhysRange) ([]byte, error) {
	var total uint64
	for _, r := range ranges {
		if !r.Base.PageAligned() || r.Size == 0 || r.Size%hostarch.PageSize != 0 {
			return nil, fmt.Errorf("%w: range %v+%#x is not page granular", fabricerr.ErrInvalidGeometry, r.Base, r.Size)
		}
		if uint64(r.Base)+r.Size > m.arena {
			return nil, fmt.Errorf("%w: range %v+%#x exceeds arena", fabricerr.ErrInvalidGeometry, r.Base, r.Size)
		}
		total += r.Size
	}

	// Reserve one contiguous region, then place each range over it with
	// MAP_FIXED so the result is a single consumer-visible span.
	reserved, err := memutil.MapFile(0, uintptr(total), unix.PROT_NONE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS, ^uintptr(0), 0)
	if err != nil {
		return nil, fmt.Errorf("reserving %d bytes: %w", total, err)
	}
	va := reserved
	for _, r := range ranges {
		if _, err := memutil.MapFile(va, uintptr(r.Size),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_SHARED|unix.MAP_FIXED,
			uintptr(m.fd), uintptr(r.Base)); err != nil {
			memutil.UnmapSlice(memutil.Slice(reserved, total))
			return nil, fmt.Errorf("mapping range %v+%#x: %w", r.Base, r.Size, err)
		}
		va += uintptr(r.Size)
	}

	mp := &mapping{addr: reserved, size: total, ranges: append([]platform.PhysRange(nil), ranges...)}
	m.mu.Lock()
	m.mappings[reserved] = mp
	m.mu.Unlock()

	return memutil.Slice(reserved, total), nil
}

// Unmap implements platform.Memory.Unmap.
func (m *Memory) Unmap(s []byte) error {
	addr := memutil.SliceAddr(s)
	m.mu.Lock()
	_, ok := m.mappings[addr]
	delete(m.mappings, addr)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unmap of unknown mapping at %#x", addr)
	}
	return memutil.UnmapSlice(s)
}

// PinAndTranslate implements platform.Memory.PinAndTranslate.
func (m *Memory) PinAndTranslate(addr uintptr, size uint64) (platform.PhysAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mp := range m.mappings {
		pa, ok := mp.translate(addr)
		if !ok {
			continue
		}
		pageVA := uintptr(hostarch.Addr(addr).RoundDown())
		if err := unix.Mlock(memutil.Slice(pageVA, hostarch.PageSize)); err != nil {
			return 0, fmt.Errorf("%w: mlock: %v", fabricerr.ErrResolution, err)
		}
		pagePA := platform.PhysAddr(uint64(pa) &^ uint64(hostarch.PageMask))
		m.pins[pagePA]++
		return pa, nil
	}
	return 0, fmt.Errorf("%w: %#x is not an exported address", fabricerr.ErrResolution, addr)
}

// SyncForDevice implements platform.Memory.SyncForDevice. The arena is
// always coherent, so the call is recorded for inspection only.
func (m *Memory) SyncForDevice(pa platform.PhysAddr, size uint64, dir platform.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, SyncRecord{PA: pa, Size: size, Dir: dir, ForDevice: true})
	return nil
}

// SyncForCPU implements platform.Memory.SyncForCPU.
func (m *Memory) SyncForCPU(pa platform.PhysAddr, size uint64, dir platform.Direction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncs = append(m.syncs, SyncRecord{PA: pa, Size: size, Dir: dir, ForDevice: false})
	return nil
}

// SyncLog returns a copy of all recorded synchronization calls, in order.
func (m *Memory) SyncLog() []SyncRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SyncRecord(nil), m.syncs...)
}

// PinCount returns the number of outstanding pins of the page containing pa.
func (m *Memory) PinCount(pa platform.PhysAddr) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pins[platform.PhysAddr(uint64(pa)&^uint64(hostarch.PageMask))]
}
