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

// Package devmem implements platform.Memory against real physical memory on
// Linux. The register window and DMA buffer are mapped through /dev/mem
// opened with O_SYNC, which yields an uncached view. Contiguous buffers are
// carved out of a physical region reserved for the fabric at boot (device
// tree carveout), matching how the hardware is actually provisioned.
// Translation reads /proc/self/pagemap; pinning uses mlock(2).
//
// Requires CAP_SYS_RAWIO (for /dev/mem) and, since Linux 4.0, CAP_SYS_ADMIN
// to read PFNs from pagemap.
package devmem

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/opensdr/axifabric/pkg/fabric/platform"
	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/hostarch"
	"github.com/opensdr/axifabric/pkg/log"
	"github.com/opensdr/axifabric/pkg/memutil"
	"github.com/opensdr/axifabric/pkg/sync"
)

const (
	devMemPath  = "/dev/mem"
	pagemapPath = "/proc/self/pagemap"

	// pagemap entry layout, Documentation/admin-guide/mm/pagemap.rst.
	pagemapEntrySize = 8
	pagemapPFNMask   = (1 << 55) - 1
	pagemapPresent   = 1 << 63
)

type mapping struct {
	addr   uintptr
	size   uint64
	ranges []platform.PhysRange
}

// span returns the consumer address and length of the part of the mapping
// backed by [pa, pa+size), or false if the range is not in this mapping.
func (m *mapping) span(pa platform.PhysAddr, size uint64) (uintptr, bool) {
	va := m.addr
	for _, r := range m.ranges {
		if r.Contains(pa) && uint64(pa-r.Base)+size <= r.Size {
			return va + uintptr(pa-r.Base), true
		}
		va += uintptr(r.Size)
	}
	return 0, false
}

// Memory is a /dev/mem backed platform.Memory.
type Memory struct {
	mem      *os.File
	pagemap  *os.File
	carveout platform.PhysRange

	mu sync.Mutex

	// next is the carveout allocation watermark, in bytes past the base.
	//
	// +checklocks:mu
	next uint64

	// +checklocks:mu
	mappings map[uintptr]*mapping

	// pins maps the physical page address of each pinned page back to the
	// consumer page address it was resolved from.
	//
	// +checklocks:mu
	pins map[platform.PhysAddr]uintptr
}

// Open opens /dev/mem and pagemap. carveout is the physical region reserved
// for fabric buffers.
func Open(carveout platform.PhysRange) (*Memory, error) {
	if !carveout.Base.PageAligned() || carveout.Size%hostarch.PageSize != 0 {
		return nil, fmt.Errorf("carveout %v+%#x is not page granular", carveout.Base, carveout.Size)
	}
	mem, err := os.OpenFile(devMemPath, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", devMemPath, err)
	}
	pagemap, err := os.Open(pagemapPath)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("opening %s: %w", pagemapPath, err)
	}
	log.Infof("devmem: using carveout %v+%#x", carveout.Base, carveout.Size)
	return &Memory{
		mem:      mem,
		pagemap:  pagemap,
		carveout: carveout,
		mappings: make(map[uintptr]*mapping),
		pins:     make(map[platform.PhysAddr]uintptr),
	}, nil
}

// Close releases the /dev/mem and pagemap handles.
func (m *Memory) Close() error {
	err := m.mem.Close()
	if err2 := m.pagemap.Close(); err == nil {
		err = err2
	}
	return err
}

// AllocateContiguous implements platform.Memory.AllocateContiguous by
// carving a naturally aligned block out of the reserved region.
func (m *Memory) AllocateContiguous(pageCountLog2 uint) (*platform.Buffer, error) {
	size := uint64(hostarch.PageSize) << pageCountLog2

	m.mu.Lock()
	defer m.mu.Unlock()

	base := (uint64(m.carveout.Base) + m.next + size - 1) &^ (size - 1)
	end := base + size - uint64(m.carveout.Base)
	if size > m.carveout.Size || end > m.carveout.Size {
		return nil, fmt.Errorf("%w: order %d exceeds carveout", fabricerr.ErrAllocation, pageCountLog2)
	}
	m.next = end

	return &platform.Buffer{Base: platform.PhysAddr(base), PageCountLog2: pageCountLog2}, nil
}

// Release implements platform.Memory.Release.
func (m *Memory) Release(b *platform.Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if uint64(b.Base)+b.Len()-uint64(m.carveout.Base) == m.next {
		m.next = uint64(b.Base) - uint64(m.carveout.Base)
	}
	return nil
}

// MapPhysicalRanges implements platform.Memory.MapPhysicalRanges. The
// /dev/mem O_SYNC mapping disables caching for the whole view.
func (m *Memory) MapPhysicalRanges(ranges []platform.PhysRange) ([]byte, error) {
	var total uint64
	for _, r := range ranges {
		if !r.Base.PageAligned() || r.Size == 0 || r.Size%hostarch.PageSize != 0 {
			return nil, fmt.Errorf("%w: range %v+%#x is not page granular", fabricerr.ErrInvalidGeometry, r.Base, r.Size)
		}
		total += r.Size
	}

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
			m.mem.Fd(), uintptr(r.Base)); err != nil {
			memutil.UnmapSlice(memutil.Slice(reserved, total))
			return nil, fmt.Errorf("mapping %v+%#x via %s: %w", r.Base, r.Size, devMemPath, err)
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
	pageVA := uintptr(hostarch.Addr(addr).RoundDown())

	// Pin first: mlock faults the page in and keeps it resident, so the
	// pagemap entry below is stable.
	if err := unix.Mlock(memutil.Slice(pageVA, hostarch.PageSize)); err != nil {
		return 0, fmt.Errorf("%w: mlock(%#x): %v", fabricerr.ErrResolution, pageVA, err)
	}

	var entry [pagemapEntrySize]byte
	off := int64(pageVA/hostarch.PageSize) * pagemapEntrySize
	if _, err := m.pagemap.ReadAt(entry[:], off); err != nil {
		return 0, fmt.Errorf("%w: pagemap read at %#x: %v", fabricerr.ErrResolution, off, err)
	}
	e := binary.LittleEndian.Uint64(entry[:])
	if e&pagemapPresent == 0 {
		return 0, fmt.Errorf("%w: page at %#x not present", fabricerr.ErrResolution, pageVA)
	}
	pfn := e & pagemapPFNMask
	if pfn == 0 {
		// PFNs are zeroed for unprivileged readers.
		return 0, fmt.Errorf("%w: pagemap PFN unavailable (need CAP_SYS_ADMIN)", fabricerr.ErrResolution)
	}

	pa := platform.PhysAddr(pfn<<hostarch.PageShift | uint64(hostarch.Addr(addr).PageOffset()))
	m.mu.Lock()
	m.pins[platform.PhysAddr(pfn)<<hostarch.PageShift] = pageVA
	m.mu.Unlock()
	return pa, nil
}

// msyncPhys flushes the mapped view of [pa, pa+size) with msync(2), the
// strongest ordering primitive available to userspace for a shared mapping.
func (m *Memory) msyncPhys(pa platform.PhysAddr, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mp := range m.mappings {
		va, ok := mp.span(pa, size)
		if !ok {
			continue
		}
		start := uintptr(hostarch.Addr(va).RoundDown())
		end, _ := hostarch.Addr(va + uintptr(size)).RoundUp()
		return unix.Msync(memutil.Slice(start, uint64(uintptr(end)-start)), unix.MS_SYNC)
	}
	// Pinned pages live in the consumer's own address space rather than in
	// a device mapping; flush through their pinned page.
	pagePA := platform.PhysAddr(uint64(pa) &^ hostarch.PageMask)
	if va, ok := m.pins[pagePA]; ok {
		return unix.Msync(memutil.Slice(va, hostarch.PageSize), unix.MS_SYNC)
	}
	return fmt.Errorf("%v+%#x is not mapped", pa, size)
}

// SyncForDevice implements platform.Memory.SyncForDevice.
func (m *Memory) SyncForDevice(pa platform.PhysAddr, size uint64, dir platform.Direction) error {
	return m.msyncPhys(pa, size)
}

// SyncForCPU implements platform.Memory.SyncForCPU.
func (m *Memory) SyncForCPU(pa platform.PhysAddr, size uint64, dir platform.Direction) error {
	return m.msyncPhys(pa, size)
}
