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

package hostmem

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/opensdr/axifabric/pkg/fabric/platform"
	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/hostarch"
	"github.com/opensdr/axifabric/pkg/memutil"
)

func newMemory(t *testing.T, arenaPages uint64) *Memory {
	t.Helper()
	m, err := New(arenaPages)
	if err != nil {
		t.Fatalf("New(%d): %v", arenaPages, err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func TestAllocateAlignment(t *testing.T) {
	m := newMemory(t, 256)

	// Skew the watermark so alignment actually has to round up.
	if _, err := m.AllocateContiguous(0); err != nil {
		t.Fatalf("AllocateContiguous(0): %v", err)
	}

	for _, log2 := range []uint{0, 1, 2, 3, 4} {
		b, err := m.AllocateContiguous(log2)
		if err != nil {
			t.Fatalf("AllocateContiguous(%d): %v", log2, err)
		}
		blockSize := uint64(hostarch.PageSize) << log2
		if uint64(b.Base)%blockSize != 0 {
			t.Errorf("order %d: base %v is not aligned to %#x", log2, b.Base, blockSize)
		}
		if got := b.Len(); got != blockSize {
			t.Errorf("order %d: Len() = %#x, wanted %#x", log2, got, blockSize)
		}
	}
}

func TestAllocateExhaustion(t *testing.T) {
	m := newMemory(t, 4)
	if _, err := m.AllocateContiguous(3); !errors.Is(err, fabricerr.ErrAllocation) {
		t.Fatalf("AllocateContiguous(3) on a 4 page arena: got %v, wanted ErrAllocation", err)
	}
	// The failure must not have consumed arena space.
	if _, err := m.AllocateContiguous(2); err != nil {
		t.Fatalf("AllocateContiguous(2) after failed allocation: %v", err)
	}
}

func TestMapPhysicalRangesBacking(t *testing.T) {
	m := newMemory(t, 16)

	ctl, err := m.AllocateContiguous(0)
	if err != nil {
		t.Fatalf("AllocateContiguous(0): %v", err)
	}
	buf, err := m.AllocateContiguous(2)
	if err != nil {
		t.Fatalf("AllocateContiguous(2): %v", err)
	}

	ranges := []platform.PhysRange{ctl.Range(), buf.Range()}
	view, err := m.MapPhysicalRanges(ranges)
	if err != nil {
		t.Fatalf("MapPhysicalRanges(%v): %v", ranges, err)
	}
	defer m.Unmap(view)
	if want := ctl.Len() + buf.Len(); uint64(len(view)) != want {
		t.Fatalf("mapping length %d, wanted %d", len(view), want)
	}

	// A write through the unified view must be visible through an
	// independent mapping of the same physical range.
	view[hostarch.PageSize+5] = 0xa5 // first buffer page, offset 5

	other, err := m.MapPhysicalRanges([]platform.PhysRange{buf.Range()})
	if err != nil {
		t.Fatalf("MapPhysicalRanges(buffer): %v", err)
	}
	defer m.Unmap(other)
	if got := other[5]; got != 0xa5 {
		t.Errorf("buffer byte 5 through second mapping: got %#x, wanted 0xa5", got)
	}
}

func TestPinAndTranslate(t *testing.T) {
	m := newMemory(t, 16)

	buf, err := m.AllocateContiguous(2)
	if err != nil {
		t.Fatalf("AllocateContiguous(2): %v", err)
	}
	view, err := m.MapPhysicalRanges([]platform.PhysRange{buf.Range()})
	if err != nil {
		t.Fatalf("MapPhysicalRanges: %v", err)
	}
	defer m.Unmap(view)

	// Resolve an address in the middle of the second page.
	addr := memutil.SliceAddr(view) + hostarch.PageSize + 42
	pa, err := m.PinAndTranslate(addr, 64)
	if err != nil {
		t.Fatalf("PinAndTranslate(%#x): %v", addr, err)
	}
	want := buf.Page(1) + 42
	if pa != want {
		t.Errorf("PinAndTranslate: got %v, wanted %v", pa, want)
	}
	if got := m.PinCount(pa); got != 1 {
		t.Errorf("PinCount: got %d, wanted 1", got)
	}

	// Re-pinning is idempotent on the translation.
	pa2, err := m.PinAndTranslate(addr, 64)
	if err != nil {
		t.Fatalf("second PinAndTranslate(%#x): %v", addr, err)
	}
	if pa2 != pa {
		t.Errorf("re-resolution moved: got %v, wanted %v", pa2, pa)
	}
}

func TestPinUnmappedAddress(t *testing.T) {
	m := newMemory(t, 4)
	if _, err := m.PinAndTranslate(0xdead000, 8); !errors.Is(err, fabricerr.ErrResolution) {
		t.Fatalf("PinAndTranslate of a foreign address: got %v, wanted ErrResolution", err)
	}
}

func TestSyncLog(t *testing.T) {
	m := newMemory(t, 4)

	if err := m.SyncForDevice(0x1000, 64, platform.ToDevice); err != nil {
		t.Fatalf("SyncForDevice: %v", err)
	}
	if err := m.SyncForCPU(0x1000, 64, platform.ToDevice); err != nil {
		t.Fatalf("SyncForCPU: %v", err)
	}

	want := []SyncRecord{
		{PA: 0x1000, Size: 64, Dir: platform.ToDevice, ForDevice: true},
		{PA: 0x1000, Size: 64, Dir: platform.ToDevice, ForDevice: false},
	}
	if diff := cmp.Diff(want, m.SyncLog()); diff != "" {
		t.Errorf("SyncLog mismatch (-want +got):\n%s", diff)
	}
}
