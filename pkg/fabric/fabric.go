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

// Package fabric mediates data transfer between an AXI-attached FPGA fabric
// and a host application. A Device owns a physically contiguous DMA buffer
// and a control-register window, exposes both through one contiguous
// uncached mapping, coordinates cache ownership handoff around transfers,
// and delivers the fabric's completion interrupts as consumable events.
//
// A Device supports exactly one open session at a time. Open acquires the
// interrupt line; Close releases it and cancels any outstanding wait.
package fabric

import (
	"context"
	"fmt"

	"github.com/opensdr/axifabric/pkg/fabric/intr"
	"github.com/opensdr/axifabric/pkg/fabric/platform"
	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/hostarch"
	"github.com/opensdr/axifabric/pkg/log"
	"github.com/opensdr/axifabric/pkg/sync"
)

// maxPageCountLog2 caps the buffer order; 2^18 pages is 1GiB of 4K pages,
// far past what any fabric carveout provides.
const maxPageCountLog2 = 18

// Options carries the pre-validated inputs from the hardware discovery
// layer.
type Options struct {
	// ControlBase and ControlSize describe the AXI control-register
	// window. Both must be page granular.
	ControlBase platform.PhysAddr
	ControlSize uint64

	// BufferPageCountLog2 is the binary log of the DMA buffer's page
	// count.
	BufferPageCountLog2 uint

	// InterruptLine identifies the fabric's completion interrupt.
	InterruptLine int
}

// Attrs is the read-only diagnostic view of a bound device.
type Attrs struct {
	BufferPhysAddr platform.PhysAddr `json:"phys_addr"`
	BufferLength   uint64            `json:"buffer_length"`
	ControlLength  uint64            `json:"control_length"`
}

// resolvedPage records one page handed out by GetPage during the current
// session.
type resolvedPage struct {
	addr uintptr
	size uint64
	dir  platform.Direction
}

// Device is one bound fabric unit.
type Device struct {
	mem  platform.Memory
	irqc intr.Controller
	opts Options

	// buf is allocated once at binding time and lives until Unbind.
	buf *platform.Buffer

	// events outlives sessions; the latch state carries across close/open
	// like the hardware flag it mirrors.
	events *EventChannel

	mu sync.Mutex

	// +checklocks:mu
	open bool

	// +checklocks:mu
	line intr.Line

	// sessionDone is closed when the session closes, cancelling blocked
	// waiters.
	//
	// +checklocks:mu
	sessionDone chan struct{}

	// resolved maps physical addresses handed out by GetPage this session.
	//
	// +checklocks:mu
	resolved map[platform.PhysAddr]*resolvedPage
}

// Bind allocates the DMA buffer and constructs the device. Allocation
// failure is fatal to binding and is not retried.
func Bind(mem platform.Memory, irqc intr.Controller, opts Options) (*Device, error) {
	if opts.ControlSize == 0 || opts.ControlSize%hostarch.PageSize != 0 || !opts.ControlBase.PageAligned() {
		return nil, fmt.Errorf("control window %v+%#x is not page granular", opts.ControlBase, opts.ControlSize)
	}
	if opts.BufferPageCountLog2 > maxPageCountLog2 {
		return nil, fmt.Errorf("buffer order %d exceeds maximum %d", opts.BufferPageCountLog2, maxPageCountLog2)
	}

	buf, err := mem.AllocateContiguous(opts.BufferPageCountLog2)
	if err != nil {
		return nil, fmt.Errorf("binding fabric buffer: %w", err)
	}
	log.Infof("fabric: bound control %v+%#x, buffer %v (%d pages), irq %d",
		opts.ControlBase, opts.ControlSize, buf.Base, buf.Pages(), opts.InterruptLine)

	return &Device{
		mem:    mem,
		irqc:   irqc,
		opts:   opts,
		buf:    buf,
		events: NewEventChannel(),
	}, nil
}

// Unbind releases the DMA buffer. The session must be closed.
func (d *Device) Unbind() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return fabricerr.ErrAlreadyOpen
	}
	return d.mem.Release(d.buf)
}

// Attrs returns the diagnostic attributes. Valid whether or not a session
// is open.
func (d *Device) Attrs() Attrs {
	return Attrs{
		BufferPhysAddr: d.buf.Base,
		BufferLength:   d.buf.Len(),
		ControlLength:  d.opts.ControlSize,
	}
}

// MappingSize returns the exact size a Map request must carry.
func (d *Device) MappingSize() uint64 {
	return d.opts.ControlSize + d.buf.Len()
}

// Open starts the single consumer session, acquiring the interrupt line.
// Fails with ErrAlreadyOpen if a session is open, and with
// ErrInterruptUnavailable (state unchanged) if the line cannot be acquired.
func (d *Device) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return fabricerr.ErrAlreadyOpen
	}
	line, err := d.irqc.Acquire(d.opts.InterruptLine, d.events.Trigger)
	if err != nil {
		return err
	}
	d.line = line
	d.sessionDone = make(chan struct{})
	d.resolved = make(map[platform.PhysAddr]*resolvedPage)
	d.open = true
	log.Infof("fabric: session open, irq %d acquired", d.opts.InterruptLine)
	return nil
}

// Close ends the session, releasing the interrupt line. Any blocked
// WaitEvent returns ErrInterrupted. Fails with ErrNotOpen if no session is
// open.
func (d *Device) Close() error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return fabricerr.ErrNotOpen
	}
	line := d.line
	d.line = nil
	d.open = false
	d.resolved = nil
	close(d.sessionDone)
	d.mu.Unlock()

	// Release outside the lock; it blocks until the delivery goroutine has
	// quiesced.
	line.Release()
	log.Infof("fabric: session closed, irq %d released", d.opts.InterruptLine)
	return nil
}

// session returns the current session's done channel, or ErrNotOpen.
func (d *Device) session() (<-chan struct{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, fabricerr.ErrNotOpen
	}
	return d.sessionDone, nil
}

// WaitEvent blocks until the fabric latches an event, consumes it, and
// returns nil. Returns ErrInterrupted when ctx is cancelled or the session
// closes underneath the wait, and ErrNotOpen if no session is open.
func (d *Device) WaitEvent(ctx context.Context) error {
	done, err := d.session()
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-done:
			cancel()
		case <-stop:
		}
	}()
	return d.events.Wait(wctx)
}

// Readiness reports whether an event is latched, without consuming it. For
// use in a multiplexed wait.
func (d *Device) Readiness() (bool, error) {
	if _, err := d.session(); err != nil {
		return false, err
	}
	return d.events.Ready(), nil
}

// Map exports the unified view: bytes [0, ControlSize) are the control
// window and [ControlSize, ControlSize+BufferLength) are the DMA buffer, in
// page order, with caching disabled. size must equal MappingSize exactly
// and offset must be zero; no partial or offset mappings exist.
func (d *Device) Map(size, offset uint64) ([]byte, error) {
	if _, err := d.session(); err != nil {
		return nil, err
	}
	if offset != 0 {
		return nil, fabricerr.ErrInvalidGeometry
	}
	if expected := d.MappingSize(); size != expected {
		log.Debugf("fabric: mapping size %d, expected size %d", size, expected)
		return nil, fabricerr.ErrInvalidGeometry
	}

	return d.mem.MapPhysicalRanges([]platform.PhysRange{
		{Base: d.opts.ControlBase, Size: d.opts.ControlSize},
		d.buf.Range(),
	})
}

// Unmap releases a mapping returned by Map. The mapping's lifetime belongs
// to the consumer's address space, so this is valid after Close too.
func (d *Device) Unmap(m []byte) error {
	return d.mem.Unmap(m)
}

// GetPage resolves and pins the page backing desc.Addr, performs the
// initial release-to-device for desc.Dir, and fills in desc.PhysAddr.
// Idempotent per address: repeated calls recompute the resolution.
func (d *Device) GetPage(desc *Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fabricerr.ErrNotOpen
	}
	if desc.Size == 0 || hostarch.Addr(desc.Addr).PageOffset()+desc.Size > hostarch.PageSize {
		return fmt.Errorf("%w: transfer %#x+%#x crosses a page boundary",
			fabricerr.ErrResolution, desc.Addr, desc.Size)
	}

	pa, err := d.mem.PinAndTranslate(desc.Addr, desc.Size)
	if err != nil {
		return err
	}
	// Hand the freshly pinned page to the device, the equivalent of mapping
	// it for DMA in the requested direction.
	if err := d.mem.SyncForDevice(pa, desc.Size, desc.Dir); err != nil {
		return err
	}

	d.resolved[pa] = &resolvedPage{addr: desc.Addr, size: desc.Size, dir: desc.Dir}
	desc.PhysAddr = pa
	log.Debugf("fabric: resolved %#x to %v (%v)", desc.Addr, pa, desc.Dir)
	return nil
}

// GivePage releases ownership of the page at desc.PhysAddr to the device.
// The address must have been resolved by GetPage in this session.
func (d *Device) GivePage(desc *Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fabricerr.ErrNotOpen
	}
	if _, ok := d.resolved[desc.PhysAddr]; !ok {
		return fabricerr.ErrUnresolvedAddress
	}
	return d.mem.SyncForDevice(desc.PhysAddr, desc.Size, desc.Dir)
}

// TakePage reclaims ownership of the page at desc.PhysAddr for the host.
// The address must have been resolved by GetPage in this session.
func (d *Device) TakePage(desc *Descriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return fabricerr.ErrNotOpen
	}
	if _, ok := d.resolved[desc.PhysAddr]; !ok {
		return fabricerr.ErrUnresolvedAddress
	}
	return d.mem.SyncForCPU(desc.PhysAddr, desc.Size, desc.Dir)
}

// Control dispatches one discrete control command. Unknown commands fail
// with ErrInvalidCommand.
func (d *Device) Control(op Op, desc *Descriptor) error {
	log.Debugf("fabric: control %v", op)
	switch op {
	case OpGetPage:
		return d.GetPage(desc)
	case OpGivePage:
		return d.GivePage(desc)
	case OpTakePage:
		return d.TakePage(desc)
	default:
		return fabricerr.ErrInvalidCommand
	}
}
