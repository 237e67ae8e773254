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

package intr

import (
	"fmt"

	"github.com/opensdr/axifabric/pkg/atomicbitops"
	"github.com/opensdr/axifabric/pkg/eventfd"
	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/sync"
)

// VirtualController is an eventfd-backed Controller. Lines exist purely in
// software; Trigger plays the role of the hardware raising the line. Used by
// tests and by development setups without fabric hardware.
type VirtualController struct {
	mu sync.Mutex

	// +checklocks:mu
	lines map[int]*virtualLine
}

type virtualLine struct {
	ctl     *VirtualController
	line    int
	efd     eventfd.Eventfd
	stopped atomicbitops.Bool
	done    sync.WaitGroup
}

// NewVirtualController returns a controller with no lines claimed.
func NewVirtualController() *VirtualController {
	return &VirtualController{lines: make(map[int]*virtualLine)}
}

// Acquire implements Controller.Acquire.
func (c *VirtualController) Acquire(line int, handler Handler) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.lines[line]; ok {
		return nil, fmt.Errorf("%w: line %d is claimed", fabricerr.ErrInterruptUnavailable, line)
	}
	efd, err := eventfd.Create()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fabricerr.ErrInterruptUnavailable, err)
	}

	vl := &virtualLine{ctl: c, line: line, efd: efd}
	vl.done.Add(1)
	go vl.deliver(handler)
	c.lines[line] = vl
	return vl, nil
}

// Trigger raises the given line, as the hardware would. Raising an
// unclaimed line is a silent no-op, matching a masked interrupt.
func (c *VirtualController) Trigger(line int) error {
	c.mu.Lock()
	vl, ok := c.lines[line]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return vl.efd.Notify()
}

// deliver pumps eventfd wakeups into the handler.
func (vl *virtualLine) deliver(handler Handler) {
	defer vl.done.Done()
	for {
		if err := vl.efd.Wait(); err != nil {
			return
		}
		if vl.stopped.Load() {
			return
		}
		handler()
	}
}

// Release implements Line.Release.
func (vl *virtualLine) Release() {
	vl.stopped.Store(true)
	vl.efd.Notify() // wake the delivery goroutine so it observes stopped
	vl.done.Wait()
	vl.efd.Close()

	vl.ctl.mu.Lock()
	delete(vl.ctl.lines, vl.line)
	vl.ctl.mu.Unlock()
}
