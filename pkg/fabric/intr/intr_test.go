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
	"errors"
	"testing"
	"time"

	"github.com/opensdr/axifabric/pkg/fabricerr"
)

func TestVirtualDelivery(t *testing.T) {
	c := NewVirtualController()

	fired := make(chan struct{}, 16)
	line, err := c.Acquire(3, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("Acquire(3): %v", err)
	}
	defer line.Release()

	if err := c.Trigger(3); err != nil {
		t.Fatalf("Trigger(3): %v", err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not run after Trigger")
	}
}

func TestVirtualExclusive(t *testing.T) {
	c := NewVirtualController()

	line, err := c.Acquire(0, func() {})
	if err != nil {
		t.Fatalf("Acquire(0): %v", err)
	}

	if _, err := c.Acquire(0, func() {}); !errors.Is(err, fabricerr.ErrInterruptUnavailable) {
		t.Fatalf("second Acquire(0): got %v, wanted ErrInterruptUnavailable", err)
	}

	// After release the line can be claimed again.
	line.Release()
	line2, err := c.Acquire(0, func() {})
	if err != nil {
		t.Fatalf("Acquire(0) after Release: %v", err)
	}
	line2.Release()
}

func TestVirtualReleaseStopsDelivery(t *testing.T) {
	c := NewVirtualController()

	fired := make(chan struct{}, 16)
	line, err := c.Acquire(1, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("Acquire(1): %v", err)
	}
	line.Release()

	// A trigger after release must not invoke the handler.
	if err := c.Trigger(1); err != nil {
		t.Fatalf("Trigger(1) after Release: %v", err)
	}
	select {
	case <-fired:
		t.Fatal("handler ran after Release")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTriggerUnclaimedLine(t *testing.T) {
	c := NewVirtualController()
	// Raising a masked line is a no-op, not an error.
	if err := c.Trigger(9); err != nil {
		t.Fatalf("Trigger(9) on unclaimed line: %v", err)
	}
}
