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

package fabric

import (
	"context"

	"github.com/opensdr/axifabric/pkg/atomicbitops"
	"github.com/opensdr/axifabric/pkg/fabricerr"
)

// EventChannel is the edge-latched interrupt event channel. The fabric
// raising an interrupt latches a single bit; a consumer wait consumes the
// latch. Triggers between two consecutive waits coalesce into one
// observable event.
//
// Trigger runs on the interrupt delivery goroutine and only performs an
// atomic store plus a non-blocking wake send; all other logic lives on the
// consumer side.
type EventChannel struct {
	// pending is the latch: 1 if an event occurred since the last Wait
	// consumed one.
	pending atomicbitops.Uint32

	// wake carries at most one token. A buffered token means a trigger
	// happened after some waiter last checked pending, so a wait that
	// begins after a trigger can never sleep through it.
	wake chan struct{}
}

// NewEventChannel returns an idle channel.
func NewEventChannel() *EventChannel {
	return &EventChannel{wake: make(chan struct{}, 1)}
}

// Trigger latches an event and wakes any blocked waiter. Safe to call from
// the interrupt delivery goroutine at any rate.
func (e *EventChannel) Trigger() {
	e.pending.Store(1)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Ready returns whether an event is latched. It never consumes the latch;
// clearing is Wait's exclusive right.
func (e *EventChannel) Ready() bool {
	return e.pending.Load() == 1
}

// Wait blocks until an event is latched, consumes it, and returns nil.
// Returns fabricerr.ErrInterrupted if ctx is cancelled first.
func (e *EventChannel) Wait(ctx context.Context) error {
	for {
		// Consume-then-sleep: if a trigger lands between the swap and the
		// select, its wake token is buffered and the select fires
		// immediately, so no wakeup is ever lost.
		if e.pending.Swap(0) != 0 {
			return nil
		}
		select {
		case <-e.wake:
		case <-ctx.Done():
			return fabricerr.ErrInterrupted
		}
	}
}
