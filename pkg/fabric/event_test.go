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
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensdr/axifabric/pkg/fabricerr"
)

func TestWaitAfterTrigger(t *testing.T) {
	e := NewEventChannel()
	e.Trigger()

	// A wait that begins after a trigger must return immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait() after Trigger(): %v", err)
	}
}

func TestWaitBeforeTrigger(t *testing.T) {
	e := NewEventChannel()

	errCh := make(chan error)
	go func() {
		errCh <- e.Wait(context.Background())
	}()

	// Best effort: the wait should still be blocked with no trigger.
	select {
	case err := <-errCh:
		t.Fatalf("Wait() returned without a trigger: %v", err)
	case <-time.After(500 * time.Millisecond):
	}

	e.Trigger()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Wait() after Trigger(): %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait() did not return after Trigger()")
	}
}

func TestTriggersCoalesce(t *testing.T) {
	e := NewEventChannel()
	e.Trigger()
	e.Trigger()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("first Wait(): %v", err)
	}

	// The second trigger coalesced into the first: the next wait must block
	// until cancelled.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel2()
	if err := e.Wait(ctx2); !errors.Is(err, fabricerr.ErrInterrupted) {
		t.Fatalf("second Wait(): got %v, wanted ErrInterrupted", err)
	}
}

func TestReadyDoesNotConsume(t *testing.T) {
	e := NewEventChannel()
	if e.Ready() {
		t.Fatal("Ready() on an idle channel: got true")
	}
	e.Trigger()
	for i := 0; i < 10; i++ {
		if !e.Ready() {
			t.Fatalf("Ready() poll %d: got false, wanted true", i)
		}
	}

	// The latch is still set: Wait consumes it.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait(): %v", err)
	}
	if e.Ready() {
		t.Fatal("Ready() after Wait(): got true, wanted false")
	}
}

func TestWaitCancellation(t *testing.T) {
	e := NewEventChannel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Wait(ctx); !errors.Is(err, fabricerr.ErrInterrupted) {
		t.Fatalf("Wait() on cancelled context: got %v, wanted ErrInterrupted", err)
	}
}

func TestNoLostWakeups(t *testing.T) {
	// Ping-pong between a trigger goroutine and a waiter. Every round's
	// wait must observe its round's trigger, under arbitrary scheduling.
	const rounds = 1000
	e := NewEventChannel()
	next := make(chan struct{})

	var g errgroup.Group
	g.Go(func() error {
		for range next {
			e.Trigger()
		}
		return nil
	})
	g.Go(func() error {
		defer close(next)
		for i := 0; i < rounds; i++ {
			next <- struct{}{}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := e.Wait(ctx)
			cancel()
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		t.Fatalf("lost wakeup: %v", err)
	}
}
