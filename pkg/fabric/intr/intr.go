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

// Package intr provides access to the fabric's interrupt lines.
//
// A Controller hands out exclusive ownership of a line. The handler passed
// to Acquire runs on the controller's delivery goroutine and must only do
// minimal work (an atomic flag set and a wake), never block.
package intr

// Handler is invoked once per delivered interrupt.
type Handler func()

// Line is an acquired interrupt line.
type Line interface {
	// Release returns the line to the controller. After Release returns,
	// the handler will not be invoked again.
	Release()
}

// Controller hands out exclusive access to interrupt lines.
type Controller interface {
	// Acquire claims the given line and arranges for handler to run on
	// every interrupt. Returns fabricerr.ErrInterruptUnavailable if the
	// line is already claimed or cannot be attached.
	Acquire(line int, handler Handler) (Line, error)
}
