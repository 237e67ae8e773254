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

// Package sync provides synchronization primitives. In-repo code imports
// this package rather than the standard library's sync so that primitives
// can be swapped or instrumented in one place.
package sync

import (
	"sync"
)

// Aliases of standard library types.
type (
	// Mutex is an alias of sync.Mutex.
	Mutex = sync.Mutex

	// RWMutex is an alias of sync.RWMutex.
	RWMutex = sync.RWMutex

	// Cond is an alias of sync.Cond.
	Cond = sync.Cond

	// Locker is an alias of sync.Locker.
	Locker = sync.Locker

	// Once is an alias of sync.Once.
	Once = sync.Once

	// WaitGroup is an alias of sync.WaitGroup.
	WaitGroup = sync.WaitGroup
)

// NewCond is a wrapper around sync.NewCond.
func NewCond(l Locker) *Cond {
	return sync.NewCond(l)
}
