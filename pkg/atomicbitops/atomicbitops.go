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

// Package atomicbitops provides small atomic value types.
//
// The types wrap sync/atomic so that the zero value is directly usable and
// non-atomic access to the underlying value is impossible without unsafe.
package atomicbitops

import "sync/atomic"

// Uint32 is an atomic uint32.
type Uint32 struct {
	value uint32
}

// FromUint32 returns a Uint32 initialized to value val.
//
//go:nosplit
func FromUint32(val uint32) Uint32 {
	return Uint32{value: val}
}

// Load is analogous to atomic.LoadUint32.
//
//go:nosplit
func (u *Uint32) Load() uint32 {
	return atomic.LoadUint32(&u.value)
}

// Store is analogous to atomic.StoreUint32.
//
//go:nosplit
func (u *Uint32) Store(val uint32) {
	atomic.StoreUint32(&u.value, val)
}

// Swap is analogous to atomic.SwapUint32.
//
//go:nosplit
func (u *Uint32) Swap(val uint32) uint32 {
	return atomic.SwapUint32(&u.value, val)
}

// CompareAndSwap is analogous to atomic.CompareAndSwapUint32.
//
//go:nosplit
func (u *Uint32) CompareAndSwap(old, val uint32) bool {
	return atomic.CompareAndSwapUint32(&u.value, old, val)
}

// Add is analogous to atomic.AddUint32.
//
//go:nosplit
func (u *Uint32) Add(val uint32) uint32 {
	return atomic.AddUint32(&u.value, val)
}

// Bool is an atomic Boolean.
//
// It is implemented by a Uint32, with value 0 indicating false, and 1
// indicating true.
type Bool struct {
	Uint32
}

// FromBool returns a Bool initialized to value val.
//
//go:nosplit
func FromBool(val bool) Bool {
	var u uint32
	if val {
		u = 1
	}
	return Bool{Uint32{value: u}}
}

// Load is analogous to atomic.LoadBool, if such a thing existed.
//
//go:nosplit
func (b *Bool) Load() bool {
	return atomic.LoadUint32(&b.value) == 1
}

// Store is analogous to atomic.StoreBool, if such a thing existed.
//
//go:nosplit
func (b *Bool) Store(val bool) {
	var u uint32
	if val {
		u = 1
	}
	atomic.StoreUint32(&b.value, u)
}

// Swap is analogous to atomic.SwapBool, if such a thing existed.
//
//go:nosplit
func (b *Bool) Swap(val bool) bool {
	var u uint32
	if val {
		u = 1
	}
	return atomic.SwapUint32(&b.value, u) == 1
}
