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
	"fmt"

	"github.com/opensdr/axifabric/pkg/fabric/platform"
)

// Op is a control command, the discrete-command equivalent of the device's
// ioctl numbers.
type Op uint32

const (
	// OpGetPage resolves and pins the page backing Descriptor.Addr,
	// performs the initial release-to-device for Descriptor.Dir, and fills
	// in Descriptor.PhysAddr.
	OpGetPage Op = 0x30 + iota

	// OpGivePage releases ownership of the page at Descriptor.PhysAddr to
	// the device.
	OpGivePage

	// OpTakePage reclaims ownership of the page at Descriptor.PhysAddr for
	// the host.
	OpTakePage
)

// String implements fmt.Stringer.
func (op Op) String() string {
	switch op {
	case OpGetPage:
		return "GetPage"
	case OpGivePage:
		return "GivePage"
	case OpTakePage:
		return "TakePage"
	default:
		return fmt.Sprintf("op(%#x)", uint32(op))
	}
}

// Descriptor describes one ownership-transfer request. It exists only for
// the duration of one control call; nothing retains it.
type Descriptor struct {
	// Addr is the consumer-space address of the transfer, within the
	// device's exported mapping.
	Addr uintptr

	// Size is the transfer size in bytes. Must fit within the page
	// containing Addr.
	Size uint64

	// Dir is the transfer direction.
	Dir platform.Direction

	// PhysAddr is the device-visible address of the resolved page. Output
	// of OpGetPage; input of OpGivePage and OpTakePage. Only valid after a
	// successful OpGetPage.
	PhysAddr platform.PhysAddr
}
