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
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/log"
	"github.com/opensdr/axifabric/pkg/sync"
)

// UIOController delivers interrupts from the kernel UIO framework. Line n is
// /dev/uio<n>: a blocking 4-byte read returns the interrupt count when the
// line fires, and writing 1 re-enables the line for drivers that mask on
// delivery.
type UIOController struct{}

type uioLine struct {
	f    *os.File
	done sync.WaitGroup
}

// Acquire implements Controller.Acquire.
func (UIOController) Acquire(line int, handler Handler) (Line, error) {
	path := fmt.Sprintf("/dev/uio%d", line)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fabricerr.ErrInterruptUnavailable, err)
	}

	ul := &uioLine{f: f}
	ul.done.Add(1)
	go ul.deliver(handler)
	log.Infof("intr: acquired %s", path)
	return ul, nil
}

// deliver reads interrupt counts until the fd is closed. Errors other than
// close are rate limited: a wedged line must not flood the log.
func (ul *uioLine) deliver(handler Handler) {
	defer ul.done.Done()
	errLog := log.BasicRateLimitedLogger(time.Second)

	var buf [4]byte
	for {
		if _, err := ul.f.Read(buf[:]); err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			errLog.Warningf("intr: reading %s: %v", ul.f.Name(), err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		// The kernel reports a cumulative count; missed deliveries collapse
		// into one handler call, the latch coalesces anyway.
		handler()

		// Re-enable the line.
		binary.LittleEndian.PutUint32(buf[:], 1)
		if _, err := ul.f.Write(buf[:]); err != nil {
			if errors.Is(err, os.ErrClosed) {
				return
			}
			errLog.Warningf("intr: re-enabling %s: %v", ul.f.Name(), err)
		}
	}
}

// Release implements Line.Release. Closing the fd unblocks the pending read
// through the runtime poller.
func (ul *uioLine) Release() {
	ul.f.Close()
	ul.done.Wait()
}
