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

// Package cmd holds the fabricctl subcommands.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/opensdr/axifabric/pkg/fabric"
	"github.com/opensdr/axifabric/pkg/fabric/intr"
	"github.com/opensdr/axifabric/pkg/fabric/platform"
	"github.com/opensdr/axifabric/pkg/fabric/platform/devmem"
	"github.com/opensdr/axifabric/pkg/fabric/platform/hostmem"
	"github.com/opensdr/axifabric/pkg/log"

	"github.com/opensdr/axifabric/fabricctl/config"
)

// Fatalf logs a critical error and exits. It should only be called by
// subcommand Execute methods, after flag parsing.
func Fatalf(format string, args ...any) {
	log.Warningf(format, args...)
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	// Return an error that is unlikely to be used by the application.
	os.Exit(128)
}

// closer is the teardown accumulated while binding a device.
type closer func()

// bind constructs the configured platform and binds a fabric device to it.
// The returned closer unbinds the device and releases platform resources.
func bind(conf *config.Config) (*fabric.Device, closer, error) {
	var (
		mem  platform.Memory
		irqc intr.Controller
		shut func() error
	)
	switch conf.Platform {
	case "devmem":
		if err := waitForNode("/dev/mem", 10*time.Second); err != nil {
			return nil, nil, err
		}
		m, err := devmem.Open(conf.CarveoutRange())
		if err != nil {
			return nil, nil, fmt.Errorf("opening devmem platform: %w", err)
		}
		mem, shut = m, m.Close
		irqc = intr.UIOController{}
	case "hostmem":
		m, err := hostmem.New(conf.ArenaPages)
		if err != nil {
			return nil, nil, fmt.Errorf("opening hostmem platform: %w", err)
		}
		mem, shut = m, m.Close
		irqc = intr.NewVirtualController()
	default:
		return nil, nil, fmt.Errorf("unknown platform %q", conf.Platform)
	}

	d, err := fabric.Bind(mem, irqc, conf.Options())
	if err != nil {
		shut()
		return nil, nil, fmt.Errorf("binding device: %w", err)
	}
	cl := func() {
		if err := d.Unbind(); err != nil {
			log.Warningf("unbinding device: %v", err)
		}
		if err := shut(); err != nil {
			log.Warningf("closing platform: %v", err)
		}
	}
	return d, cl, nil
}

// waitForNode polls until path exists. Device nodes can appear after we do
// when udev is still settling, so retry with backoff instead of failing the
// first stat.
func waitForNode(path string, limit time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxElapsedTime = limit
	err := backoff.Retry(func() error {
		_, err := os.Stat(path)
		return err
	}, b)
	if err != nil {
		return fmt.Errorf("device node %q did not appear within %v: %w", path, limit, err)
	}
	return nil
}
