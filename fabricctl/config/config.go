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

// Package config holds the on-disk device geometry description consumed by
// fabricctl. The file is TOML; all addresses and sizes are bytes.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/opensdr/axifabric/pkg/fabric"
	"github.com/opensdr/axifabric/pkg/fabric/platform"
	"github.com/opensdr/axifabric/pkg/hostarch"
)

// Carveout describes the reserved physical memory region used by the devmem
// platform for DMA buffer allocation.
type Carveout struct {
	Base uint64 `toml:"base"`
	Size uint64 `toml:"size"`
}

// Config is the parsed device geometry.
type Config struct {
	// Platform selects the memory backend: "devmem" for real hardware via
	// /dev/mem, "hostmem" for an anonymous-memory stand-in.
	Platform string `toml:"platform"`

	// ControlBase and ControlSize locate the register window in physical
	// address space. Both must be page granular.
	ControlBase uint64 `toml:"control_base"`
	ControlSize uint64 `toml:"control_size"`

	// BufferPagesLog2 sets the DMA buffer size to 2^n pages.
	BufferPagesLog2 uint `toml:"buffer_pages_log2"`

	// InterruptLine is the UIO device number (devmem) or virtual line
	// number (hostmem) carrying fabric interrupts.
	InterruptLine int `toml:"interrupt_line"`

	// ArenaPages sizes the hostmem arena. Ignored by devmem.
	ArenaPages uint64 `toml:"arena_pages"`

	// Carveout is required by devmem and ignored by hostmem.
	Carveout Carveout `toml:"carveout"`
}

const maxBufferPagesLog2 = 18

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	conf := &Config{
		Platform:   "devmem",
		ArenaPages: 64,
	}
	md, err := toml.DecodeFile(path, conf)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %q does not exist", path)
		}
		return nil, fmt.Errorf("decoding config %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %q: unknown key %q", path, undecoded[0].String())
	}
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.Platform {
	case "devmem":
		if c.Carveout.Size == 0 {
			return fmt.Errorf("devmem platform requires a [carveout] section")
		}
		if !hostarch.Addr(c.Carveout.Base).IsPageAligned() || c.Carveout.Size%hostarch.PageSize != 0 {
			return fmt.Errorf("carveout %#x+%#x is not page granular", c.Carveout.Base, c.Carveout.Size)
		}
	case "hostmem":
		if c.ArenaPages == 0 {
			return fmt.Errorf("arena_pages must be positive")
		}
	default:
		return fmt.Errorf("unknown platform %q", c.Platform)
	}
	if !hostarch.Addr(c.ControlBase).IsPageAligned() || c.ControlSize == 0 || c.ControlSize%hostarch.PageSize != 0 {
		return fmt.Errorf("control window %#x+%#x is not page granular", c.ControlBase, c.ControlSize)
	}
	if c.BufferPagesLog2 > maxBufferPagesLog2 {
		return fmt.Errorf("buffer_pages_log2 %d exceeds maximum %d", c.BufferPagesLog2, maxBufferPagesLog2)
	}
	if c.InterruptLine < 0 {
		return fmt.Errorf("interrupt_line must be non-negative")
	}
	return nil
}

// Options translates the config into device binding options.
func (c *Config) Options() fabric.Options {
	return fabric.Options{
		ControlBase:         platform.PhysAddr(c.ControlBase),
		ControlSize:         c.ControlSize,
		BufferPageCountLog2: c.BufferPagesLog2,
		InterruptLine:       c.InterruptLine,
	}
}

// CarveoutRange returns the devmem allocation region.
func (c *Config) CarveoutRange() platform.PhysRange {
	return platform.PhysRange{
		Base: platform.PhysAddr(c.Carveout.Base),
		Size: c.Carveout.Size,
	}
}
