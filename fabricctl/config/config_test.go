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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/opensdr/axifabric/pkg/fabric"
	"github.com/opensdr/axifabric/pkg/fabric/platform"
)

func write(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDevmem(t *testing.T) {
	path := write(t, `
platform = "devmem"
control_base = 0x4000_0000
control_size = 0x1000
buffer_pages_log2 = 3
interrupt_line = 1

[carveout]
base = 0x3000_0000
size = 0x10_0000
`)
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}
	wantOpts := fabric.Options{
		ControlBase:         0x40000000,
		ControlSize:         0x1000,
		BufferPageCountLog2: 3,
		InterruptLine:       1,
	}
	if diff := cmp.Diff(wantOpts, conf.Options()); diff != "" {
		t.Errorf("Options() mismatch (-want +got):\n%s", diff)
	}
	wantCarveout := platform.PhysRange{Base: 0x30000000, Size: 0x100000}
	if diff := cmp.Diff(wantCarveout, conf.CarveoutRange()); diff != "" {
		t.Errorf("CarveoutRange() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadHostmemDefaults(t *testing.T) {
	path := write(t, `
platform = "hostmem"
control_base = 0x1000
control_size = 0x1000
`)
	conf, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q): %v", path, err)
	}
	if conf.ArenaPages != 64 {
		t.Errorf("ArenaPages = %d, want default 64", conf.ArenaPages)
	}
	if conf.BufferPagesLog2 != 0 {
		t.Errorf("BufferPagesLog2 = %d, want 0", conf.BufferPagesLog2)
	}
}

func TestLoadRejects(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
	}{
		{
			name: "unknown platform",
			contents: `
platform = "pcie"
control_base = 0x1000
control_size = 0x1000
`,
		},
		{
			name: "misaligned control base",
			contents: `
platform = "hostmem"
control_base = 0x1004
control_size = 0x1000
`,
		},
		{
			name: "zero control size",
			contents: `
platform = "hostmem"
control_base = 0x1000
control_size = 0
`,
		},
		{
			name: "oversized buffer order",
			contents: `
platform = "hostmem"
control_base = 0x1000
control_size = 0x1000
buffer_pages_log2 = 19
`,
		},
		{
			name: "negative interrupt line",
			contents: `
platform = "hostmem"
control_base = 0x1000
control_size = 0x1000
interrupt_line = -1
`,
		},
		{
			name: "devmem without carveout",
			contents: `
platform = "devmem"
control_base = 0x1000
control_size = 0x1000
`,
		},
		{
			name: "unknown key",
			contents: `
platform = "hostmem"
control_base = 0x1000
control_size = 0x1000
buffer_order = 2
`,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(write(t, tc.contents)); err == nil {
				t.Errorf("Load succeeded, want error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Errorf("Load succeeded, want error")
	}
}
