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

package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/google/subcommands"

	"github.com/opensdr/axifabric/fabricctl/config"
)

// Info implements subcommands.Command for the "info" command.
type Info struct{}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "print device geometry as JSON"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info - bind the device described by the config and print its
buffer physical address, buffer length and control window length as JSON.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Info) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Info) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	d, cl, err := bind(conf)
	if err != nil {
		Fatalf("%v", err)
	}
	defer cl()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d.Attrs()); err != nil {
		Fatalf("encoding attributes: %v", err)
	}
	return subcommands.ExitSuccess
}
