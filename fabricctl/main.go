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

// Binary fabricctl manages an AXI fabric device from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/opensdr/axifabric/fabricctl/cmd"
	"github.com/opensdr/axifabric/fabricctl/config"
	"github.com/opensdr/axifabric/pkg/log"
)

var (
	configPath = flag.String("config", "/etc/axifabric/device.toml", "path to the device geometry config")
	debug      = flag.Bool("debug", false, "enable debug logging to stderr")
	logJSON    = flag.Bool("log-json", false, "emit logs as JSON records")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(new(cmd.Info), "")
	subcommands.Register(new(cmd.Watch), "")

	flag.Parse()

	if *logJSON {
		log.SetTarget(log.JSONEmitter{Writer: &log.Writer{Next: os.Stderr}})
	}
	if *debug {
		log.SetLevel(log.Debug)
	}

	conf, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(128)
	}

	os.Exit(int(subcommands.Execute(context.Background(), conf)))
}
