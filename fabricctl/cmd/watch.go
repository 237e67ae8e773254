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
	"errors"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sys/unix"

	"github.com/opensdr/axifabric/fabricctl/config"
	"github.com/opensdr/axifabric/pkg/fabricerr"
	"github.com/opensdr/axifabric/pkg/log"
)

// Watch implements subcommands.Command for the "watch" command.
type Watch struct {
	// count limits how many events to report before exiting. Zero means
	// run until interrupted.
	count uint
}

// Name implements subcommands.Command.Name.
func (*Watch) Name() string {
	return "watch"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Watch) Synopsis() string {
	return "open a session and report fabric interrupts"
}

// Usage implements subcommands.Command.Usage.
func (*Watch) Usage() string {
	return `watch [-count n] - open a device session and print one JSON line
per fabric interrupt until interrupted or n events have been seen. Interrupts
that arrive while a previous one is being reported coalesce into a single
event.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (w *Watch) SetFlags(f *flag.FlagSet) {
	f.UintVar(&w.count, "count", 0, "number of events to report before exiting (0 = unlimited)")
}

// watchEvent is one line of watch output.
type watchEvent struct {
	Seq  uint      `json:"seq"`
	Time time.Time `json:"time"`
}

// Execute implements subcommands.Command.Execute.
func (w *Watch) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	conf := args[0].(*config.Config)

	d, cl, err := bind(conf)
	if err != nil {
		Fatalf("%v", err)
	}
	defer cl()

	if err := d.Open(); err != nil {
		Fatalf("opening session: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warningf("closing session: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	for seq := uint(1); w.count == 0 || seq <= w.count; seq++ {
		if err := d.WaitEvent(ctx); err != nil {
			if errors.Is(err, fabricerr.ErrInterrupted) {
				log.Infof("watch: interrupted after %d events", seq-1)
				return subcommands.ExitSuccess
			}
			Fatalf("waiting for event: %v", err)
		}
		if err := enc.Encode(watchEvent{Seq: seq, Time: time.Now().UTC()}); err != nil {
			Fatalf("encoding event: %v", err)
		}
	}
	return subcommands.ExitSuccess
}
