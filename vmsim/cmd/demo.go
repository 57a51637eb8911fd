// Copyright 2026 The gVisor Authors.
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
	"flag"
	"io"

	"github.com/google/subcommands"

	"vmsim.dev/vmsim/pkg/script"
	"vmsim.dev/vmsim/pkg/vmm"
	"vmsim.dev/vmsim/vmsim/cmd/util"
	"vmsim.dev/vmsim/vmsim/config"
)

const demoBanner = "----------------------------------------------"

// Demo implements subcommands.Command for the "demo" command.
type Demo struct {
	printScript bool

	// out overrides stdout.
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*Demo) Name() string {
	return "demo"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Demo) Synopsis() string {
	return "run the demonstration scenario"
}

// Usage implements subcommands.Command.Usage.
func (*Demo) Usage() string {
	return `demo [flags] - run the built-in demonstration scenario.

The scenario creates four processes on an 8KiB kernel with 32 byte pages,
reads and writes some of their pages and reports free frames and page
mappings as they change. It carries its own kernel configuration.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Demo) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.printScript, "print", false, "print the scenario script instead of running it.")
}

// Execute implements subcommands.Command.Execute.
func (d *Demo) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if d.printScript {
		if _, err := stdout(d.out).Write(script.DemoSource()); err != nil {
			return util.Errorf("writing demo script: %v", err)
		}
		return subcommands.ExitSuccess
	}

	s := script.Demo()
	// The demo carries its own geometry.
	cfg := s.Config(vmm.Config{})
	k, err := vmm.New(cfg)
	if err != nil {
		return util.Errorf("creating kernel: %v", err)
	}
	defer k.Release()

	r := newReporter(conf, d.out)
	r.Message("---------------- Demo Program ----------------")
	if err := r.Config(cfg); err != nil {
		return util.Errorf("writing report: %v", err)
	}
	r.Message("%s\n", demoBanner)

	if err := script.NewRunner(k, r, script.Options{Check: true}).Run(ctx, s); err != nil {
		return util.Errorf("demo failed: %v", err)
	}
	return subcommands.ExitSuccess
}
