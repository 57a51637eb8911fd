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

	"vmsim.dev/vmsim/pkg/log"
	"vmsim.dev/vmsim/pkg/script"
	"vmsim.dev/vmsim/pkg/vmm"
	"vmsim.dev/vmsim/vmsim/cmd/util"
	"vmsim.dev/vmsim/vmsim/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// check verifies kernel invariants after every step.
	check bool

	// state prints a kernel snapshot after each script.
	state bool

	// out overrides stdout.
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run scenario scripts"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <script>... - run TOML scenario scripts.

Each script runs against a fresh kernel. Its [kernel] table overrides the
configuration given by -config and the kernel flags.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.check, "check", false, "verify kernel invariants after every step.")
	f.BoolVar(&r.state, "state", false, "print the kernel state after each script.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	// Load every script before running any.
	var scripts []*script.Script
	for _, path := range f.Args() {
		s, err := script.Load(path)
		if err != nil {
			return util.Errorf("%v", err)
		}
		scripts = append(scripts, s)
	}

	rep := newReporter(conf, r.out)
	for _, s := range scripts {
		if err := r.runOne(ctx, conf, s); err != nil {
			return util.Errorf("%s: %v", s.Name, err)
		}
		rep.Message("%s: ok", s.Name)
	}
	return subcommands.ExitSuccess
}

func (r *Run) runOne(ctx context.Context, conf *config.Config, s *script.Script) error {
	k, err := vmm.New(s.Config(conf.Kernel))
	if err != nil {
		return err
	}
	defer k.Release()

	rep := newReporter(conf, r.out)
	rep.Message("=== %s", s.Name)
	log.Infof("Running %q with %+v", s.Name, k.Config())
	if err := script.NewRunner(k, rep, script.Options{Check: r.check}).Run(ctx, s); err != nil {
		return err
	}
	if r.state {
		return rep.State(k.Snapshot())
	}
	return nil
}
