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
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/subcommands"

	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/vmsim/cmd/util"
	"vmsim.dev/vmsim/vmsim/config"
)

// Info implements subcommands.Command for the "info" command.
type Info struct {
	errors bool

	// out overrides stdout.
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*Info) Name() string {
	return "info"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Info) Synopsis() string {
	return "print the effective kernel configuration"
}

// Usage implements subcommands.Command.Usage.
func (*Info) Usage() string {
	return `info [flags] - print the kernel configuration resulting from -config and the kernel flags.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (i *Info) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&i.errors, "errors", false, "list the error names usable in scenario expectations instead.")
}

// Execute implements subcommands.Command.Execute.
func (i *Info) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	if i.errors {
		if err := writeErrors(stdout(i.out)); err != nil {
			return util.Errorf("writing errors: %v", err)
		}
		return subcommands.ExitSuccess
	}
	if err := newReporter(conf, i.out).Config(conf.Kernel); err != nil {
		return util.Errorf("writing report: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeErrors(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\n", "CODE", "NAME", "MESSAGE")
	for _, e := range vmerr.All() {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Code(), e.Name(), e.Error())
	}
	return tw.Flush()
}
