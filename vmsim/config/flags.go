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

package config

import (
	"flag"
	"fmt"
	"reflect"

	"vmsim.dev/vmsim/pkg/report"
	"vmsim.dev/vmsim/pkg/vmm"
)

// kernelFlags maps each kernel geometry flag to its field.
var kernelFlags = []struct {
	name  string
	usage string
	field func(*vmm.Config) *int
}{
	{"kernel-space-size", "size of physical memory in bytes.", func(c *vmm.Config) *int { return &c.KernelSpaceSize }},
	{"virtual-space-size", "largest address space a process may request, in bytes.", func(c *vmm.Config) *int { return &c.VirtualSpaceSize }},
	{"page-size", "page and frame size in bytes. Must divide both space sizes.", func(c *vmm.Config) *int { return &c.PageSize }},
	{"max-process-num", "number of process slots.", func(c *vmm.Config) *int { return &c.MaxProcessNum }},
}

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file with the kernel configuration. Flags given on the command line take precedence.")

	def := vmm.DefaultConfig()
	for _, kf := range kernelFlags {
		flagSet.Int(kf.name, *kf.field(&def), kf.usage)
	}

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log", "", "file path where internal debug information is written. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr.")

	// Output flags.
	format := report.Text
	flagSet.Var(&format, "format", "report format: text (default), json or yaml.")
}

// NewFromFlags creates a new Config with values coming from command line flags
// and, for the kernel geometry, the file named by the config flag.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}

	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	conf.Kernel = vmm.DefaultConfig()
	if conf.ConfigFile != "" {
		kc, err := LoadKernelConfig(conf.ConfigFile, conf.Kernel)
		if err != nil {
			return nil, err
		}
		conf.Kernel = kc
	}
	set := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	for _, kf := range kernelFlags {
		if !set[kf.name] && conf.ConfigFile != "" {
			continue
		}
		*kf.field(&conf.Kernel) = flagSet.Lookup(kf.name).Value.(flag.Getter).Get().(int)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}
