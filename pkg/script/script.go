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

// Package script runs memory manager scenarios described in TOML.
//
// A script is an optional [kernel] table followed by [[step]] tables:
//
//	[kernel]
//	page_size = 32
//
//	[[step]]
//	op = "create"
//	size = 256
//	name = "p1"
//
//	[[step]]
//	op = "write"
//	proc = "p1"
//	addr = 0
//	data = "hello"
//
// Each step either succeeds or fails with the error named by its expect key.
package script

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/vmm"
)

// Op is a step operation.
type Op string

// Supported operations.
const (
	OpCreate Op = "create"
	OpExit   Op = "exit"
	OpRead   Op = "read"
	OpWrite  Op = "write"
	OpFree   Op = "free"
	OpMaps   Op = "maps"
	OpCheck  Op = "check"
)

func (op Op) valid() bool {
	switch op {
	case OpCreate, OpExit, OpRead, OpWrite, OpFree, OpMaps, OpCheck:
		return true
	}
	return false
}

// needsProc returns whether the operation acts on a process.
func (op Op) needsProc() bool {
	switch op {
	case OpExit, OpRead, OpWrite, OpMaps:
		return true
	}
	return false
}

// KernelOverrides holds the keys set in a script's [kernel] table. Unset keys
// keep the value of the configuration the script is run with.
type KernelOverrides struct {
	KernelSpaceSize  *int `toml:"kernel_space_size"`
	VirtualSpaceSize *int `toml:"virtual_space_size"`
	PageSize         *int `toml:"page_size"`
	MaxProcessNum    *int `toml:"max_process_num"`
}

// Apply returns cfg with the overrides applied.
func (o *KernelOverrides) Apply(cfg vmm.Config) vmm.Config {
	if o == nil {
		return cfg
	}
	if o.KernelSpaceSize != nil {
		cfg.KernelSpaceSize = *o.KernelSpaceSize
	}
	if o.VirtualSpaceSize != nil {
		cfg.VirtualSpaceSize = *o.VirtualSpaceSize
	}
	if o.PageSize != nil {
		cfg.PageSize = *o.PageSize
	}
	if o.MaxProcessNum != nil {
		cfg.MaxProcessNum = *o.MaxProcessNum
	}
	return cfg
}

// Step is a single scripted operation.
type Step struct {
	// Op is the operation.
	Op Op `toml:"op"`

	// Title is printed before free and maps reports.
	Title string `toml:"title"`

	// Size is the address space size for create.
	Size int `toml:"size"`

	// Name binds the PID returned by create.
	Name string `toml:"name"`

	// Proc names the target process: a name bound by create, or a decimal
	// PID.
	Proc string `toml:"proc"`

	// Addr is the start address for read and write.
	Addr uint64 `toml:"addr"`

	// Len is the transfer length. For write it is the number of zero bytes
	// written when Data is empty. For read it defaults to len(Want).
	Len int `toml:"len"`

	// Data is written by write.
	Data string `toml:"data"`

	// Want, if set, is compared with the bytes returned by read.
	Want *string `toml:"want"`

	// Expect is the name of the error the step must fail with. Empty means
	// the step must succeed.
	Expect string `toml:"expect"`
}

// String implements fmt.Stringer.String.
func (s *Step) String() string {
	switch s.Op {
	case OpCreate:
		return fmt.Sprintf("create(%d)", s.Size)
	case OpRead, OpWrite:
		return fmt.Sprintf("%s(%s, %#x, %d)", s.Op, s.Proc, s.Addr, s.length())
	case OpExit, OpMaps:
		return fmt.Sprintf("%s(%s)", s.Op, s.Proc)
	default:
		return string(s.Op)
	}
}

// length returns the number of bytes a read or write transfers.
func (s *Step) length() int {
	switch {
	case s.Op == OpWrite && s.Data != "":
		return len(s.Data)
	case s.Op == OpRead && s.Len == 0 && s.Want != nil:
		return len(*s.Want)
	default:
		return s.Len
	}
}

func (s *Step) validate() error {
	if !s.Op.valid() {
		return fmt.Errorf("unknown op %q", s.Op)
	}
	if s.Op.needsProc() && s.Proc == "" {
		return fmt.Errorf("%s requires proc", s.Op)
	}
	if s.Name != "" && s.Op != OpCreate {
		return fmt.Errorf("name is only valid for create")
	}
	if _, err := strconv.Atoi(s.Name); s.Name != "" && err == nil {
		return fmt.Errorf("name %q must not be a number", s.Name)
	}
	if s.Want != nil && s.Op != OpRead {
		return fmt.Errorf("want is only valid for read")
	}
	if s.Op == OpWrite && s.Data != "" && s.Len != 0 && s.Len != len(s.Data) {
		return fmt.Errorf("len %d does not match data length %d", s.Len, len(s.Data))
	}
	if s.Op == OpRead && s.Want != nil && s.Len != 0 && s.Len != len(*s.Want) {
		return fmt.Errorf("len %d does not match want length %d", s.Len, len(*s.Want))
	}
	if s.Op == OpFree && s.Expect != "" {
		return fmt.Errorf("free cannot fail")
	}
	if s.Len < 0 {
		return fmt.Errorf("negative len %d", s.Len)
	}
	if _, ok := vmerr.Lookup(s.Expect); s.Expect != "" && !ok {
		return fmt.Errorf("unknown error %q in expect", s.Expect)
	}
	return nil
}

// Script is a parsed scenario.
type Script struct {
	// Name identifies the script in messages, usually its file name.
	Name string `toml:"-"`

	// Kernel overrides the configuration the script runs with.
	Kernel *KernelOverrides `toml:"kernel"`

	// Steps run in order.
	Steps []Step `toml:"step"`
}

// Config returns the kernel configuration for the script, starting from base.
func (s *Script) Config(base vmm.Config) vmm.Config {
	return s.Kernel.Apply(base)
}

// Parse parses a script.
func Parse(name string, data []byte) (*Script, error) {
	s := &Script{Name: name}
	md, err := toml.Decode(string(data), s)
	if err != nil {
		return nil, errors.Wrapf(err, "decode script %q", name)
	}
	if err := s.check(md); err != nil {
		return nil, errors.Wrapf(err, "script %q", name)
	}
	return s, nil
}

// Load reads and parses the script at path.
func Load(path string) (*Script, error) {
	s := &Script{Name: path}
	md, err := toml.DecodeFile(path, s)
	if err != nil {
		return nil, errors.Wrapf(err, "decode script %q", path)
	}
	if err := s.check(md); err != nil {
		return nil, errors.Wrapf(err, "script %q", path)
	}
	return s, nil
}

func (s *Script) check(md toml.MetaData) error {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("no steps")
	}
	bound := make(map[string]bool)
	for i := range s.Steps {
		step := &s.Steps[i]
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if step.Proc != "" && !bound[step.Proc] {
			if _, err := strconv.Atoi(step.Proc); err != nil {
				return fmt.Errorf("step %d: process %q is not bound by an earlier create", i+1, step.Proc)
			}
		}
		if step.Name != "" {
			bound[step.Name] = true
		}
	}
	return nil
}
