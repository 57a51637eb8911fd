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

package script

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/log"
	"vmsim.dev/vmsim/pkg/report"
	"vmsim.dev/vmsim/pkg/vaddr"
	"vmsim.dev/vmsim/pkg/vmm"
)

// StepError is returned when a step does not behave as the script expects.
type StepError struct {
	// Index is the 1-based step number.
	Index int

	// Step is the failing step.
	Step Step

	// Err describes the failure.
	Err error
}

// Error implements error.Error.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %d %s: %v", e.Index, &e.Step, e.Err)
}

// Unwrap returns the underlying failure.
func (e *StepError) Unwrap() error {
	return e.Err
}

// Options configures a Runner.
type Options struct {
	// Check verifies kernel invariants after every step.
	Check bool
}

// Runner executes scripts against a kernel. Process names bound by create
// steps persist across Run calls.
type Runner struct {
	k     *vmm.Kernel
	out   *report.Reporter
	opts  Options
	procs map[string]vmm.PID
}

// NewRunner returns a Runner that executes steps on k and writes reports to
// out.
func NewRunner(k *vmm.Kernel, out *report.Reporter, opts Options) *Runner {
	return &Runner{
		k:     k,
		out:   out,
		opts:  opts,
		procs: make(map[string]vmm.PID),
	}
}

// Run executes the steps of s in order and stops at the first step that
// does not behave as expected. It returns a *StepError in that case.
func (r *Runner) Run(ctx context.Context, s *Script) error {
	log.Debugf("Running script %q: %d steps", s.Name, len(s.Steps))
	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := &s.Steps[i]
		if err := r.step(step); err != nil {
			return &StepError{Index: i + 1, Step: *step, Err: err}
		}
		if r.opts.Check {
			if err := r.k.CheckInvariants(); err != nil {
				return &StepError{Index: i + 1, Step: *step, Err: fmt.Errorf("invariant violated: %w", err)}
			}
		}
	}
	return nil
}

// pid resolves a process reference.
func (r *Runner) pid(ref string) (vmm.PID, error) {
	if pid, ok := r.procs[ref]; ok {
		return pid, nil
	}
	n, err := strconv.Atoi(ref)
	if err != nil {
		return -1, fmt.Errorf("unknown process %q", ref)
	}
	return vmm.PID(n), nil
}

// transferLen returns the buffer length for a read or write. No process is
// larger than the virtual space, so longer transfers are clamped to one byte
// past it and still fail the bounds check.
func (r *Runner) transferLen(s *Step) int {
	return min(s.length(), r.k.Config().VirtualSpaceSize+1)
}

func (r *Runner) step(s *Step) error {
	var (
		err error
		buf []byte
		pid vmm.PID
	)
	if s.Op.needsProc() {
		if pid, err = r.pid(s.Proc); err != nil {
			return err
		}
	}

	switch s.Op {
	case OpCreate:
		pid, err = r.k.CreateProcess(s.Size)
		if err == nil {
			if s.Name != "" {
				r.procs[s.Name] = pid
			}
			r.out.Message("Process %d created with size %d", pid, s.Size)
		}
	case OpExit:
		if err = r.k.ExitProcess(pid); err == nil {
			r.out.Message("Process %d exited", pid)
		}
	case OpRead:
		buf = make([]byte, r.transferLen(s))
		if err = r.k.Read(pid, vaddr.Addr(s.Addr), buf); err == nil {
			r.out.Message("Read %d bytes from process %d at %#x", len(buf), pid, s.Addr)
		}
	case OpWrite:
		data := []byte(s.Data)
		if len(data) == 0 {
			data = make([]byte, r.transferLen(s))
		}
		if err = r.k.Write(pid, vaddr.Addr(s.Addr), data); err == nil {
			r.out.Message("Wrote %d bytes to process %d at %#x", len(data), pid, s.Addr)
		}
	case OpFree:
		return r.out.FreeSpace(s.Title, r.k.FreeSpace())
	case OpMaps:
		var maps []vmm.Mapping
		if maps, err = r.k.Mappings(pid); err == nil {
			if err := r.out.Mappings(s.Title, pid, maps); err != nil {
				return err
			}
		}
	case OpCheck:
		err = r.k.CheckInvariants()
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}

	want, _ := vmerr.Lookup(s.Expect)
	if !vmerr.Equals(want, err) {
		switch {
		case want == nil:
			return fmt.Errorf("unexpected error: %w", err)
		case err == nil:
			return fmt.Errorf("succeeded, want %s", want.Name())
		default:
			return fmt.Errorf("got error %v, want %s", err, want.Name())
		}
	}
	if err != nil {
		r.out.Message("%s failed as expected: %v", s, err)
		log.Debugf("%s failed as expected: %v", s, err)
		return nil
	}
	if s.Op == OpRead && s.Want != nil && !bytes.Equal(buf, []byte(*s.Want)) {
		return fmt.Errorf("read %q, want %q", buf, *s.Want)
	}
	return nil
}
