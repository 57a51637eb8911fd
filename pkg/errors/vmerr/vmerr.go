// Copyright 2021 The gVisor Authors.
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

// Package vmerr contains memory manager error kinds exported as error
// interface pointers. This allows for fast comparison and return operations.
package vmerr

import (
	goerrors "errors"

	"vmsim.dev/vmsim/pkg/errors"
)

// Error codes. Zero is reserved for "no error".
const (
	CodeInvalidSize errors.Code = iota + 1
	CodeOutOfKernelMemory
	CodeNoFreeProcessSlot
	CodeNotRunning
	CodeOutOfBounds
	CodeNoFreeFrame
	CodeInvalidConfig
	CodeKernelReleased

	maxCode
)

// The following errors are the complete set returned by the memory manager.
// They are returned unwrapped, so == comparison is valid at the API boundary.
var (
	noError *errors.Error = nil

	// InvalidSize is returned when a requested virtual size is non-positive or
	// exceeds the per-process limit.
	InvalidSize = errors.New(CodeInvalidSize, "InvalidSize", "invalid address space size")

	// OutOfKernelMemory is returned when admitting a process would reserve
	// more pages than physical memory holds.
	OutOfKernelMemory = errors.New(CodeOutOfKernelMemory, "OutOfKernelMemory", "out of kernel memory")

	// NoFreeProcessSlot is returned when the process table is exhausted.
	NoFreeProcessSlot = errors.New(CodeNoFreeProcessSlot, "NoFreeProcessSlot", "no free process slot")

	// NotRunning is returned for operations on an inactive process id.
	NotRunning = errors.New(CodeNotRunning, "NotRunning", "process not running")

	// OutOfBounds is returned when a transfer range is empty or leaves the
	// process's address space.
	OutOfBounds = errors.New(CodeOutOfBounds, "OutOfBounds", "address range out of bounds")

	// NoFreeFrame is returned when physical memory is exhausted while
	// lazily mapping a page.
	NoFreeFrame = errors.New(CodeNoFreeFrame, "NoFreeFrame", "no free physical frame")

	// InvalidConfig is returned when kernel geometry is inconsistent.
	InvalidConfig = errors.New(CodeInvalidConfig, "InvalidConfig", "invalid kernel configuration")

	// KernelReleased is returned for operations on a released kernel.
	KernelReleased = errors.New(CodeKernelReleased, "KernelReleased", "kernel released")
)

var byCode = [maxCode]*errors.Error{
	0:                     noError,
	CodeInvalidSize:       InvalidSize,
	CodeOutOfKernelMemory: OutOfKernelMemory,
	CodeNoFreeProcessSlot: NoFreeProcessSlot,
	CodeNotRunning:        NotRunning,
	CodeOutOfBounds:       OutOfBounds,
	CodeNoFreeFrame:       NoFreeFrame,
	CodeInvalidConfig:     InvalidConfig,
	CodeKernelReleased:    KernelReleased,
}

// Lookup returns the error with the given symbolic name.
func Lookup(name string) (*errors.Error, bool) {
	for _, e := range byCode[1:] {
		if e.Name() == name {
			return e, true
		}
	}
	return nil, false
}

// All returns every error kind in code order.
func All() []*errors.Error {
	all := make([]*errors.Error, 0, len(byCode)-1)
	return append(all, byCode[1:]...)
}

// Equals compares an *errors.Error to a generic error, unwrapping err as
// needed. A nil *errors.Error equals only a nil err.
func Equals(e *errors.Error, err error) bool {
	if e == nil {
		return err == nil
	}
	return goerrors.Is(err, e)
}

// ToError converts err to its memory manager kind, unwrapping as needed.
func ToError(err error) (*errors.Error, bool) {
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
