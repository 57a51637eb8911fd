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

package vmm

import (
	"fmt"

	"vmsim.dev/vmsim/pkg/bitmap"
	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/log"
)

// Config is the fixed geometry of a Kernel. It is set once at construction.
type Config struct {
	// KernelSpaceSize is the size of physical memory in bytes.
	KernelSpaceSize int `toml:"kernel_space_size" json:"kernel_space_size" yaml:"kernel_space_size"`

	// VirtualSpaceSize is the largest address space a process may request.
	VirtualSpaceSize int `toml:"virtual_space_size" json:"virtual_space_size" yaml:"virtual_space_size"`

	// PageSize is the size of a page and of a physical frame. It must evenly
	// divide KernelSpaceSize and VirtualSpaceSize.
	PageSize int `toml:"page_size" json:"page_size" yaml:"page_size"`

	// MaxProcessNum is the number of process slots.
	MaxProcessNum int `toml:"max_process_num" json:"max_process_num" yaml:"max_process_num"`
}

// DefaultConfig returns the geometry used by the demonstration scenario.
func DefaultConfig() Config {
	return Config{
		KernelSpaceSize:  8192,
		VirtualSpaceSize: 512,
		PageSize:         32,
		MaxProcessNum:    8,
	}
}

// Frames returns the number of physical frames.
func (c *Config) Frames() int {
	return c.KernelSpaceSize / c.PageSize
}

// Validate checks that the geometry is usable. Errors wrap vmerr.InvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.KernelSpaceSize <= 0:
		return fmt.Errorf("%w: kernel space size %d must be positive", vmerr.InvalidConfig, c.KernelSpaceSize)
	case c.VirtualSpaceSize <= 0:
		return fmt.Errorf("%w: virtual space size %d must be positive", vmerr.InvalidConfig, c.VirtualSpaceSize)
	case c.PageSize <= 0:
		return fmt.Errorf("%w: page size %d must be positive", vmerr.InvalidConfig, c.PageSize)
	case c.MaxProcessNum <= 0:
		return fmt.Errorf("%w: max process num %d must be positive", vmerr.InvalidConfig, c.MaxProcessNum)
	case c.KernelSpaceSize%c.PageSize != 0:
		return fmt.Errorf("%w: page size %d does not divide kernel space size %d", vmerr.InvalidConfig, c.PageSize, c.KernelSpaceSize)
	case c.VirtualSpaceSize%c.PageSize != 0:
		return fmt.Errorf("%w: page size %d does not divide virtual space size %d", vmerr.InvalidConfig, c.PageSize, c.VirtualSpaceSize)
	case uint64(c.Frames()) > uint64(bitmap.MaxBitEntryLimit):
		return fmt.Errorf("%w: %d frames exceeds limit %d", vmerr.InvalidConfig, c.Frames(), bitmap.MaxBitEntryLimit)
	case uint64(c.MaxProcessNum) > uint64(bitmap.MaxBitEntryLimit):
		return fmt.Errorf("%w: %d process slots exceeds limit %d", vmerr.InvalidConfig, c.MaxProcessNum, bitmap.MaxBitEntryLimit)
	}
	return nil
}

// Log logs the configuration.
func (c *Config) Log() {
	log.Infof("Kernel configuration:")
	log.Infof("\t\tKernelSpaceSize: %d", c.KernelSpaceSize)
	log.Infof("\t\tVirtualSpaceSize: %d", c.VirtualSpaceSize)
	log.Infof("\t\tPageSize: %d", c.PageSize)
	log.Infof("\t\tMaxProcessNum: %d", c.MaxProcessNum)
}
