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

// Package vmm implements a demand-paged virtual memory manager.
//
// A Kernel owns a fixed pool of physical frames and a fixed table of process
// slots. Each running process has a single-level page table covering its
// virtual address space. Pages are mapped lazily: the first Read or Write that
// touches a page claims the lowest-numbered free frame (first fit). Mappings
// are never evicted; a process's frames return to the pool only when it exits.
//
// Lock order:
//
//	Kernel.mu
//	  log emitters
package vmm

import (
	"fmt"
	"sync"
	"time"

	"vmsim.dev/vmsim/pkg/bitmap"
	"vmsim.dev/vmsim/pkg/cleanup"
	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/log"
	"vmsim.dev/vmsim/pkg/physmem"
	"vmsim.dev/vmsim/pkg/vaddr"
)

// frameWarningInterval bounds how often frame exhaustion is logged.
const frameWarningInterval = time.Second

// Allocators used by New. Tests replace them to inject failures.
var (
	newMemory = physmem.New
	newBitmap = bitmap.New
)

// Kernel is the memory manager state. All methods are safe for concurrent
// use; each holds mu for its full duration, so operations are atomic with
// respect to one another.
type Kernel struct {
	// cfg and pageSize are immutable.
	cfg      Config
	pageSize vaddr.PageSize

	// warn is used for frame exhaustion warnings.
	warn log.Logger

	mu sync.Mutex

	// mem is the physical memory store.
	//
	// +checklocks:mu
	mem *physmem.Memory

	// frames has bit i set iff frame i is mapped by some present PTE.
	//
	// +checklocks:mu
	frames bitmap.Bitmap

	// running has bit i set iff process slot i is in use.
	//
	// +checklocks:mu
	running bitmap.Bitmap

	// mm is indexed by PID.
	//
	// +checklocks:mu
	mm []MemoryDescriptor

	// allocatedPages is the number of pages admitted across all running
	// processes, whether or not they are mapped yet.
	//
	// +checklocks:mu
	allocatedPages int

	// +checklocks:mu
	stats Stats

	// +checklocks:mu
	released bool
}

// New creates a Kernel with the given geometry. Physical memory is allocated
// up front and zero-filled.
func New(cfg Config) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mem, err := newMemory(cfg.KernelSpaceSize)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() {
		if err := mem.Release(); err != nil {
			log.Warningf("Releasing physical memory: %v", err)
		}
	})
	defer cu.Clean()

	frames, err := newBitmap(uint32(cfg.Frames()))
	if err != nil {
		return nil, fmt.Errorf("allocating frame table: %w", err)
	}
	running, err := newBitmap(uint32(cfg.MaxProcessNum))
	if err != nil {
		return nil, fmt.Errorf("allocating process table: %w", err)
	}

	k := &Kernel{
		cfg:      cfg,
		pageSize: vaddr.PageSize(cfg.PageSize),
		warn:     log.BasicRateLimitedLogger(frameWarningInterval),
		mem:      mem,
		frames:   frames,
		running:  running,
		mm:       make([]MemoryDescriptor, cfg.MaxProcessNum),
		stats:    newStats(),
	}
	cu.Release()
	log.Debugf("Kernel created: %d frames of %d bytes, %d process slots", cfg.Frames(), cfg.PageSize, cfg.MaxProcessNum)
	return k, nil
}

// Config returns the kernel's geometry.
func (k *Kernel) Config() Config {
	return k.cfg
}

// Release exits every running process and returns physical memory to the
// host. Subsequent operations fail with vmerr.KernelReleased. Release is
// idempotent.
func (k *Kernel) Release() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.released {
		return
	}
	for _, pid := range k.running.ToSlice() {
		k.exitLocked(PID(pid))
	}
	if err := k.mem.Release(); err != nil {
		log.Warningf("Releasing physical memory: %v", err)
	}
	k.released = true
	log.Debugf("Kernel released")
}

// descriptorLocked returns the descriptor of a running process.
//
// Preconditions: k.mu must be locked.
func (k *Kernel) descriptorLocked(pid PID) (*MemoryDescriptor, error) {
	if k.released {
		return nil, vmerr.KernelReleased
	}
	if pid < 0 || int(pid) >= len(k.mm) || !k.running.IsSet(uint32(pid)) {
		return nil, vmerr.NotRunning
	}
	return &k.mm[pid], nil
}

// failLocked records a failed operation and returns err.
//
// Preconditions: k.mu must be locked.
func (k *Kernel) failLocked(err error) error {
	if e, ok := vmerr.ToError(err); ok {
		k.stats.Failures[e.Name()]++
	}
	return err
}
