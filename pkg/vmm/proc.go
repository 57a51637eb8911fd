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
	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/log"
)

// CreateProcess admits a process with an address space of size bytes and
// returns its PID, the lowest free slot.
//
// Admission reserves ceil(size/PageSize) pages against physical capacity, but
// no frame is claimed until a page is first accessed.
//
// Errors, checked in this order:
//   - vmerr.InvalidSize if size <= 0 or size > VirtualSpaceSize.
//   - vmerr.OutOfKernelMemory if the reservation exceeds the frame count.
//   - vmerr.NoFreeProcessSlot if every slot is in use.
func (k *Kernel) CreateProcess(size int) (PID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.released {
		return -1, vmerr.KernelReleased
	}
	if size <= 0 || size > k.cfg.VirtualSpaceSize {
		return -1, k.failLocked(vmerr.InvalidSize)
	}
	pages := k.pageSize.Count(uint64(size))
	if k.allocatedPages+pages > k.cfg.Frames() {
		return -1, k.failLocked(vmerr.OutOfKernelMemory)
	}
	slot, err := k.running.FirstZero(0)
	if err != nil {
		return -1, k.failLocked(vmerr.NoFreeProcessSlot)
	}

	pid := PID(slot)
	k.running.Add(slot)
	k.allocatedPages += pages
	k.mm[pid] = MemoryDescriptor{
		Size:      size,
		PageTable: newPageTable(pages),
	}
	k.stats.Creates++
	log.Debugf("Process %d created: size %d, %d pages, %d/%d pages admitted", pid, size, pages, k.allocatedPages, k.cfg.Frames())
	return pid, nil
}

// ExitProcess tears down a process: its mapped frames return to the free
// pool (zeroed), its page reservation is dropped and its slot is freed.
//
// Returns vmerr.NotRunning if pid is not running, including on a second call.
func (k *Kernel) ExitProcess(pid PID) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, err := k.descriptorLocked(pid); err != nil {
		return k.failLocked(err)
	}
	k.exitLocked(pid)
	return nil
}

// exitLocked releases everything owned by pid.
//
// Preconditions:
//   - k.mu must be locked.
//   - pid is running.
func (k *Kernel) exitLocked(pid PID) {
	md := &k.mm[pid]
	freed := 0
	for _, pte := range md.PageTable.Entries {
		if !pte.Present {
			continue
		}
		k.frames.Remove(uint32(pte.Frame))
		k.mem.Zero(pte.Frame*k.cfg.PageSize, k.cfg.PageSize)
		freed++
	}
	k.allocatedPages -= len(md.PageTable.Entries)
	*md = MemoryDescriptor{}
	k.running.Remove(uint32(pid))

	k.stats.Exits++
	k.stats.FramesReleased += uint64(freed)
	log.Debugf("Process %d exited: %d frames released, %d/%d pages admitted", pid, freed, k.allocatedPages, k.cfg.Frames())
}
