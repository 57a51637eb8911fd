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

	"github.com/mohae/deepcopy"

	"vmsim.dev/vmsim/pkg/errors/vmerr"
)

// FrameRange is a half-open range of frame numbers [Start, End).
type FrameRange struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Len returns the number of frames in the range.
func (r FrameRange) Len() int {
	return r.End - r.Start
}

// FreeSpaceInfo describes the unoccupied physical frames.
type FreeSpaceInfo struct {
	// TotalFrames is the number of physical frames.
	TotalFrames int `json:"total_frames" yaml:"total_frames"`

	// FreeFrames is len(Frames).
	FreeFrames int `json:"free_frames" yaml:"free_frames"`

	// Frames lists every free frame in ascending order.
	Frames []int `json:"frames" yaml:"frames"`

	// Ranges coalesces Frames into maximal runs.
	Ranges []FrameRange `json:"ranges" yaml:"ranges"`
}

// Stats counts kernel activity since creation.
type Stats struct {
	Creates        uint64 `json:"creates" yaml:"creates"`
	Exits          uint64 `json:"exits" yaml:"exits"`
	Reads          uint64 `json:"reads" yaml:"reads"`
	Writes         uint64 `json:"writes" yaml:"writes"`
	PageFaults     uint64 `json:"page_faults" yaml:"page_faults"`
	FramesReleased uint64 `json:"frames_released" yaml:"frames_released"`

	// Failures counts failed operations by error name.
	Failures map[string]uint64 `json:"failures" yaml:"failures"`
}

func newStats() Stats {
	return Stats{Failures: make(map[string]uint64)}
}

// State is a point-in-time copy of the whole kernel. It shares no memory
// with the Kernel.
type State struct {
	Config         Config `json:"config" yaml:"config"`
	AllocatedPages int    `json:"allocated_pages" yaml:"allocated_pages"`
	Running        []PID  `json:"running" yaml:"running"`
	OccupiedFrames []int  `json:"occupied_frames" yaml:"occupied_frames"`
	Stats          Stats  `json:"stats" yaml:"stats"`
	Released       bool   `json:"released" yaml:"released"`

	// Descriptors is indexed by PID; inactive slots are zero.
	Descriptors []MemoryDescriptor `json:"descriptors" yaml:"descriptors"`
}

// FreeSpace reports the free physical frames. It does not modify the kernel.
func (k *Kernel) FreeSpace() FreeSpaceInfo {
	k.mu.Lock()
	defer k.mu.Unlock()

	zeros := k.frames.Zeros()
	info := FreeSpaceInfo{
		TotalFrames: int(k.frames.Size()),
		FreeFrames:  int(k.frames.GetNumZeros()),
		Frames:      make([]int, 0, len(zeros)),
	}
	for _, f := range zeros {
		frame := int(f)
		info.Frames = append(info.Frames, frame)
		if n := len(info.Ranges); n > 0 && info.Ranges[n-1].End == frame {
			info.Ranges[n-1].End++
			continue
		}
		info.Ranges = append(info.Ranges, FrameRange{Start: frame, End: frame + 1})
	}
	return info
}

// Mappings reports pid's page table as (page, frame, present) rows in page
// order. It does not modify the kernel.
func (k *Kernel) Mappings(pid PID) ([]Mapping, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	md, err := k.descriptorLocked(pid)
	if err != nil {
		return nil, k.failLocked(err)
	}
	maps := make([]Mapping, len(md.PageTable.Entries))
	for i, pte := range md.PageTable.Entries {
		maps[i] = Mapping{Page: i, Frame: pte.Frame, Present: pte.Present}
	}
	return maps, nil
}

// AllocatedPages returns the number of pages admitted to running processes.
func (k *Kernel) AllocatedPages() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.allocatedPages
}

// Stats returns a copy of the activity counters.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return deepcopy.Copy(k.stats).(Stats)
}

// Snapshot returns a deep copy of the kernel state.
func (k *Kernel) Snapshot() State {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := State{
		Config:         k.cfg,
		AllocatedPages: k.allocatedPages,
		Running:        make([]PID, 0, k.running.GetNumOnes()),
		OccupiedFrames: make([]int, 0, k.frames.GetNumOnes()),
		Stats:          deepcopy.Copy(k.stats).(Stats),
		Released:       k.released,
		Descriptors:    deepcopy.Copy(k.mm).([]MemoryDescriptor),
	}
	for _, pid := range k.running.ToSlice() {
		s.Running = append(s.Running, PID(pid))
	}
	for _, f := range k.frames.ToSlice() {
		s.OccupiedFrames = append(s.OccupiedFrames, int(f))
	}
	return s
}

// CheckInvariants verifies the kernel's bookkeeping and returns a
// description of the first inconsistency found.
func (k *Kernel) CheckInvariants() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.released {
		return vmerr.KernelReleased
	}

	owners := make(map[int]PID)
	pages := 0
	for i := range k.mm {
		pid := PID(i)
		md := &k.mm[i]
		running := k.running.IsSet(uint32(i))
		if running != md.active() || running != (md.Size != 0) {
			return fmt.Errorf("slot %d: running=%t but size=%d, page table present=%t", pid, running, md.Size, md.active())
		}
		if !running {
			continue
		}
		if want := k.pageSize.Count(uint64(md.Size)); len(md.PageTable.Entries) != want {
			return fmt.Errorf("process %d: page table has %d entries, want %d", pid, len(md.PageTable.Entries), want)
		}
		pages += len(md.PageTable.Entries)
		for page, pte := range md.PageTable.Entries {
			if !pte.Present {
				if pte.Frame != unmappedFrame {
					return fmt.Errorf("process %d page %d: not present but frame %d", pid, page, pte.Frame)
				}
				continue
			}
			if pte.Frame < 0 || pte.Frame >= int(k.frames.Size()) {
				return fmt.Errorf("process %d page %d: frame %d out of range", pid, page, pte.Frame)
			}
			if owner, ok := owners[pte.Frame]; ok {
				return fmt.Errorf("frame %d mapped by both process %d and process %d", pte.Frame, owner, pid)
			}
			if !k.frames.IsSet(uint32(pte.Frame)) {
				return fmt.Errorf("process %d page %d: frame %d mapped but not marked occupied", pid, page, pte.Frame)
			}
			owners[pte.Frame] = pid
		}
	}
	if pages != k.allocatedPages {
		return fmt.Errorf("allocated pages is %d, running processes hold %d", k.allocatedPages, pages)
	}
	if k.allocatedPages > k.cfg.Frames() {
		return fmt.Errorf("allocated pages %d exceeds %d frames", k.allocatedPages, k.cfg.Frames())
	}
	if got := int(k.frames.GetNumOnes()); got != len(owners) {
		return fmt.Errorf("%d frames marked occupied, %d mapped", got, len(owners))
	}
	return nil
}
