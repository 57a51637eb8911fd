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

// PID identifies a process slot. Valid PIDs are [0, Config.MaxProcessNum).
type PID int

// unmappedFrame is the frame number of a PTE that is not present.
const unmappedFrame = -1

// PTE is a page table entry.
//
// A PTE starts unmapped and becomes present at most once; there is no
// eviction, so a present PTE keeps its frame until the process exits.
type PTE struct {
	// Frame is the physical frame backing the page, or -1 if unmapped.
	Frame int `json:"frame" yaml:"frame"`

	// Present is true iff Frame is valid.
	Present bool `json:"present" yaml:"present"`
}

// PageTable is a single-level page table, one entry per virtual page.
type PageTable struct {
	Entries []PTE `json:"entries" yaml:"entries"`
}

func newPageTable(pages int) *PageTable {
	pt := &PageTable{Entries: make([]PTE, pages)}
	for i := range pt.Entries {
		pt.Entries[i].Frame = unmappedFrame
	}
	return pt
}

// MemoryDescriptor describes one process's address space.
//
// Invariant: Size == 0 iff PageTable == nil iff the slot is not running.
type MemoryDescriptor struct {
	// Size is the logical address space size in bytes.
	Size int `json:"size" yaml:"size"`

	// PageTable maps the address space. It has ceil(Size/PageSize) entries.
	PageTable *PageTable `json:"page_table,omitempty" yaml:"page_table,omitempty"`
}

// active returns whether the descriptor belongs to a running process.
func (md *MemoryDescriptor) active() bool {
	return md.PageTable != nil
}

// Mapping is one row of a process's mapping report.
type Mapping struct {
	// Page is the virtual page index.
	Page int `json:"page" yaml:"page"`

	// Frame is the backing frame, or -1.
	Frame int `json:"frame" yaml:"frame"`

	// Present mirrors PTE.Present.
	Present bool `json:"present" yaml:"present"`
}
