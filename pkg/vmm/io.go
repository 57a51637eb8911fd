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
	"vmsim.dev/vmsim/pkg/vaddr"
)

// Read copies len(dst) bytes starting at addr in pid's address space into
// dst, mapping any unmapped page in the range first.
//
// If physical memory runs out part way through, Read returns
// vmerr.NoFreeFrame and the pages mapped before the failure stay mapped.
func (k *Kernel) Read(pid PID, addr vaddr.Addr, dst []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.transferLocked(pid, addr, dst, copyOut); err != nil {
		return k.failLocked(err)
	}
	k.stats.Reads++
	return nil
}

// Write copies src into pid's address space starting at addr, mapping any
// unmapped page in the range first.
//
// If physical memory runs out part way through, Write returns
// vmerr.NoFreeFrame; pages before the failing one are mapped and written.
func (k *Kernel) Write(pid PID, addr vaddr.Addr, src []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if err := k.transferLocked(pid, addr, src, copyIn); err != nil {
		return k.failLocked(err)
	}
	k.stats.Writes++
	return nil
}

// direction selects which way transferLocked copies.
type direction int

const (
	// copyOut copies from physical memory to the caller's buffer.
	copyOut direction = iota

	// copyIn copies from the caller's buffer to physical memory.
	copyIn
)

// CheckIORange returns the range [addr, addr+length) if it is non-empty and
// lies within an address space of size bytes. Bounds are checked against the
// logical size, not the page-rounded size.
func CheckIORange(size int, addr vaddr.Addr, length int) (vaddr.Range, bool) {
	space := vaddr.Range{End: vaddr.Addr(max(size, 0))}
	if length <= 0 || !space.Contains(addr) {
		return vaddr.Range{}, false
	}
	ar, ok := addr.ToRange(uint64(length))
	return ar, ok && space.IsSupersetOf(ar)
}

// transferLocked implements Read and Write. Pages are visited in ascending
// order; each is mapped if needed and then the part of the range inside it is
// copied. For a single page that part is the whole buffer. Otherwise the
// first page contributes PageSize-start_offset bytes from start_offset, the
// last contributes the bytes up to the range end from offset 0, and every
// page in between contributes a full page.
//
// Preconditions: k.mu must be locked.
func (k *Kernel) transferLocked(pid PID, addr vaddr.Addr, buf []byte, dir direction) error {
	md, err := k.descriptorLocked(pid)
	if err != nil {
		return err
	}
	ar, ok := CheckIORange(md.Size, addr, len(buf))
	if !ok {
		return vmerr.OutOfBounds
	}

	first, last := k.pageSize.Pages(ar)
	done := 0
	for page := first; page <= last; page++ {
		pte := &md.PageTable.Entries[page]
		if !pte.Present {
			if err := k.mapPageLocked(pid, page, pte); err != nil {
				return err
			}
		}

		off, n, _ := k.pageSize.Span(ar, page)
		phys := k.mem.Slice(pte.Frame*k.cfg.PageSize+off, n)
		switch dir {
		case copyOut:
			copy(buf[done:done+n], phys)
		case copyIn:
			copy(phys, buf[done:done+n])
		}
		done += n
	}
	return nil
}

// mapPageLocked backs page with the lowest-numbered free frame.
//
// Preconditions:
//   - k.mu must be locked.
//   - !pte.Present.
func (k *Kernel) mapPageLocked(pid PID, page int, pte *PTE) error {
	frame, err := k.frames.FirstZero(0)
	if err != nil {
		k.warn.Warningf("Out of physical frames mapping page %d of process %d (%d frames)", page, pid, k.frames.Size())
		return vmerr.NoFreeFrame
	}
	k.frames.Add(frame)
	pte.Frame = int(frame)
	pte.Present = true
	k.stats.PageFaults++
	return nil
}
