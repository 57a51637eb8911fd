// Copyright 2018 The gVisor Authors.
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

// Package vaddr describes simulated virtual addresses and the page geometry
// that splits them into page numbers and offsets.
//
// Addresses are plain integer offsets into a process's address space. They
// never alias host memory.
package vaddr

import "fmt"

// Addr represents a virtual address in a process's address space.
type Addr uint64

// AddLength adds the given length to start and returns the result. ok is true
// iff adding the length did not overflow Addr.
func (v Addr) AddLength(length uint64) (end Addr, ok bool) {
	end = v + Addr(length)
	ok = end >= v
	return
}

// ToRange returns [v, v+length).
func (v Addr) ToRange(length uint64) (Range, bool) {
	end, ok := v.AddLength(length)
	return Range{v, end}, ok
}

// Range is a range of Addrs.
type Range struct {
	// Start is the first address in the range.
	Start Addr

	// End is the first address past the range.
	End Addr
}

// Contains returns true if r contains x.
func (r Range) Contains(x Addr) bool {
	return r.Start <= x && x < r.End
}

// IsSupersetOf returns true if r is a superset of r2; that is, the range r2 is
// contained within r.
func (r Range) IsSupersetOf(r2 Range) bool {
	return r.Start <= r2.Start && r.End >= r2.End
}

// String implements fmt.Stringer.String.
func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Start, r.End)
}

// PageSize is the size of a simulated page in bytes. Unlike a host page size
// it is chosen at kernel construction and need not be a power of two.
type PageSize uint64

// Page returns the index of the page containing v.
func (p PageSize) Page(v Addr) int {
	return int(uint64(v) / uint64(p))
}

// Base returns the first address of the given page.
func (p PageSize) Base(page int) Addr {
	return Addr(uint64(page) * uint64(p))
}

// Count returns the number of pages needed to hold size bytes, that is
// ceil(size / p).
func (p PageSize) Count(size uint64) int {
	if size == 0 {
		return 0
	}
	return int((size-1)/uint64(p) + 1)
}

// Pages returns the first and last (inclusive) pages touched by the
// non-empty range r.
func (p PageSize) Pages(r Range) (first, last int) {
	return p.Page(r.Start), p.Page(r.End - 1)
}

// Span returns the part of r that falls in page, as an offset into the page
// and a length. ok is false if r does not touch page.
func (p PageSize) Span(r Range, page int) (off, length int, ok bool) {
	base := p.Base(page)
	pr := Range{base, base + Addr(p)}
	start, end := max(r.Start, pr.Start), min(r.End, pr.End)
	if start >= end {
		return 0, 0, false
	}
	return int(start - base), int(end - start), true
}
