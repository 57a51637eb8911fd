// Copyright 2019 The gVisor Authors.
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

// Package physmem provides the byte store that backs simulated physical
// memory.
//
// On Linux the store is a private anonymous mapping, so it is zero-filled,
// never moved by the Go garbage collector, and returned to the host as soon
// as Release is called. Other hosts fall back to a heap slice.
package physmem

import "fmt"

// Memory is a fixed-size physical memory store.
//
// Memory is not synchronized; callers serialize access.
type Memory struct {
	data []byte

	// released is set by Release. Accessors panic afterwards.
	released bool
}

// New allocates a zero-filled store of size bytes.
func New(size int) (*Memory, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid physical memory size %d", size)
	}
	data, err := mapAnon(size)
	if err != nil {
		return nil, fmt.Errorf("allocating %d bytes of physical memory: %w", size, err)
	}
	return &Memory{data: data}, nil
}

// Size returns the size of the store in bytes.
func (m *Memory) Size() int {
	return len(m.data)
}

// Slice returns the bytes [off, off+length) of the store. The returned slice
// aliases the store and is only valid until Release.
func (m *Memory) Slice(off, length int) []byte {
	m.checkRange(off, length)
	return m.data[off : off+length : off+length]
}

// Zero clears the bytes [off, off+length).
func (m *Memory) Zero(off, length int) {
	clear(m.Slice(off, length))
}

// Release returns the store to the host. It is safe to call more than once.
func (m *Memory) Release() error {
	if m.released {
		return nil
	}
	m.released = true
	data := m.data
	m.data = nil
	return unmapAnon(data)
}

func (m *Memory) checkRange(off, length int) {
	if m.released {
		panic("physical memory used after Release")
	}
	if off < 0 || length < 0 || off > len(m.data)-length {
		panic(fmt.Sprintf("physical range [%d, %d) outside store of %d bytes", off, off+length, len(m.data)))
	}
}
