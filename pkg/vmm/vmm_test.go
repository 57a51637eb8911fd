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
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"golang.org/x/sync/errgroup"

	"vmsim.dev/vmsim/pkg/bitmap"
	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/physmem"
	"vmsim.dev/vmsim/pkg/vaddr"
)

func testKernel(t *testing.T, cfg Config) *Kernel {
	t.Helper()
	k, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%+v) failed: %v", cfg, err)
	}
	t.Cleanup(k.Release)
	return k
}

func mustCreate(t *testing.T, k *Kernel, size int) PID {
	t.Helper()
	pid, err := k.CreateProcess(size)
	if err != nil {
		t.Fatalf("CreateProcess(%d) failed: %v", size, err)
	}
	return pid
}

func checkInvariants(t *testing.T, k *Kernel) {
	t.Helper()
	if err := k.CheckInvariants(); err != nil {
		t.Fatalf("CheckInvariants: %v", err)
	}
}

// pattern returns n bytes that differ from their neighbours and from zero.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i%251) + 1
	}
	return b
}

func TestNewValidatesConfig(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{name: "zero kernel space", cfg: Config{0, 512, 32, 8}},
		{name: "zero virtual space", cfg: Config{8192, 0, 32, 8}},
		{name: "zero page size", cfg: Config{8192, 512, 0, 8}},
		{name: "negative process count", cfg: Config{8192, 512, 32, -1}},
		{name: "page size does not divide kernel space", cfg: Config{8200, 512, 32, 8}},
		{name: "page size does not divide virtual space", cfg: Config{8192, 500, 32, 8}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k, err := New(tc.cfg)
			if err == nil {
				k.Release()
				t.Fatalf("New(%+v) succeeded", tc.cfg)
			}
			if !errors.Is(err, vmerr.InvalidConfig) {
				t.Errorf("New(%+v) got err %v want %v", tc.cfg, err, vmerr.InvalidConfig)
			}
		})
	}
}

func TestNewReleasesMemoryOnTableFailure(t *testing.T) {
	defer func() {
		newMemory, newBitmap = physmem.New, bitmap.New
	}()

	for _, tc := range []struct {
		name    string
		failAt  int
		wantErr string
	}{
		{name: "frame table", failAt: 1, wantErr: "allocating frame table"},
		{name: "process table", failAt: 2, wantErr: "allocating process table"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var mem *physmem.Memory
			newMemory = func(size int) (*physmem.Memory, error) {
				m, err := physmem.New(size)
				mem = m
				return m, err
			}
			calls := 0
			newBitmap = func(size uint32) (bitmap.Bitmap, error) {
				calls++
				if calls == tc.failAt {
					return bitmap.Bitmap{}, fmt.Errorf("bitmap size %d exceeds limit", size)
				}
				return bitmap.New(size)
			}

			k, err := New(DefaultConfig())
			if err == nil {
				k.Release()
				t.Fatalf("New succeeded, want %q error", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("New got error %q, want it to contain %q", err, tc.wantErr)
			}
			if mem == nil {
				t.Fatalf("physical memory was never allocated")
			}
			if got := mem.Size(); got != 0 {
				t.Errorf("physical memory still holds %d bytes after failed New", got)
			}
		})
	}
}

func TestNonPowerOfTwoPageSize(t *testing.T) {
	k := testKernel(t, Config{KernelSpaceSize: 30 * 24, VirtualSpaceSize: 240, PageSize: 24, MaxProcessNum: 3})
	pid := mustCreate(t, k, 100)
	data := pattern(70, 3)
	if err := k.Write(pid, 20, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got := make([]byte, len(data))
	if err := k.Read(pid, 20, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Read got %v want %v", got, data)
	}
	checkInvariants(t, k)
}

func TestCreateProcessErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		cfg   Config
		sizes []int // created before the checked call, all must succeed
		size  int
		want  error
	}{
		{name: "zero size", cfg: DefaultConfig(), size: 0, want: vmerr.InvalidSize},
		{name: "negative size", cfg: DefaultConfig(), size: -32, want: vmerr.InvalidSize},
		{name: "larger than virtual space", cfg: DefaultConfig(), size: 513, want: vmerr.InvalidSize},
		{
			name:  "admission by page count",
			cfg:   Config{KernelSpaceSize: 256, VirtualSpaceSize: 256, PageSize: 32, MaxProcessNum: 8},
			sizes: []int{128, 97},
			size:  1,
			want:  vmerr.OutOfKernelMemory,
		},
		{
			name:  "slots exhausted",
			cfg:   Config{KernelSpaceSize: 8192, VirtualSpaceSize: 512, PageSize: 32, MaxProcessNum: 2},
			sizes: []int{32, 32},
			size:  32,
			want:  vmerr.NoFreeProcessSlot,
		},
		{
			name:  "size checked before capacity",
			cfg:   Config{KernelSpaceSize: 64, VirtualSpaceSize: 64, PageSize: 32, MaxProcessNum: 1},
			sizes: []int{64},
			size:  65,
			want:  vmerr.InvalidSize,
		},
		{
			name:  "capacity checked before slots",
			cfg:   Config{KernelSpaceSize: 64, VirtualSpaceSize: 64, PageSize: 32, MaxProcessNum: 1},
			sizes: []int{64},
			size:  1,
			want:  vmerr.OutOfKernelMemory,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := testKernel(t, tc.cfg)
			for _, size := range tc.sizes {
				mustCreate(t, k, size)
			}
			before := k.AllocatedPages()
			pid, err := k.CreateProcess(tc.size)
			if err != tc.want {
				t.Fatalf("CreateProcess(%d) got (%d, %v) want %v", tc.size, pid, err, tc.want)
			}
			if pid != -1 {
				t.Errorf("failed CreateProcess returned pid %d, want -1", pid)
			}
			if got := k.AllocatedPages(); got != before {
				t.Errorf("failed CreateProcess changed allocated pages from %d to %d", before, got)
			}
			checkInvariants(t, k)
		})
	}
}

func TestCreateProcessClaimsLowestSlot(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	for want := PID(0); want < 3; want++ {
		if got := mustCreate(t, k, 32); got != want {
			t.Fatalf("CreateProcess got pid %d want %d", got, want)
		}
	}
	if err := k.ExitProcess(1); err != nil {
		t.Fatalf("ExitProcess(1) failed: %v", err)
	}
	if got := mustCreate(t, k, 64); got != 1 {
		t.Errorf("CreateProcess after exit got pid %d want 1", got)
	}
	if got := mustCreate(t, k, 64); got != 3 {
		t.Errorf("CreateProcess got pid %d want 3", got)
	}
	checkInvariants(t, k)
}

func TestCreateProcessMapsNothing(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	pid := mustCreate(t, k, 100)

	maps, err := k.Mappings(pid)
	if err != nil {
		t.Fatalf("Mappings(%d) failed: %v", pid, err)
	}
	want := []Mapping{
		{Page: 0, Frame: -1}, {Page: 1, Frame: -1}, {Page: 2, Frame: -1}, {Page: 3, Frame: -1},
	}
	if diff := cmp.Diff(want, maps); diff != "" {
		t.Errorf("Mappings mismatch (-want +got):\n%s", diff)
	}
	if got := k.FreeSpace().FreeFrames; got != 256 {
		t.Errorf("FreeFrames got %d want 256", got)
	}
	if got := k.AllocatedPages(); got != 4 {
		t.Errorf("AllocatedPages got %d want 4", got)
	}
}

func TestExitProcess(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	keep := mustCreate(t, k, 64)
	pid := mustCreate(t, k, 256)
	if err := k.Write(keep, 0, pattern(64, 0)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := k.Read(pid, 40, make([]byte, 100)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got := k.FreeSpace().FreeFrames; got != 256-2-4 {
		t.Fatalf("FreeFrames got %d want %d", got, 256-2-4)
	}

	before := k.AllocatedPages()
	if err := k.ExitProcess(pid); err != nil {
		t.Fatalf("ExitProcess(%d) failed: %v", pid, err)
	}
	if got, want := k.AllocatedPages(), before-8; got != want {
		t.Errorf("AllocatedPages got %d want %d", got, want)
	}
	free := k.FreeSpace()
	if free.FreeFrames != 254 {
		t.Errorf("FreeFrames got %d want 254", free.FreeFrames)
	}
	if diff := cmp.Diff([]FrameRange{{Start: 2, End: 256}}, free.Ranges); diff != "" {
		t.Errorf("free ranges mismatch (-want +got):\n%s", diff)
	}
	checkInvariants(t, k)

	if err := k.ExitProcess(pid); err != vmerr.NotRunning {
		t.Errorf("second ExitProcess got %v want %v", err, vmerr.NotRunning)
	}
	if _, err := k.Mappings(pid); err != vmerr.NotRunning {
		t.Errorf("Mappings after exit got %v want %v", err, vmerr.NotRunning)
	}
	if err := k.Read(pid, 0, make([]byte, 1)); err != vmerr.NotRunning {
		t.Errorf("Read after exit got %v want %v", err, vmerr.NotRunning)
	}
	if err := k.Write(pid, 0, make([]byte, 1)); err != vmerr.NotRunning {
		t.Errorf("Write after exit got %v want %v", err, vmerr.NotRunning)
	}
}

func TestNotRunningPIDs(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	for _, pid := range []PID{-1, 0, 7, 8, 1000} {
		if err := k.ExitProcess(pid); err != vmerr.NotRunning {
			t.Errorf("ExitProcess(%d) got %v want %v", pid, err, vmerr.NotRunning)
		}
		if _, err := k.Mappings(pid); err != vmerr.NotRunning {
			t.Errorf("Mappings(%d) got %v want %v", pid, err, vmerr.NotRunning)
		}
	}
}

func TestFailuresAreCounted(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	pid := mustCreate(t, k, 64)
	if _, err := k.Mappings(pid + 1); err != vmerr.NotRunning {
		t.Fatalf("Mappings(%d) got %v want %v", pid+1, err, vmerr.NotRunning)
	}
	if err := k.ExitProcess(pid + 1); err != vmerr.NotRunning {
		t.Fatalf("ExitProcess(%d) got %v want %v", pid+1, err, vmerr.NotRunning)
	}
	if err := k.Read(pid, 64, make([]byte, 1)); err != vmerr.OutOfBounds {
		t.Fatalf("Read past the end got %v want %v", err, vmerr.OutOfBounds)
	}
	want := map[string]uint64{"NotRunning": 2, "OutOfBounds": 1}
	if diff := cmp.Diff(want, k.Stats().Failures); diff != "" {
		t.Errorf("Failures mismatch (-want +got):\n%s", diff)
	}
}

func TestExitZeroesFrames(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	pid := mustCreate(t, k, 64)
	if err := k.Write(pid, 0, pattern(64, 9)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := k.ExitProcess(pid); err != nil {
		t.Fatalf("ExitProcess failed: %v", err)
	}

	// First fit hands the same frames to the next process.
	pid = mustCreate(t, k, 64)
	got := make([]byte, 64)
	if err := k.Read(pid, 0, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, make([]byte, 64)) {
		t.Errorf("recycled frames leak data: %v", got)
	}
	maps, _ := k.Mappings(pid)
	if maps[0].Frame != 0 || maps[1].Frame != 1 {
		t.Errorf("recycled frames got %v, want frames 0 and 1", maps)
	}
}

func TestBoundsRejection(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	pid := mustCreate(t, k, 100)
	if err := k.Write(pid, 0, []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	for _, tc := range []struct {
		name   string
		addr   vaddr.Addr
		length int
	}{
		{name: "empty", addr: 0, length: 0},
		{name: "start at size", addr: 100, length: 1},
		{name: "start past size", addr: 4096, length: 1},
		{name: "end past size", addr: 90, length: 11},
		{name: "end past page-rounded size", addr: 100, length: 28},
		{name: "wrapping end", addr: ^vaddr.Addr(0), length: 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			before := k.Snapshot()
			if err := k.Read(pid, tc.addr, make([]byte, tc.length)); err != vmerr.OutOfBounds {
				t.Errorf("Read(%d, %d) got %v want %v", tc.addr, tc.length, err, vmerr.OutOfBounds)
			}
			if err := k.Write(pid, tc.addr, make([]byte, tc.length)); err != vmerr.OutOfBounds {
				t.Errorf("Write(%d, %d) got %v want %v", tc.addr, tc.length, err, vmerr.OutOfBounds)
			}
			after := k.Snapshot()
			if diff := cmp.Diff(before, after, cmpopts.IgnoreFields(State{}, "Stats")); diff != "" {
				t.Errorf("rejected access mutated the kernel (-before +after):\n%s", diff)
			}
		})
	}

	if err := k.Read(pid, 99, make([]byte, 1)); err != nil {
		t.Errorf("Read of the last byte failed: %v", err)
	}
}

func TestLazyMappingIsStable(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	pid := mustCreate(t, k, 512)

	buf := make([]byte, 70)
	if err := k.Read(pid, 100, buf); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	first, err := k.Mappings(pid)
	if err != nil {
		t.Fatalf("Mappings failed: %v", err)
	}
	freeAfterFirst := k.FreeSpace().FreeFrames

	if err := k.Read(pid, 100, buf); err != nil {
		t.Fatalf("second Read failed: %v", err)
	}
	second, _ := k.Mappings(pid)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second Read changed mappings (-first +second):\n%s", diff)
	}
	if got := k.FreeSpace().FreeFrames; got != freeAfterFirst {
		t.Errorf("second Read consumed frames: %d free, want %d", got, freeAfterFirst)
	}

	// [100, 170) touches pages 3, 4 and 5.
	for _, m := range first {
		wantPresent := m.Page >= 3 && m.Page <= 5
		if m.Present != wantPresent {
			t.Errorf("page %d present=%t, want %t", m.Page, m.Present, wantPresent)
		}
	}
	if first[3].Frame != 0 || first[4].Frame != 1 || first[5].Frame != 2 {
		t.Errorf("frames not assigned first fit in page order: %v", first[3:6])
	}
	if got := k.Stats().PageFaults; got != 3 {
		t.Errorf("PageFaults got %d want 3", got)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, tc := range []struct {
		name   string
		addr   vaddr.Addr
		length int
	}{
		{name: "one byte", addr: 0, length: 1},
		{name: "inside one page", addr: 5, length: 20},
		{name: "exactly one page", addr: 32, length: 32},
		{name: "two pages unaligned", addr: 30, length: 4},
		{name: "ends on page boundary", addr: 16, length: 48},
		{name: "starts and ends on boundaries", addr: 64, length: 128},
		{name: "many pages unaligned", addr: 33, length: 400},
		{name: "whole space", addr: 0, length: 512},
		{name: "last byte", addr: 511, length: 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := testKernel(t, DefaultConfig())
			// A neighbour process so frames and pages are not aligned.
			other := mustCreate(t, k, 96)
			if err := k.Write(other, 0, pattern(96, 200)); err != nil {
				t.Fatalf("Write to neighbour failed: %v", err)
			}

			pid := mustCreate(t, k, 512)
			data := pattern(tc.length, byte(tc.addr))
			if err := k.Write(pid, tc.addr, data); err != nil {
				t.Fatalf("Write(%d, %d) failed: %v", tc.addr, tc.length, err)
			}
			got := make([]byte, tc.length)
			if err := k.Read(pid, tc.addr, got); err != nil {
				t.Fatalf("Read(%d, %d) failed: %v", tc.addr, tc.length, err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Read(%d, %d) got %v want %v", tc.addr, tc.length, got, data)
			}

			// Bytes around the range are untouched.
			whole := make([]byte, 512)
			if err := k.Read(pid, 0, whole); err != nil {
				t.Fatalf("Read of whole space failed: %v", err)
			}
			want := make([]byte, 512)
			copy(want[tc.addr:], data)
			if !bytes.Equal(whole, want) {
				t.Errorf("write leaked outside [%d, %d)", tc.addr, int(tc.addr)+tc.length)
			}

			neighbour := make([]byte, 96)
			if err := k.Read(other, 0, neighbour); err != nil {
				t.Fatalf("Read of neighbour failed: %v", err)
			}
			if !bytes.Equal(neighbour, pattern(96, 200)) {
				t.Errorf("neighbour process memory changed")
			}
			checkInvariants(t, k)
		})
	}
}

func TestNoFreeFrameKeepsPartialMapping(t *testing.T) {
	k := testKernel(t, Config{KernelSpaceSize: 256, VirtualSpaceSize: 256, PageSize: 32, MaxProcessNum: 2})
	pid := mustCreate(t, k, 128)

	// Admission by page count means exhaustion cannot be reached through the
	// API alone; occupy frames behind the allocator's back.
	k.mu.Lock()
	for f := uint32(0); f < 6; f++ {
		k.frames.Add(f)
	}
	k.mu.Unlock()

	data := pattern(128, 1)
	if err := k.Write(pid, 0, data); err != vmerr.NoFreeFrame {
		t.Fatalf("Write got %v want %v", err, vmerr.NoFreeFrame)
	}

	maps, err := k.Mappings(pid)
	if err != nil {
		t.Fatalf("Mappings failed: %v", err)
	}
	want := []Mapping{
		{Page: 0, Frame: 6, Present: true},
		{Page: 1, Frame: 7, Present: true},
		{Page: 2, Frame: -1},
		{Page: 3, Frame: -1},
	}
	if diff := cmp.Diff(want, maps); diff != "" {
		t.Errorf("Mappings mismatch (-want +got):\n%s", diff)
	}

	// The pages mapped before the failure were written.
	got := make([]byte, 64)
	if err := k.Read(pid, 0, got); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !bytes.Equal(got, data[:64]) {
		t.Errorf("partial write got %v want %v", got, data[:64])
	}
	if got := k.Stats().Failures["NoFreeFrame"]; got != 1 {
		t.Errorf("NoFreeFrame failures got %d want 1", got)
	}

	// Exit releases the two mapped frames and nothing else.
	if err := k.ExitProcess(pid); err != nil {
		t.Fatalf("ExitProcess failed: %v", err)
	}
	if diff := cmp.Diff([]int{6, 7}, k.FreeSpace().Frames); diff != "" {
		t.Errorf("free frames mismatch (-want +got):\n%s", diff)
	}
}

func TestFirstFitReusesLowestFrames(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	a := mustCreate(t, k, 128)
	b := mustCreate(t, k, 128)
	if err := k.Read(a, 0, make([]byte, 128)); err != nil { // frames 0-3
		t.Fatalf("Read failed: %v", err)
	}
	if err := k.Read(b, 0, make([]byte, 64)); err != nil { // frames 4-5
		t.Fatalf("Read failed: %v", err)
	}
	if err := k.ExitProcess(a); err != nil {
		t.Fatalf("ExitProcess failed: %v", err)
	}
	if err := k.Read(b, 64, make([]byte, 64)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	maps, _ := k.Mappings(b)
	got := []int{maps[0].Frame, maps[1].Frame, maps[2].Frame, maps[3].Frame}
	if diff := cmp.Diff([]int{4, 5, 0, 1}, got); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	free := k.FreeSpace()
	if diff := cmp.Diff([]FrameRange{{2, 4}, {6, 256}}, free.Ranges); diff != "" {
		t.Errorf("free ranges mismatch (-want +got):\n%s", diff)
	}
	checkInvariants(t, k)
}

// TestDemoScenario follows the demonstration driver.
func TestDemoScenario(t *testing.T) {
	k := testKernel(t, DefaultConfig())

	if _, err := k.CreateProcess(513); err != vmerr.InvalidSize {
		t.Fatalf("CreateProcess(513) got %v want %v", err, vmerr.InvalidSize)
	}
	var pids []PID
	for _, size := range []int{512, 256, 128, 128} {
		pids = append(pids, mustCreate(t, k, size))
	}
	if diff := cmp.Diff([]PID{0, 1, 2, 3}, pids); diff != "" {
		t.Fatalf("pids mismatch (-want +got):\n%s", diff)
	}

	if err := k.Read(pids[1], 0, make([]byte, 234)); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	maps, _ := k.Mappings(pids[1])
	for _, m := range maps {
		if m.Present != (m.Page < 8) {
			t.Errorf("page %d present=%t", m.Page, m.Present)
		}
	}
	if got := k.FreeSpace().FreeFrames; got != 248 {
		t.Errorf("FreeFrames got %d want 248", got)
	}

	if err := k.Write(pids[3], 0, make([]byte, 128)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := k.FreeSpace().FreeFrames; got != 244 {
		t.Errorf("FreeFrames got %d want 244", got)
	}
	checkInvariants(t, k)

	for _, pid := range []PID{2, 3, 1, 0} {
		if err := k.ExitProcess(pid); err != nil {
			t.Fatalf("ExitProcess(%d) failed: %v", pid, err)
		}
		checkInvariants(t, k)
	}
	if got := k.FreeSpace().FreeFrames; got != 256 {
		t.Errorf("FreeFrames got %d want 256", got)
	}
	if got := k.AllocatedPages(); got != 0 {
		t.Errorf("AllocatedPages got %d want 0", got)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	k := testKernel(t, DefaultConfig())
	pid := mustCreate(t, k, 64)
	if err := k.Write(pid, 0, []byte("hi")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	s := k.Snapshot()
	if diff := cmp.Diff([]PID{0}, s.Running); diff != "" {
		t.Errorf("Running mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0}, s.OccupiedFrames); diff != "" {
		t.Errorf("OccupiedFrames mismatch (-want +got):\n%s", diff)
	}
	s.Descriptors[pid].PageTable.Entries[1] = PTE{Frame: 9, Present: true}
	s.Stats.Failures["x"] = 1

	maps, _ := k.Mappings(pid)
	if maps[1].Present {
		t.Errorf("mutating a snapshot changed the kernel")
	}
	if _, ok := k.Stats().Failures["x"]; ok {
		t.Errorf("mutating snapshot stats changed the kernel")
	}
}

func TestRelease(t *testing.T) {
	k, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	pid := mustCreate(t, k, 64)
	if err := k.Write(pid, 0, []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	k.Release()
	k.Release()

	if _, err := k.CreateProcess(32); err != vmerr.KernelReleased {
		t.Errorf("CreateProcess after Release got %v want %v", err, vmerr.KernelReleased)
	}
	if err := k.Read(pid, 0, make([]byte, 1)); err != vmerr.KernelReleased {
		t.Errorf("Read after Release got %v want %v", err, vmerr.KernelReleased)
	}
	if err := k.ExitProcess(pid); err != vmerr.KernelReleased {
		t.Errorf("ExitProcess after Release got %v want %v", err, vmerr.KernelReleased)
	}
	if got := k.FreeSpace().FreeFrames; got != 256 {
		t.Errorf("FreeFrames after Release got %d want 256", got)
	}
	if s := k.Snapshot(); !s.Released || len(s.Running) != 0 {
		t.Errorf("Snapshot after Release got %+v", s)
	}
}

// TestRandomOperations applies a random operation mix and checks the
// invariants after every step.
func TestRandomOperations(t *testing.T) {
	cfg := Config{KernelSpaceSize: 1024, VirtualSpaceSize: 256, PageSize: 16, MaxProcessNum: 6}
	k := testKernel(t, cfg)
	rng := rand.New(rand.NewSource(1))
	shadow := make(map[PID][]byte)

	for step := 0; step < 2000; step++ {
		switch op := rng.Intn(4); op {
		case 0:
			size := rng.Intn(cfg.VirtualSpaceSize+16) - 8
			pid, err := k.CreateProcess(size)
			if err == nil {
				shadow[pid] = make([]byte, size)
			}
		case 1:
			pid := PID(rng.Intn(cfg.MaxProcessNum))
			err := k.ExitProcess(pid)
			if _, ok := shadow[pid]; ok != (err == nil) {
				t.Fatalf("step %d: ExitProcess(%d) got %v, running=%t", step, pid, err, ok)
			}
			delete(shadow, pid)
		case 2, 3:
			pid := PID(rng.Intn(cfg.MaxProcessNum))
			mem, ok := shadow[pid]
			if !ok || len(mem) == 0 {
				continue
			}
			addr := rng.Intn(len(mem))
			length := 1 + rng.Intn(len(mem)-addr)
			if op == 2 {
				data := pattern(length, byte(step))
				if err := k.Write(pid, vaddr.Addr(addr), data); err != nil {
					t.Fatalf("step %d: Write(%d, %d, %d) failed: %v", step, pid, addr, length, err)
				}
				copy(mem[addr:], data)
			} else {
				got := make([]byte, length)
				if err := k.Read(pid, vaddr.Addr(addr), got); err != nil {
					t.Fatalf("step %d: Read(%d, %d, %d) failed: %v", step, pid, addr, length, err)
				}
				if !bytes.Equal(got, mem[addr:addr+length]) {
					t.Fatalf("step %d: Read(%d, %d, %d) got %v want %v", step, pid, addr, length, got, mem[addr:addr+length])
				}
			}
		}
		if err := k.CheckInvariants(); err != nil {
			t.Fatalf("step %d: %v", step, err)
		}
	}
}

func TestConcurrentOperations(t *testing.T) {
	cfg := Config{KernelSpaceSize: 4096, VirtualSpaceSize: 512, PageSize: 32, MaxProcessNum: 8}
	k := testKernel(t, cfg)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				pid, err := k.CreateProcess(64 + w*32)
				if err != nil {
					if err == vmerr.NoFreeProcessSlot || err == vmerr.OutOfKernelMemory {
						continue
					}
					return fmt.Errorf("worker %d: CreateProcess: %w", w, err)
				}
				data := pattern(64, byte(w))
				if err := k.Write(pid, 0, data); err != nil {
					return fmt.Errorf("worker %d: Write: %w", w, err)
				}
				got := make([]byte, 64)
				if err := k.Read(pid, 0, got); err != nil {
					return fmt.Errorf("worker %d: Read: %w", w, err)
				}
				if !bytes.Equal(got, data) {
					return fmt.Errorf("worker %d: process %d read back %v", w, pid, got)
				}
				if err := k.ExitProcess(pid); err != nil {
					return fmt.Errorf("worker %d: ExitProcess: %w", w, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	checkInvariants(t, k)
	if got := k.FreeSpace().FreeFrames; got != cfg.Frames() {
		t.Errorf("FreeFrames got %d want %d", got, cfg.Frames())
	}
}
