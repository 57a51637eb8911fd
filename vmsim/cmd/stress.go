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

package cmd

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"vmsim.dev/vmsim/pkg/errors/vmerr"
	"vmsim.dev/vmsim/pkg/log"
	"vmsim.dev/vmsim/pkg/vaddr"
	"vmsim.dev/vmsim/pkg/vmm"
	"vmsim.dev/vmsim/vmsim/cmd/util"
	"vmsim.dev/vmsim/vmsim/config"
)

// Stress implements subcommands.Command for the "stress" command.
type Stress struct {
	workers int
	ops     int
	seed    int64
	retry   time.Duration
	retries uint64

	// out overrides stdout.
	out io.Writer
}

// Name implements subcommands.Command.Name.
func (*Stress) Name() string {
	return "stress"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stress) Synopsis() string {
	return "run concurrent random operations against one kernel"
}

// Usage implements subcommands.Command.Usage.
func (*Stress) Usage() string {
	return `stress [flags] - run concurrent random operations against one kernel.

Each worker repeatedly creates a process, writes and reads back random ranges
of it and exits it. When no slot or memory is available the worker backs off
and retries. Kernel invariants are verified at the end.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Stress) SetFlags(f *flag.FlagSet) {
	f.IntVar(&s.workers, "workers", 4, "number of concurrent workers.")
	f.IntVar(&s.ops, "ops", 100, "number of processes each worker creates.")
	f.Int64Var(&s.seed, "seed", 1, "random seed. Worker i uses seed+i.")
	f.DurationVar(&s.retry, "retry-interval", time.Millisecond, "wait between attempts to create a process.")
	f.Uint64Var(&s.retries, "retries", 1000, "attempts to create a process before giving up on it.")
}

// stressResult counts what one worker did.
type stressResult struct {
	created  int
	gaveUp   int
	verified int
}

// Execute implements subcommands.Command.Execute.
func (s *Stress) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 || s.workers <= 0 || s.ops < 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	k, err := vmm.New(conf.Kernel)
	if err != nil {
		return util.Errorf("creating kernel: %v", err)
	}
	defer k.Release()

	results := make([]stressResult, s.workers)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.workers; w++ {
		g.Go(func() error {
			return s.work(gctx, k, w, &results[w])
		})
	}
	if err := g.Wait(); err != nil {
		return util.Errorf("stress failed: %v", err)
	}
	if err := k.CheckInvariants(); err != nil {
		return util.Errorf("invariant violated: %v", err)
	}
	if free := k.FreeSpace(); free.FreeFrames != free.TotalFrames {
		return util.Errorf("%d of %d frames still occupied after all processes exited", free.TotalFrames-free.FreeFrames, free.TotalFrames)
	}

	var total stressResult
	for _, r := range results {
		total.created += r.created
		total.gaveUp += r.gaveUp
		total.verified += r.verified
	}
	rep := newReporter(conf, s.out)
	rep.Message("%d workers: %d processes, %d transfers verified, %d creations abandoned in %v",
		s.workers, total.created, total.verified, total.gaveUp, time.Since(start).Round(time.Millisecond))
	if err := rep.Stats(k.Stats()); err != nil {
		return util.Errorf("writing report: %v", err)
	}
	return subcommands.ExitSuccess
}

// work runs one worker. Each worker only touches processes it created, so
// every read can be checked against a local copy of the process memory.
func (s *Stress) work(ctx context.Context, k *vmm.Kernel, w int, res *stressResult) error {
	rng := rand.New(rand.NewSource(s.seed + int64(w)))
	cfg := k.Config()

	for i := 0; i < s.ops; i++ {
		size := 1 + rng.Intn(cfg.VirtualSpaceSize)
		var pid vmm.PID
		create := func() error {
			var err error
			pid, err = k.CreateProcess(size)
			switch err {
			case nil, vmerr.NoFreeProcessSlot, vmerr.OutOfKernelMemory:
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retry), s.retries), ctx)
		if err := backoff.Retry(create, b); err != nil {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err == vmerr.NoFreeProcessSlot || err == vmerr.OutOfKernelMemory {
				log.Debugf("Worker %d: giving up on a process of size %d: %v", w, size, err)
				res.gaveUp++
				continue
			}
			return fmt.Errorf("worker %d: create(%d): %w", w, size, err)
		}
		res.created++

		verified, err := exercise(k, pid, size, rng)
		res.verified += verified
		if err != nil {
			return fmt.Errorf("worker %d: process %d: %w", w, pid, err)
		}
		if err := k.ExitProcess(pid); err != nil {
			return fmt.Errorf("worker %d: exit(%d): %w", w, pid, err)
		}
	}
	return nil
}

// exercise writes random ranges of pid and reads them back.
func exercise(k *vmm.Kernel, pid vmm.PID, size int, rng *rand.Rand) (int, error) {
	shadow := make([]byte, size)
	verified := 0
	for n := 1 + rng.Intn(8); n > 0; n-- {
		addr := rng.Intn(size)
		length := 1 + rng.Intn(size-addr)
		data := make([]byte, length)
		rng.Read(data)
		if err := k.Write(pid, vaddr.Addr(addr), data); err != nil {
			return verified, fmt.Errorf("write(%#x, %d): %w", addr, length, err)
		}
		copy(shadow[addr:], data)

		addr = rng.Intn(size)
		length = 1 + rng.Intn(size-addr)
		got := make([]byte, length)
		if err := k.Read(pid, vaddr.Addr(addr), got); err != nil {
			return verified, fmt.Errorf("read(%#x, %d): %w", addr, length, err)
		}
		if !bytes.Equal(got, shadow[addr:addr+length]) {
			return verified, fmt.Errorf("read(%#x, %d) returned stale or foreign data", addr, length)
		}
		verified++
	}
	return verified, nil
}
