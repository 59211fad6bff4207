// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"go.yuchanns.xyz/gasshim"
	"go.yuchanns.xyz/gasshim/gasrt"
	"go.yuchanns.xyz/gasshim/internal/lifetime"
	"go.yuchanns.xyz/gasshim/libc"
)

var (
	ranksFlag = &cli.IntFlag{
		Name:  "ranks",
		Usage: "number of participants",
		Value: 4,
	}
	segmentFlag = &cli.StringFlag{
		Name:  "segment",
		Usage: "size of the range owned by each participant",
		Value: "64MiB",
	}
	opsFlag = &cli.IntFlag{
		Name:  "ops",
		Usage: "allocations per participant",
		Value: 100_000,
	}
	maxSizeFlag = &cli.StringFlag{
		Name:  "max-size",
		Usage: "largest allocation request",
		Value: "256KiB",
	}
	lifetimeFlag = &cli.UintFlag{
		Name:  "lifetime",
		Usage: "longest block lifetime, in operations",
		Value: 512,
	}
	faultFlag = &cli.StringFlag{
		Name:  "fault",
		Usage: "fault injected into every participant (none, exhausted, remote)",
		Value: gasrt.FaultNone.String(),
	}
	seedFlag = &cli.Uint64Flag{
		Name:  "seed",
		Usage: "workload seed",
		Value: 1,
	}

	simulateCommand = &cli.Command{
		Name:  "simulate",
		Usage: "Run a random allocation workload on an in-process cluster",
		Description: `Every participant gets its own shim bound to its own range and runs
a stream of allocations, resizes and delayed frees. Block contents are
checked before release.`,
		Flags: []cli.Flag{
			ranksFlag,
			segmentFlag,
			opsFlag,
			maxSizeFlag,
			lifetimeFlag,
			faultFlag,
			seedFlag,
		},
		Action: simulate,
	}
)

type workload struct {
	ops      int
	maxSize  uint64
	lifetime uint32
	seed     uint64
}

// block is a live allocation waiting for its lifetime to run out.
type block struct {
	ptr  unsafe.Pointer
	size uint
	seed byte
}

func simulate(ctx *cli.Context) error {
	c, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	policy, err := c.Policy()
	if err != nil {
		return err
	}
	log, err := newLogger(c)
	if err != nil {
		return err
	}
	segment, err := humanize.ParseBytes(ctx.String(segmentFlag.Name))
	if err != nil {
		return fmt.Errorf("segment: %w", err)
	}
	maxSize, err := humanize.ParseBytes(ctx.String(maxSizeFlag.Name))
	if err != nil {
		return fmt.Errorf("max-size: %w", err)
	}
	fault, err := gasrt.ParseFault(ctx.String(faultFlag.Name))
	if err != nil {
		return err
	}
	w := workload{
		ops:      ctx.Int(opsFlag.Name),
		maxSize:  max(maxSize, 1),
		lifetime: uint32(max(ctx.Uint(lifetimeFlag.Name), 1)),
		seed:     ctx.Uint64(seedFlag.Name),
	}

	cluster, err := gasrt.NewCluster(ctx.Int(ranksFlag.Name), segment)
	if err != nil {
		return err
	}
	defer cluster.Close()

	shims := make([]*gasshim.Shim, cluster.Ranks())
	for rank := range shims {
		part := cluster.Participant(rank)
		part.SetFault(fault)
		s := gasshim.New(libc.Resolve, gasshim.WithLogger(log.With("rank", rank)))
		if err := s.Initialize(part, policy); err != nil {
			return err
		}
		shims[rank] = s
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx.Context)
	for rank, s := range shims {
		g.Go(func() error {
			return w.run(gctx, s, uint64(rank))
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	for _, s := range shims {
		s.LogStats(ctx.Context)
		s.Shutdown()
	}
	return report(ctx, cluster, shims, elapsed)
}

func (w workload) run(ctx context.Context, s gasshim.Reallocator, rank uint64) error {
	wheel := lifetime.New[block](s, 0)

	var bad error
	release := func(b *block) {
		if bad == nil && !verify(b) {
			bad = fmt.Errorf("rank %d: block %p of %s corrupted", rank, b.ptr, humanize.IBytes(uint64(b.size)))
		}
		s.Free(b.ptr)
	}

	err := w.churn(ctx, s, rank, wheel, release, &bad)
	// Blocks still on the wheel are verified as they are drained.
	wheel.Destroy(release)
	if err != nil {
		return err
	}
	return bad
}

func (w workload) churn(ctx context.Context, s gasshim.Reallocator, rank uint64, wheel *lifetime.Wheel[block], release func(*block), bad *error) error {
	rng := rand.New(rand.NewPCG(w.seed, rank))
	for i := range w.ops {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		size := uint(w.size(rng))
		p := s.Alloc(size)
		if p == nil {
			return fmt.Errorf("rank %d: out of memory allocating %s", rank, humanize.IBytes(uint64(size)))
		}
		b := block{ptr: p, size: size, seed: byte(rng.Uint32())}
		fill(&b)

		if rng.IntN(4) == 0 {
			grown := size + uint(w.size(rng))
			np := s.Realloc(b.ptr, grown)
			if np == nil {
				s.Free(b.ptr)
				return fmt.Errorf("rank %d: out of memory growing to %s", rank, humanize.IBytes(uint64(grown)))
			}
			b.ptr = np
			if !verify(&b) {
				s.Free(b.ptr)
				return fmt.Errorf("rank %d: resize to %s lost data", rank, humanize.IBytes(uint64(grown)))
			}
			b.size = grown
			fill(&b)
		}

		if err := wheel.Schedule(b, rng.Uint32N(w.lifetime)); err != nil {
			s.Free(b.ptr)
			return fmt.Errorf("rank %d: %w", rank, err)
		}
		wheel.Advance(1, release)
		if *bad != nil {
			return nil
		}
	}
	return nil
}

// size draws small sizes most of the time, with a long tail up to maxSize.
func (w workload) size(rng *rand.Rand) uint64 {
	if rng.IntN(8) != 0 {
		return 1 + rng.Uint64N(min(w.maxSize, 512))
	}
	return 1 + rng.Uint64N(w.maxSize)
}

const checked = 64

func fill(b *block) {
	buf := unsafe.Slice((*byte)(b.ptr), min(b.size, checked))
	for i := range buf {
		buf[i] = b.seed + byte(i)
	}
}

func verify(b *block) bool {
	buf := unsafe.Slice((*byte)(b.ptr), min(b.size, checked))
	for i := range buf {
		if buf[i] != b.seed+byte(i) {
			return false
		}
	}
	return true
}

func report(ctx *cli.Context, cluster *gasrt.Cluster, shims []*gasshim.Shim, elapsed time.Duration) error {
	table := tablewriter.NewWriter(ctx.App.Writer)
	table.SetHeader([]string{"Rank", "Global", "System", "Exhausted", "Strays", "In-place", "Moved", "Copied", "Resident", "Bad frees"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for rank, s := range shims {
		st := s.Stats()
		u := cluster.Participant(rank).Usage()
		table.Append([]string{
			strconv.Itoa(rank),
			humanize.Comma(int64(st.GlobalAllocs)),
			humanize.Comma(int64(st.SystemAllocs)),
			humanize.Comma(int64(st.Exhausted)),
			humanize.Comma(int64(st.Strays)),
			humanize.Comma(int64(st.InPlace)),
			humanize.Comma(int64(st.Moved)),
			humanize.IBytes(st.BytesCopied),
			humanize.IBytes(u.InUse),
			strconv.FormatUint(u.BadFrees, 10),
		})
	}
	table.Render()

	_, err := fmt.Fprintf(ctx.App.Writer, "%d ranks, %s ops in %v\n",
		len(shims), humanize.Comma(int64(ctx.Int(opsFlag.Name)*len(shims))), elapsed.Round(time.Millisecond))
	return err
}
