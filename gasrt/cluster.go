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

// Package gasrt is an in-process GAS runtime. A Cluster simulates a group of
// ranks, each owning an anonymous memory segment that backs a disjoint range
// of the global address space.
//
// Participants implement gasshim.Runtime and gasshim.SizeQuerier, and can
// export their entry points as a gasshim.SymbolTable. Blocks carry the same
// 8 byte size header the shim reads when no size query is available.
package gasrt

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"go.yuchanns.xyz/gasshim"
)

// rangeShift spaces rank ranges 1TiB apart, rank r starting at (r+1)<<rangeShift
// so that no range ever contains gasshim.NilGA.
const rangeShift = 40

// MaxSegmentSize is the largest segment a rank can own.
const MaxSegmentSize = 1 << rangeShift

var (
	ErrRanks       = errors.New("cluster needs at least one rank")
	ErrSegmentSize = errors.New("invalid segment size")
)

// Fault makes a participant misbehave, for exercising the shim fallbacks.
type Fault uint32

const (
	FaultNone Fault = iota
	// FaultExhausted makes every allocation return gasshim.NilGA.
	FaultExhausted
	// FaultRemote serves allocations from the next rank, so the returned GA
	// falls outside the range of the requesting rank.
	FaultRemote
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultExhausted:
		return "exhausted"
	case FaultRemote:
		return "remote"
	}
	return fmt.Sprintf("Fault(%d)", uint32(f))
}

// ParseFault is the inverse of Fault.String.
func ParseFault(s string) (Fault, error) {
	for _, f := range []Fault{FaultNone, FaultExhausted, FaultRemote} {
		if f.String() == s {
			return f, nil
		}
	}
	return FaultNone, fmt.Errorf("unknown fault %q", s)
}

// Cluster is a set of ranks sharing one global address space.
type Cluster struct {
	segmentSize uint64
	parts       []*Participant
}

// NewCluster maps one segment of segmentSize bytes per rank.
func NewCluster(ranks int, segmentSize uint64) (*Cluster, error) {
	if ranks < 1 {
		return nil, ErrRanks
	}
	if segmentSize < granule+overhead || segmentSize > MaxSegmentSize {
		return nil, fmt.Errorf("%w: %d", ErrSegmentSize, segmentSize)
	}
	c := &Cluster{segmentSize: segmentSize}
	for rank := range ranks {
		seg, err := unix.Mmap(-1, 0, int(segmentSize),
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("map segment of rank %d: %w", rank, err)
		}
		c.parts = append(c.parts, &Participant{
			c:    c,
			rank: rank,
			seg:  seg,
			heap: newHeap(unsafe.Pointer(&seg[0]), segmentSize),
		})
	}
	return c, nil
}

// Close unmaps every segment. Pointers into the cluster become invalid.
func (c *Cluster) Close() error {
	var errs []error
	for _, p := range c.parts {
		if p.seg == nil {
			continue
		}
		if err := unix.Munmap(p.seg); err != nil {
			errs = append(errs, fmt.Errorf("unmap segment of rank %d: %w", p.rank, err))
		}
		p.seg = nil
	}
	return errors.Join(errs...)
}

// Ranks returns the number of participants.
func (c *Cluster) Ranks() int { return len(c.parts) }

// SegmentSize returns the byte length of each participant range.
func (c *Cluster) SegmentSize() uint64 { return c.segmentSize }

// Participant returns the runtime view of rank.
func (c *Cluster) Participant(rank int) *Participant {
	if rank < 0 || rank >= len(c.parts) {
		return nil
	}
	return c.parts[rank]
}

func rangeBase(rank int) gasshim.GA {
	return gasshim.GA(uint64(rank+1) << rangeShift)
}

// owner returns the participant owning ga and the offset of ga in its segment.
func (c *Cluster) owner(ga gasshim.GA) (*Participant, uint64, bool) {
	idx := int(uint64(ga)>>rangeShift) - 1
	if idx < 0 || idx >= len(c.parts) {
		return nil, 0, false
	}
	off := uint64(ga - rangeBase(idx))
	if off >= c.segmentSize {
		return nil, 0, false
	}
	return c.parts[idx], off, true
}

// Participant is one rank of a Cluster.
type Participant struct {
	c     *Cluster
	rank  int
	seg   []byte
	heap  *heap
	fault atomic.Uint32

	allocs    atomic.Uint64
	frees     atomic.Uint64
	badFrees  atomic.Uint64
	exhausted atomic.Uint64
}

var (
	_ gasshim.Runtime     = (*Participant)(nil)
	_ gasshim.SizeQuerier = (*Participant)(nil)
)

func (p *Participant) Rank() int { return p.rank }

func (p *Participant) RangeBase(rank int) gasshim.GA { return rangeBase(rank) }

func (p *Participant) RangeSize() uint64 { return p.c.segmentSize }

// Resolve returns the local pointer backing ga, or nil if ga is not
// resident on this rank.
func (p *Participant) Resolve(ga gasshim.GA) unsafe.Pointer {
	owner, off, ok := p.c.owner(ga)
	if !ok || owner != p || p.seg == nil {
		return nil
	}
	return unsafe.Add(unsafe.Pointer(&p.seg[0]), off)
}

// Alloc allocates size bytes in the range of rank.
func (p *Participant) Alloc(size uint64, rank int) gasshim.GA {
	switch Fault(p.fault.Load()) {
	case FaultExhausted:
		p.exhausted.Add(1)
		return gasshim.NilGA
	case FaultRemote:
		rank = (rank + 1) % len(p.c.parts)
	}
	target := p.c.Participant(rank)
	if target == nil {
		return gasshim.NilGA
	}
	off, ok := target.heap.alloc(size)
	if !ok {
		p.exhausted.Add(1)
		return gasshim.NilGA
	}
	p.allocs.Add(1)
	return rangeBase(rank) + gasshim.GA(off)
}

// Free releases ga on whichever rank owns it.
func (p *Participant) Free(ga gasshim.GA) {
	if ga == gasshim.NilGA {
		return
	}
	owner, off, ok := p.c.owner(ga)
	if !ok || !owner.heap.release(off) {
		p.badFrees.Add(1)
		return
	}
	p.frees.Add(1)
}

// SizeOf returns the usable size of the live block at ga.
func (p *Participant) SizeOf(ga gasshim.GA) (uint64, bool) {
	owner, off, ok := p.c.owner(ga)
	if !ok {
		return 0, false
	}
	return owner.heap.sizeOf(off)
}

// SetFault changes how subsequent allocations behave.
func (p *Participant) SetFault(f Fault) {
	p.fault.Store(uint32(f))
}

// Usage describes the allocations made through, and resident on, a participant.
type Usage struct {
	Rank      int
	InUse     uint64 // usable bytes of live blocks resident on this rank
	Blocks    int    // live blocks resident on this rank
	Allocs    uint64 // successful Alloc calls made through this rank
	Frees     uint64
	BadFrees  uint64 // frees of unknown or already released GAs
	Exhausted uint64
}

func (p *Participant) Usage() Usage {
	inUse, blocks := p.heap.stats()
	return Usage{
		Rank:      p.rank,
		InUse:     inUse,
		Blocks:    blocks,
		Allocs:    p.allocs.Load(),
		Frees:     p.frees.Load(),
		BadFrees:  p.badFrees.Load(),
		Exhausted: p.exhausted.Load(),
	}
}
