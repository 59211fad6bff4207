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

// Package gasshim routes manual memory allocations either to the global
// address space (GAS) allocator of a distributed runtime or to the system
// allocator.
//
// A Shim sits in front of both allocators. Once initialized against a
// Runtime it owns the participant range of the calling rank: requests whose
// size tier is enabled by the Policy are served from the global allocator and
// translated into local pointers, everything else (and every global failure)
// falls back to the system allocator. Free and Realloc dispatch on range
// membership, so pointers from either side can be mixed freely.
//
// # Concurrency
//
// A Shim takes no locks. Bootstrap state is published atomically and the
// system allocator is resolved exactly once on first use; both allocators are
// expected to be safe for concurrent use on their own.
//
// # Example
//
//	s := gasshim.New(libc.Resolve)
//	if err := s.Initialize(rt, gasshim.Policy{Small: true, SmallThreshold: 4096}); err != nil {
//	    // s keeps passing everything through to libc
//	}
//	p := s.Alloc(128)
//	p = s.Realloc(p, 256)
//	s.Free(p)
package gasshim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/aristanetworks/goarista/monotime"
	"github.com/dustin/go-humanize"
)

var ErrNoRuntime = errors.New("no GAS runtime")

// Shim is the interposition layer between callers and the two allocators.
type Shim struct {
	enabled atomic.Bool
	boot    atomic.Pointer[bootstrap]

	resolve    func() Reallocator
	systemOnce sync.Once
	system     Reallocator

	log *slog.Logger
	c   counters
}

type bootstrap struct {
	rt      Runtime
	rank    int
	rng     Range
	policy  Policy
	started uint64
}

// Option configures a Shim.
type Option func(*Shim)

// WithLogger sets the logger used for bootstrap and shutdown events.
func WithLogger(l *slog.Logger) Option {
	return func(s *Shim) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns a disabled Shim. resolve supplies the system allocator; it is
// called at most once, the first time the system allocator is needed, and
// must not allocate through the returned Shim.
func New(resolve func() Reallocator, opts ...Option) *Shim {
	s := &Shim{
		resolve: resolve,
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Shim) sys() Reallocator {
	s.systemOnce.Do(func() {
		s.system = s.resolve()
	})
	return s.system
}

// Initialize binds s to rt and enables global routing under policy p.
//
// It queries the rank of the caller, the range owned by that rank and the
// local memory backing the start of the range. Any failure leaves s disabled
// and is returned; s keeps serving every request from the system allocator.
// Initialize may be called again to rebind s.
func (s *Shim) Initialize(rt Runtime, p Policy) error {
	if rt == nil {
		return s.failClosed(ErrNoRuntime)
	}
	rank := rt.Rank()
	base := rt.RangeBase(rank)
	size := rt.RangeSize()
	rng, err := NewRange(rt.Resolve(base), base, size)
	if err != nil {
		return s.failClosed(err)
	}
	s.boot.Store(&bootstrap{
		rt:      rt,
		rank:    rank,
		rng:     rng,
		policy:  p,
		started: monotime.Now(),
	})
	s.enabled.Store(true)
	s.log.Info("gas allocator enabled",
		"rank", rank,
		"range", rng.String(),
		"size", humanize.IBytes(size),
		"policy", p.String())
	return nil
}

// InitializeSymbols resolves the runtime entry points from tab and then
// initializes s with them.
func (s *Shim) InitializeSymbols(tab SymbolTable, p Policy) error {
	rt, err := ResolveRuntime(tab)
	if err != nil {
		return s.failClosed(err)
	}
	return s.Initialize(rt, p)
}

func (s *Shim) failClosed(err error) error {
	s.enabled.Store(false)
	s.log.Warn("gas allocator disabled", "err", err)
	return err
}

// Shutdown stops routing new allocations to the global allocator.
//
// The participant range stays known, so blocks that were handed out by the
// global allocator are still released and resized through it.
func (s *Shim) Shutdown() {
	if s.enabled.Swap(false) {
		s.log.Info("gas allocator disabled")
	}
}

// Enabled reports whether new allocations may be routed to the global allocator.
func (s *Shim) Enabled() bool {
	return s.enabled.Load()
}

// Range returns the participant range s was initialized with.
func (s *Shim) Range() (Range, bool) {
	b := s.boot.Load()
	if b == nil {
		return Range{}, false
	}
	return b.rng, true
}

// Policy returns the policy s was initialized with.
func (s *Shim) Policy() (Policy, bool) {
	b := s.boot.Load()
	if b == nil {
		return Policy{}, false
	}
	return b.policy, true
}

// Alloc returns a block of at least size bytes, or nil if neither allocator
// can provide one.
func (s *Shim) Alloc(size uint) unsafe.Pointer {
	if size == 0 {
		return s.sysAlloc(0)
	}
	if b := s.active(); b != nil && b.policy.ShouldTryGlobal(uint64(size)) {
		if p := s.globalAlloc(b, uint64(size)); p != nil {
			return p
		}
	}
	return s.sysAlloc(size)
}

// Free releases a block returned by Alloc or Realloc.
func (s *Shim) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if b := s.boot.Load(); b != nil {
		if ga, ok := b.rng.ToGlobal(ptr); ok {
			b.rt.Free(ga)
			s.c.globalFrees.Add(1)
			return
		}
	}
	s.c.systemFrees.Add(1)
	s.sys().Free(ptr)
}

// Realloc resizes the block at ptr to size bytes following the C realloc
// contract. Blocks owned by the global allocator are grown on the global
// allocator when routing is enabled, and on the system allocator otherwise.
func (s *Shim) Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	if ptr == nil {
		return s.Alloc(size)
	}
	b := s.boot.Load()
	if b == nil {
		return s.sysRealloc(ptr, size)
	}
	ga, ok := b.rng.ToGlobal(ptr)
	if !ok {
		return s.sysRealloc(ptr, size)
	}
	if size == 0 {
		b.rt.Free(ga)
		s.c.globalFrees.Add(1)
		return s.Alloc(0)
	}

	cur := blockSize(b.rt, ga, ptr)
	if cur >= uint64(size) {
		s.c.inPlace.Add(1)
		return ptr
	}

	if s.enabled.Load() {
		if np := s.globalAlloc(b, uint64(size)); np != nil {
			s.move(np, ptr, cur)
			b.rt.Free(ga)
			s.c.globalFrees.Add(1)
			return np
		}
	}

	np := s.sysAlloc(size)
	if np == nil {
		return nil
	}
	s.move(np, ptr, cur)
	b.rt.Free(ga)
	s.c.globalFrees.Add(1)
	return np
}

func (s *Shim) active() *bootstrap {
	if !s.enabled.Load() {
		return nil
	}
	return s.boot.Load()
}

// globalAlloc requests size bytes from the global allocator and returns the
// local pointer backing them, or nil. A GA outside the participant range
// cannot be handed to the caller and is released immediately.
func (s *Shim) globalAlloc(b *bootstrap, size uint64) unsafe.Pointer {
	ga := b.rt.Alloc(size, b.rank)
	if ga == NilGA {
		s.c.exhausted.Add(1)
		return nil
	}
	p, ok := b.rng.ToLocal(ga)
	if !ok {
		b.rt.Free(ga)
		s.c.strays.Add(1)
		s.c.globalFrees.Add(1)
		return nil
	}
	s.c.globalAllocs.Add(1)
	return p
}

func (s *Shim) sysAlloc(size uint) unsafe.Pointer {
	s.c.systemAllocs.Add(1)
	return s.sys().Alloc(size)
}

func (s *Shim) sysRealloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	s.c.systemResizes.Add(1)
	return s.sys().Realloc(ptr, size)
}

func (s *Shim) move(dst, src unsafe.Pointer, n uint64) {
	if n > 0 {
		copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
	}
	s.c.moved.Add(1)
	s.c.bytesCopied.Add(n)
}

// LogStats writes the current counters at debug level.
func (s *Shim) LogStats(ctx context.Context) {
	s.log.DebugContext(ctx, "gas allocator stats", "stats", s.Stats())
}
