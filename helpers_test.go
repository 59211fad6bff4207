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

package gasshim_test

import (
	"sync"
	"unsafe"

	"go.yuchanns.xyz/gasshim"
)

// sysStub is a Go heap backed system allocator that counts its calls.
type sysStub struct {
	mu       sync.Mutex
	blocks   map[unsafe.Pointer][]byte
	allocs   int
	frees    int
	reallocs int
	fail     bool
}

func newSysStub() *sysStub {
	return &sysStub{blocks: make(map[unsafe.Pointer][]byte)}
}

func (s *sysStub) Alloc(size uint) unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocs++
	return s.allocLocked(size)
}

func (s *sysStub) allocLocked(size uint) unsafe.Pointer {
	if s.fail {
		return nil
	}
	b := make([]byte, max(size, 1))
	p := unsafe.Pointer(&b[0])
	s.blocks[p] = b
	return p
}

func (s *sysStub) Free(ptr unsafe.Pointer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frees++
	delete(s.blocks, ptr)
}

func (s *sysStub) Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reallocs++
	np := s.allocLocked(size)
	if np == nil {
		return nil
	}
	if old, ok := s.blocks[ptr]; ok {
		copy(s.blocks[np], old)
		delete(s.blocks, ptr)
	}
	return np
}

func (s *sysStub) owns(p unsafe.Pointer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocks[p]
	return ok
}

func (s *sysStub) resolver() func() gasshim.Reallocator {
	return func() gasshim.Reallocator { return s }
}

const (
	stubBase = gasshim.GA(0x1000_0000)
	stubLen  = 1 << 16
)

// rtStub is a bump allocating GAS runtime over a Go heap buffer. It counts
// calls and can be told to fail or to hand out GAs outside its own range.
type rtStub struct {
	mu     sync.Mutex
	mem    []byte
	next   uint64
	rank   int
	allocs int
	freed  []gasshim.GA
	live   map[gasshim.GA]uint64

	failNext  int
	strayNext int
}

func newRTStub() *rtStub {
	return &rtStub{
		mem:  make([]byte, stubLen),
		next: 16,
		rank: 3,
		live: make(map[gasshim.GA]uint64),
	}
}

func (r *rtStub) Rank() int { return r.rank }

func (r *rtStub) RangeBase(rank int) gasshim.GA {
	return stubBase + gasshim.GA(uint64(rank-r.rank)*stubLen)
}

func (r *rtStub) RangeSize() uint64 { return stubLen }

func (r *rtStub) Resolve(ga gasshim.GA) unsafe.Pointer {
	if ga < stubBase || ga >= stubBase+stubLen {
		return nil
	}
	return unsafe.Pointer(&r.mem[ga-stubBase])
}

func (r *rtStub) Alloc(size uint64, rank int) gasshim.GA {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocs++
	if r.failNext > 0 {
		r.failNext--
		return gasshim.NilGA
	}
	usable := (size + 15) &^ 15
	if r.strayNext > 0 {
		r.strayNext--
		return stubBase + stubLen + 0x100
	}
	if r.next+usable > stubLen {
		return gasshim.NilGA
	}
	off := r.next
	r.next += usable + 16
	gasshim.WriteHeader(unsafe.Pointer(&r.mem[off]), usable, 1)
	ga := stubBase + gasshim.GA(off)
	r.live[ga] = usable
	return ga
}

func (r *rtStub) Free(ga gasshim.GA) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freed = append(r.freed, ga)
	delete(r.live, ga)
}

func (r *rtStub) SizeOf(ga gasshim.GA) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.live[ga]
	return n, ok
}

func (r *rtStub) calls() (allocs int, frees int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocs, len(r.freed)
}

// headerOnly hides the SizeOf method of a runtime.
type headerOnly struct {
	gasshim.Runtime
}

func fill(p unsafe.Pointer, n int, seed byte) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = seed + byte(i)
	}
}

func filled(p unsafe.Pointer, n int, seed byte) bool {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		if b[i] != seed+byte(i) {
			return false
		}
	}
	return true
}
