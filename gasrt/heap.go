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

package gasrt

import (
	"slices"
	"sync"
	"unsafe"

	"go.yuchanns.xyz/gasshim"
)

const (
	granule = 16
	// room for the block header, padded to keep payloads granule aligned
	overhead = granule

	flagInUse = 1
)

type extent struct {
	off uint64
	len uint64
}

// heap is a first-fit allocator over one segment. Free extents are kept
// sorted by offset and coalesced on release.
type heap struct {
	mu    sync.Mutex
	mem   unsafe.Pointer
	size  uint64
	free  []extent
	live  map[uint64]uint64 // payload offset -> usable size
	inUse uint64
}

func newHeap(mem unsafe.Pointer, size uint64) *heap {
	return &heap{
		mem:  mem,
		size: size,
		free: []extent{{off: 0, len: size &^ (granule - 1)}},
		live: make(map[uint64]uint64),
	}
}

// alloc carves a block of at least n usable bytes and returns the offset of
// its payload.
func (h *heap) alloc(n uint64) (uint64, bool) {
	if n > h.size {
		return 0, false
	}
	usable := (max(n, 1) + granule - 1) &^ (granule - 1)
	need := usable + overhead

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, e := range h.free {
		if e.len < need {
			continue
		}
		if e.len == need {
			h.free = slices.Delete(h.free, i, i+1)
		} else {
			h.free[i] = extent{off: e.off + need, len: e.len - need}
		}
		payload := e.off + overhead
		h.live[payload] = usable
		h.inUse += usable
		gasshim.WriteHeader(unsafe.Add(h.mem, payload), usable, flagInUse)
		return payload, true
	}
	return 0, false
}

// release returns the block at payload to the free list. Unknown offsets are
// reported and otherwise ignored.
func (h *heap) release(payload uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	usable, ok := h.live[payload]
	if !ok {
		return false
	}
	delete(h.live, payload)
	h.inUse -= usable
	gasshim.WriteHeader(unsafe.Add(h.mem, payload), usable, 0)

	e := extent{off: payload - overhead, len: usable + overhead}
	i, _ := slices.BinarySearchFunc(h.free, e.off, func(x extent, off uint64) int {
		switch {
		case x.off < off:
			return -1
		case x.off > off:
			return 1
		}
		return 0
	})
	// merge with the successor
	if i < len(h.free) && e.off+e.len == h.free[i].off {
		e.len += h.free[i].len
		h.free = slices.Delete(h.free, i, i+1)
	}
	// merge with the predecessor
	if i > 0 && h.free[i-1].off+h.free[i-1].len == e.off {
		h.free[i-1].len += e.len
		return true
	}
	h.free = slices.Insert(h.free, i, e)
	return true
}

func (h *heap) sizeOf(payload uint64) (uint64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n, ok := h.live[payload]
	return n, ok
}

func (h *heap) stats() (inUse uint64, blocks int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inUse, len(h.live)
}
