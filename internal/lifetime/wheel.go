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

// Package lifetime schedules the release of allocated blocks with a
// hierarchical timing wheel.
//
// Entries are bucketed by expiry tick: the near wheel covers the next 256
// ticks and four coarser levels of 64 slots each cover the rest of the 32 bit
// tick space. Entries cascade towards the near wheel as the wheel turns and
// are dispatched from there.
//
// # Memory
//
// Wheel nodes can be allocated manually through a gasshim.Allocator, so the
// bookkeeping of a workload lives in the same memory it exercises. When an
// allocator is used, T must not contain Go pointers.
package lifetime

import (
	"errors"
	"runtime"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/aristanetworks/goarista/monotime"

	"go.yuchanns.xyz/gasshim"
)

const (
	nearShift  = 8
	nearSlots  = 1 << nearShift
	levelShift = 6
	levelSlots = 1 << levelShift
	nearMask   = nearSlots - 1
	levelMask  = levelSlots - 1
	levels     = 4
)

var ErrNoMemory = errors.New("cannot allocate wheel entry")

// ExpireFunc is called for every entry whose lifetime ran out.
type ExpireFunc[T any] func(item *T)

// Wheel holds items until their lifetime, counted in ticks, runs out.
type Wheel[T any] struct {
	near  [nearSlots]slot[T]
	outer [levels][levelSlots]slot[T]
	lock  int32
	tick  uint32
	count int

	alloc gasshim.Allocator

	precision time.Duration
	last      uint64
}

type entry[T any] struct {
	next   *entry[T]
	expire uint32
	item   T
}

type slot[T any] struct {
	head entry[T]
	tail *entry[T]
}

func (s *slot[T]) push(e *entry[T]) {
	s.tail.next = e
	s.tail = e
	e.next = nil
}

func (s *slot[T]) take() *entry[T] {
	first := s.head.next
	s.head.next = nil
	s.tail = &s.head
	return first
}

// New returns a wheel turning once per precision when driven by Update.
// A nil alloc keeps entries on the Go heap.
func New[T any](alloc gasshim.Allocator, precision time.Duration) *Wheel[T] {
	if precision <= 0 {
		precision = 10 * time.Millisecond
	}
	w := &Wheel[T]{alloc: alloc, precision: precision}
	for i := range w.near {
		w.near[i].take()
	}
	for i := range w.outer {
		for j := range w.outer[i] {
			w.outer[i][j].take()
		}
	}
	w.last = monotime.Now() / uint64(precision)
	return w
}

// Schedule keeps item for ticks turns of the wheel. An item scheduled for
// zero ticks expires on the next turn.
func (w *Wheel[T]) Schedule(item T, ticks uint32) error {
	e := w.newEntry()
	if e == nil {
		return ErrNoMemory
	}
	e.item = item

	w.acquire()
	defer w.release()
	e.expire = w.tick + ticks
	w.insert(e)
	w.count++
	return nil
}

// Len returns the number of pending items.
func (w *Wheel[T]) Len() int {
	w.acquire()
	defer w.release()
	return w.count
}

// Advance turns the wheel n times, calling fn for every expired item.
func (w *Wheel[T]) Advance(n int, fn ExpireFunc[T]) {
	for range n {
		w.turn(fn)
	}
}

// Update turns the wheel once for every precision elapsed since the last
// call and returns the number of turns.
func (w *Wheel[T]) Update(fn ExpireFunc[T]) int {
	now := monotime.Now() / uint64(w.precision)
	if now <= w.last {
		return 0
	}
	n := int(now - w.last)
	w.last = now
	w.Advance(n, fn)
	return n
}

// Destroy expires every pending item at once, in no particular order.
// A nil fn discards them.
func (w *Wheel[T]) Destroy(fn ExpireFunc[T]) {
	var all []*entry[T]
	w.acquire()
	for i := range w.near {
		all = append(all, w.near[i].take())
	}
	for i := range w.outer {
		for j := range w.outer[i] {
			all = append(all, w.outer[i][j].take())
		}
	}
	w.count = 0
	w.release()

	for _, e := range all {
		w.dispatch(e, fn)
	}
}

func (w *Wheel[T]) newEntry() *entry[T] {
	if w.alloc == nil {
		return &entry[T]{}
	}
	p := w.alloc.Alloc(uint(unsafe.Sizeof(entry[T]{})))
	if p == nil {
		return nil
	}
	e := (*entry[T])(p)
	*e = entry[T]{}
	return e
}

func (w *Wheel[T]) freeEntry(e *entry[T]) {
	if w.alloc != nil {
		w.alloc.Free(unsafe.Pointer(e))
	}
}

func (w *Wheel[T]) acquire() {
	for !atomic.CompareAndSwapInt32(&w.lock, 0, 1) {
		runtime.Gosched()
	}
}

func (w *Wheel[T]) release() {
	atomic.StoreInt32(&w.lock, 0)
}

func (w *Wheel[T]) turn(fn ExpireFunc[T]) {
	w.acquire()
	defer w.release()

	// entries scheduled for zero ticks
	w.expire(fn)

	w.cascade()

	w.expire(fn)
}

// expire dispatches the current near slot. It is called with the lock held
// and drops it while fn runs, so fn may schedule new items.
func (w *Wheel[T]) expire(fn ExpireFunc[T]) {
	idx := w.tick & nearMask
	for w.near[idx].head.next != nil {
		first := w.near[idx].take()
		for e := first; e != nil; e = e.next {
			w.count--
		}
		w.release()
		w.dispatch(first, fn)
		w.acquire()
	}
}

func (w *Wheel[T]) dispatch(e *entry[T], fn ExpireFunc[T]) {
	for e != nil {
		if fn != nil {
			fn(&e.item)
		}
		next := e.next
		w.freeEntry(e)
		e = next
	}
}

// cascade advances the tick and moves the outer slot that came due, if any,
// back through insert.
func (w *Wheel[T]) cascade() {
	mask := uint32(nearSlots)
	w.tick++
	ct := w.tick
	if ct == 0 {
		w.redistribute(levels-1, 0)
		return
	}
	t := ct >> nearShift
	for i := 0; ct&(mask-1) == 0; i++ {
		idx := t & levelMask
		if idx != 0 {
			w.redistribute(i, int(idx))
			return
		}
		mask <<= levelShift
		t >>= levelShift
	}
}

func (w *Wheel[T]) redistribute(level, idx int) {
	e := w.outer[level][idx].take()
	for e != nil {
		next := e.next
		w.insert(e)
		e = next
	}
}

func (w *Wheel[T]) insert(e *entry[T]) {
	expire, now := e.expire, w.tick
	if expire|nearMask == now|nearMask {
		w.near[expire&nearMask].push(e)
		return
	}
	mask := uint32(nearSlots << levelShift)
	i := 0
	for ; i < levels-1; i++ {
		if expire|(mask-1) == now|(mask-1) {
			break
		}
		mask <<= levelShift
	}
	w.outer[i][(expire>>(nearShift+uint(i)*levelShift))&levelMask].push(e)
}
