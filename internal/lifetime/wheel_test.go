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

package lifetime_test

import (
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.yuchanns.xyz/gasshim/internal/lifetime"
)

func TestWheelExpiresOnTick(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	w := lifetime.New[uint32](nil, time.Millisecond)

	testTable := []uint32{1, 2, 3, 255, 256, 257, 1000, 1 << 14, 1<<14 + 1, 70000}
	for _, ticks := range testTable {
		assert.NoError(w.Schedule(ticks, ticks))
	}
	assert.Equal(len(testTable), w.Len())

	fired := map[uint32]int{}
	for turn := 1; turn <= 70000; turn++ {
		w.Advance(1, func(item *uint32) {
			fired[*item] = turn
		})
	}
	for _, ticks := range testTable {
		assert.Equal(int(ticks), fired[ticks], "ticks %d", ticks)
	}
	assert.Zero(w.Len())
}

func TestWheelZeroTicks(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	w := lifetime.New[int](nil, 0)
	assert.NoError(w.Schedule(7, 0))

	var got []int
	w.Advance(1, func(item *int) { got = append(got, *item) })
	assert.Equal([]int{7}, got)
}

func TestWheelScheduleFromCallback(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	w := lifetime.New[int](nil, time.Millisecond)
	assert.NoError(w.Schedule(3, 1))

	var got []int
	w.Advance(10, func(item *int) {
		got = append(got, *item)
		if *item > 0 {
			assert.NoError(w.Schedule(*item-1, 2))
		}
	})
	assert.Equal([]int{3, 2, 1, 0}, got)
}

func TestWheelDestroy(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	w := lifetime.New[int](nil, time.Millisecond)
	for i := range 100 {
		assert.NoError(w.Schedule(i, uint32(i*97)))
	}

	seen := 0
	w.Destroy(func(*int) { seen++ })
	assert.Equal(100, seen)
	assert.Zero(w.Len())
}

// countingAlloc hands out Go memory it keeps alive, and counts outstanding blocks.
type countingAlloc struct {
	mu     sync.Mutex
	blocks map[unsafe.Pointer][]byte
	fail   bool
}

func (a *countingAlloc) Alloc(size uint) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return nil
	}
	b := make([]byte, size)
	p := unsafe.Pointer(&b[0])
	a.blocks[p] = b
	return p
}

func (a *countingAlloc) Free(ptr unsafe.Pointer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.blocks, ptr)
}

func (a *countingAlloc) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

func TestWheelAllocator(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	alloc := &countingAlloc{blocks: make(map[unsafe.Pointer][]byte)}
	w := lifetime.New[uint64](alloc, time.Millisecond)

	for i := range 50 {
		assert.NoError(w.Schedule(uint64(i), uint32(i%7)))
	}
	assert.Equal(50, alloc.live())

	// ticks 0 to 3 have run out: 8+7+7+7 items
	w.Advance(3, nil)
	assert.Equal(21, alloc.live())
	assert.Equal(21, w.Len())

	w.Destroy(nil)
	assert.Zero(alloc.live())

	alloc.fail = true
	assert.ErrorIs(w.Schedule(1, 1), lifetime.ErrNoMemory)
	assert.Zero(w.Len())
}

func TestWheelUpdate(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	const precision = time.Millisecond
	w := lifetime.New[time.Time](nil, precision)
	assert.NoError(w.Schedule(time.Now(), 5))

	var fired time.Duration
	deadline := time.Now().Add(time.Second)
	for fired == 0 && time.Now().Before(deadline) {
		time.Sleep(precision)
		w.Update(func(start *time.Time) {
			fired = time.Since(*start)
		})
	}
	assert.GreaterOrEqual(fired, 4*precision)
}
