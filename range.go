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

package gasshim

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	ErrEmptyRange      = errors.New("participant range is empty")
	ErrNilBase         = errors.New("participant range has no local base")
	ErrRangeOverflow   = errors.New("participant range overflows the address space")
	ErrSentinelInRange = errors.New("participant range contains the nil global address")
)

// Range is the participant range: the window of the global address space
// owned by this rank, together with the local memory backing it.
//
// Both intervals are half-open and have the same length, so translation in
// either direction is a plain offset.
type Range struct {
	local  unsafe.Pointer
	global GA
	length uint64
}

// NewRange builds a Range of length bytes starting at local and global.
func NewRange(local unsafe.Pointer, global GA, length uint64) (Range, error) {
	switch {
	case length == 0:
		return Range{}, ErrEmptyRange
	case local == nil:
		return Range{}, ErrNilBase
	case global == NilGA:
		return Range{}, ErrSentinelInRange
	case uint64(global) > math.MaxUint64-length:
		return Range{}, fmt.Errorf("%w: global %#x+%#x", ErrRangeOverflow, uint64(global), length)
	case uint64(uintptr(local)) > uint64(^uintptr(0))-length:
		return Range{}, fmt.Errorf("%w: local %p+%#x", ErrRangeOverflow, local, length)
	}
	return Range{local: local, global: global, length: length}, nil
}

func (r Range) Len() uint64 { return r.length }

func (r Range) LocalBase() uintptr { return uintptr(r.local) }

func (r Range) LocalEnd() uintptr { return uintptr(r.local) + uintptr(r.length) }

func (r Range) GlobalBase() GA { return r.global }

func (r Range) GlobalEnd() GA { return r.global + GA(r.length) }

// ContainsLocal reports whether p lies in [LocalBase, LocalEnd).
func (r Range) ContainsLocal(p unsafe.Pointer) bool {
	if r.length == 0 {
		return false
	}
	base := uintptr(r.local)
	return uintptr(p) >= base && uint64(uintptr(p)-base) < r.length
}

// ContainsGlobal reports whether ga lies in [GlobalBase, GlobalEnd).
// NilGA is never contained.
func (r Range) ContainsGlobal(ga GA) bool {
	if r.length == 0 || ga == NilGA {
		return false
	}
	return ga >= r.global && uint64(ga-r.global) < r.length
}

// ToGlobal translates a local pointer to its global address.
func (r Range) ToGlobal(p unsafe.Pointer) (GA, bool) {
	if !r.ContainsLocal(p) {
		return NilGA, false
	}
	return r.global + GA(uintptr(p)-uintptr(r.local)), true
}

// ToLocal translates a global address to the local pointer backing it.
func (r Range) ToLocal(ga GA) (unsafe.Pointer, bool) {
	if !r.ContainsGlobal(ga) {
		return nil, false
	}
	return unsafe.Add(r.local, uintptr(ga-r.global)), true
}

func (r Range) String() string {
	return fmt.Sprintf("local=[%#x,%#x) global=[%#x,%#x)",
		r.LocalBase(), r.LocalEnd(), uint64(r.GlobalBase()), uint64(r.GlobalEnd()))
}
