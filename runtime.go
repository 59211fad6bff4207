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
	"unsafe"
)

// GA is a global address minted by the GAS runtime.
type GA uint64

// NilGA is the sentinel global address. The runtime returns it when an
// allocation fails; it never lies inside a participant range.
const NilGA GA = 0

// Runtime is the subset of the distributed GAS runtime consumed by the shim.
type Runtime interface {
	// Rank returns the participant index of the calling process.
	Rank() int
	// RangeBase returns the first global address owned by rank.
	RangeBase(rank int) GA
	// RangeSize returns the byte length of a participant range.
	RangeSize() uint64
	// Resolve returns the local pointer backing a locally resident GA.
	Resolve(ga GA) unsafe.Pointer
	// Alloc requests size bytes on behalf of rank. It returns NilGA on failure.
	Alloc(size uint64, rank int) GA
	// Free releases a GA previously returned by Alloc.
	Free(ga GA)
}

// SizeQuerier is implemented by runtimes that can report the usable size of
// a live block. When absent the shim reads the block header instead.
type SizeQuerier interface {
	SizeOf(ga GA) (uint64, bool)
}

// Entry point names looked up by ResolveRuntime.
const (
	SymRank      = "gas_rank"
	SymRangeBase = "gas_range_base"
	SymRangeSize = "gas_range_size"
	SymResolve   = "gas_resolve"
	SymAlloc     = "gas_alloc"
	SymFree      = "gas_free"

	// SymSize is optional.
	SymSize = "gas_size"
)

var (
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrSymbolType     = errors.New("symbol has unexpected type")
)

// SymbolError reports which entry point could not be resolved.
type SymbolError struct {
	Name string
	Err  error
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Name, e.Err)
}

func (e *SymbolError) Unwrap() error { return e.Err }

// SymbolTable is a namespace of named entry points, the moral equivalent of
// the dynamic symbol table of a process.
type SymbolTable interface {
	Lookup(name string) (any, bool)
}

// Symbols is a map backed SymbolTable.
type Symbols map[string]any

func (s Symbols) Lookup(name string) (any, bool) {
	v, ok := s[name]
	return v, ok
}

// ResolveRuntime builds a Runtime out of the entry points exported in tab.
// Every required entry point must be present with the documented type,
// otherwise a *SymbolError is returned and no Runtime is built.
func ResolveRuntime(tab SymbolTable) (Runtime, error) {
	if tab == nil {
		return nil, &SymbolError{Name: SymRank, Err: ErrSymbolNotFound}
	}
	var (
		rt  symbolRuntime
		err error
	)
	if rt.rank, err = lookup[func() int](tab, SymRank); err != nil {
		return nil, err
	}
	if rt.rangeBase, err = lookup[func(int) GA](tab, SymRangeBase); err != nil {
		return nil, err
	}
	if rt.rangeSize, err = lookup[*uint64](tab, SymRangeSize); err != nil {
		return nil, err
	}
	if rt.resolve, err = lookup[func(GA) unsafe.Pointer](tab, SymResolve); err != nil {
		return nil, err
	}
	if rt.alloc, err = lookup[func(uint64, int) GA](tab, SymAlloc); err != nil {
		return nil, err
	}
	if rt.free, err = lookup[func(GA)](tab, SymFree); err != nil {
		return nil, err
	}
	sizeOf, err := lookup[func(GA) (uint64, bool)](tab, SymSize)
	switch {
	case err == nil:
		return &sizedSymbolRuntime{symbolRuntime: rt, sizeOf: sizeOf}, nil
	case errors.Is(err, ErrSymbolNotFound):
		return &rt, nil
	default:
		return nil, err
	}
}

func lookup[T any](tab SymbolTable, name string) (T, error) {
	var zero T
	v, ok := tab.Lookup(name)
	if !ok || v == nil {
		return zero, &SymbolError{Name: name, Err: ErrSymbolNotFound}
	}
	fn, ok := v.(T)
	if !ok {
		return zero, &SymbolError{Name: name, Err: fmt.Errorf("%w: %T", ErrSymbolType, v)}
	}
	if isNil(fn) {
		return zero, &SymbolError{Name: name, Err: ErrSymbolNotFound}
	}
	return fn, nil
}

func isNil(v any) bool {
	switch f := v.(type) {
	case func() int:
		return f == nil
	case func(int) GA:
		return f == nil
	case *uint64:
		return f == nil
	case func(GA) unsafe.Pointer:
		return f == nil
	case func(uint64, int) GA:
		return f == nil
	case func(GA):
		return f == nil
	case func(GA) (uint64, bool):
		return f == nil
	}
	return false
}

type symbolRuntime struct {
	rank      func() int
	rangeBase func(int) GA
	rangeSize *uint64
	resolve   func(GA) unsafe.Pointer
	alloc     func(uint64, int) GA
	free      func(GA)
}

func (r *symbolRuntime) Rank() int                      { return r.rank() }
func (r *symbolRuntime) RangeBase(rank int) GA          { return r.rangeBase(rank) }
func (r *symbolRuntime) RangeSize() uint64              { return *r.rangeSize }
func (r *symbolRuntime) Resolve(ga GA) unsafe.Pointer   { return r.resolve(ga) }
func (r *symbolRuntime) Alloc(size uint64, rank int) GA { return r.alloc(size, rank) }
func (r *symbolRuntime) Free(ga GA)                     { r.free(ga) }

type sizedSymbolRuntime struct {
	symbolRuntime
	sizeOf func(GA) (uint64, bool)
}

func (r *sizedSymbolRuntime) SizeOf(ga GA) (uint64, bool) { return r.sizeOf(ga) }
