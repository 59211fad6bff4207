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

// Package preload holds the process-wide shim that stands in for the
// standard allocation entry points.
//
// A GAS runtime publishes its entry points with Export (or ExportTable) and
// the process then calls Initialize, or InitializeFromEnv to read the policy
// from GASSHIM_* environment variables. Until then, and after Shutdown,
// Malloc, Free and Realloc pass straight through to the system allocator.
package preload

import (
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.yuchanns.xyz/gasshim"
	"go.yuchanns.xyz/gasshim/libc"
)

var (
	system atomic.Pointer[systemAllocator]

	shim     *gasshim.Shim
	shimOnce sync.Once

	namespace sync.Map
)

type systemAllocator struct {
	gasshim.Reallocator
}

// SetSystemAllocator replaces the C library as the allocator the shim passes
// through to.
//
// The system allocator is resolved once, on the first allocation that needs
// it. From then on it is fixed.
//
// Panics:
//   - if alloc is nil.
//   - if called more than once.
//   - if called after the system allocator was resolved.
func SetSystemAllocator(alloc gasshim.Reallocator) {
	if alloc == nil {
		panic("allocator cannot be nil")
	}
	if !system.CompareAndSwap(nil, &systemAllocator{alloc}) {
		panic("allocator is already set or in use")
	}
}

func resolveSystem() gasshim.Reallocator {
	system.CompareAndSwap(nil, &systemAllocator{libc.Resolve()})
	return system.Load().Reallocator
}

// Shim returns the process-wide shim.
func Shim() *gasshim.Shim {
	shimOnce.Do(func() {
		shim = gasshim.New(resolveSystem, gasshim.WithLogger(newLogger()))
	})
	return shim
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if c, err := gasshim.ConfigFromEnv(os.Getenv); err == nil {
		if l, err := c.Level(); err == nil {
			level = l
		}
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("pid", os.Getpid())
}

// Export publishes a runtime entry point under name.
func Export(name string, sym any) {
	namespace.Store(name, sym)
}

// ExportTable publishes every entry point of tab.
func ExportTable(tab gasshim.Symbols) {
	for name, sym := range tab {
		Export(name, sym)
	}
}

// Unexport withdraws the entry point published under name.
func Unexport(name string) {
	namespace.Delete(name)
}

type exported struct{}

func (exported) Lookup(name string) (any, bool) {
	return namespace.Load(name)
}

// Namespace is the table Initialize resolves entry points from.
func Namespace() gasshim.SymbolTable {
	return exported{}
}

// Initialize resolves the runtime from the exported entry points and enables
// global routing for the selected tiers. On failure the shim stays disabled.
func Initialize(smallEnabled, largeEnabled, hugeEnabled bool, thresholdSmall, thresholdLarge uint64) error {
	return Shim().InitializeSymbols(Namespace(), gasshim.Policy{
		Small:          smallEnabled,
		Large:          largeEnabled,
		Huge:           hugeEnabled,
		SmallThreshold: thresholdSmall,
		LargeThreshold: thresholdLarge,
	})
}

// InitializeFromEnv is Initialize with the policy read by
// gasshim.ConfigFromEnv.
func InitializeFromEnv() error {
	c, err := gasshim.ConfigFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	p, err := c.Policy()
	if err != nil {
		return err
	}
	return Initialize(p.Small, p.Large, p.Huge, p.SmallThreshold, p.LargeThreshold)
}

// Shutdown stops routing new allocations to the global allocator.
func Shutdown() {
	Shim().Shutdown()
}

func Malloc(size uint) unsafe.Pointer {
	return Shim().Alloc(size)
}

func Free(ptr unsafe.Pointer) {
	Shim().Free(ptr)
}

func Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	return Shim().Realloc(ptr, size)
}
