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

// Package libc exposes the C library allocator as a gasshim.Reallocator.
// It is the allocator the shim passes through to.
package libc

// #include <stdlib.h>
import "C"

import (
	"unsafe"

	"go.yuchanns.xyz/gasshim"
)

// System forwards to malloc, free and realloc.
type System struct{}

var _ gasshim.Reallocator = System{}

// Resolve returns the system allocator. It has the shape expected by
// gasshim.New.
func Resolve() gasshim.Reallocator {
	return System{}
}

// Alloc calls malloc. malloc(0) may return a unique non-nil pointer, which
// must still be passed to Free.
func (System) Alloc(size uint) unsafe.Pointer {
	return C.malloc(C.size_t(size))
}

func (System) Free(ptr unsafe.Pointer) {
	C.free(ptr)
}

func (System) Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer {
	return C.realloc(ptr, C.size_t(size))
}
