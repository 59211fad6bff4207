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

import "unsafe"

// Allocator defines the minimal interface of a manual memory allocator.
//
// Alloc returns a pointer to a newly allocated memory block of the given size,
// or nil when the request cannot be satisfied.
//
// Free releases the memory block pointed to by ptr. The pointer must have
// been previously returned by Alloc from the same Allocator implementation.
// Freeing nil is a no-op.
//
// *Shim implements Allocator, so anything written against it can be pointed
// at the global address space transparently.
type Allocator interface {
	Alloc(size uint) unsafe.Pointer
	Free(ptr unsafe.Pointer)
}

// Reallocator is an Allocator that can also resize blocks it handed out.
//
// Realloc follows the C realloc contract: a nil ptr behaves like Alloc,
// the first min(old, size) bytes are preserved, and on failure nil is
// returned with the original block left untouched.
//
// The system allocator the shim falls back to must be a Reallocator.
type Reallocator interface {
	Allocator
	Realloc(ptr unsafe.Pointer, size uint) unsafe.Pointer
}

var (
	_ Reallocator = (*Shim)(nil)
)
