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

// Block header layout shared with the global allocator: the 8 bytes right
// before a block hold its usable size, with the low bits used as flags.
const (
	HeaderSize  = 8
	HeaderFlags = 7
)

// ReadHeader returns the usable size recorded in the header of the block at p.
func ReadHeader(p unsafe.Pointer) uint64 {
	return *(*uint64)(unsafe.Add(p, -HeaderSize)) &^ HeaderFlags
}

// WriteHeader records size and flags in the header of the block at p.
// size must be a multiple of HeaderFlags+1.
func WriteHeader(p unsafe.Pointer, size uint64, flags uint64) {
	*(*uint64)(unsafe.Add(p, -HeaderSize)) = size&^HeaderFlags | flags&HeaderFlags
}

// blockSize returns the usable size of the live global block ga backed by p.
func blockSize(rt Runtime, ga GA, p unsafe.Pointer) uint64 {
	if q, ok := rt.(SizeQuerier); ok {
		if n, ok := q.SizeOf(ga); ok {
			return n
		}
	}
	return ReadHeader(p)
}
