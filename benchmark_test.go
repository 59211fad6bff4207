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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"go.yuchanns.xyz/gasshim"
	"go.yuchanns.xyz/gasshim/gasrt"
)

func newClusterShim(b *testing.B, p gasshim.Policy) *gasshim.Shim {
	b.Helper()
	c, err := gasrt.NewCluster(1, 64<<20)
	require.NoError(b, err)
	b.Cleanup(func() { _ = c.Close() })

	s := gasshim.New(newSysStub().resolver())
	require.NoError(b, s.Initialize(c.Participant(0), p))
	return s
}

func BenchmarkAllocFreeGlobal(b *testing.B) {
	s := newClusterShim(b, allTiers)
	b.ReportAllocs()
	b.ResetTimer()
	for b.Loop() {
		s.Free(s.Alloc(48))
	}
}

func BenchmarkAllocFreeSystem(b *testing.B) {
	s := newClusterShim(b, gasshim.Policy{SmallThreshold: 64, LargeThreshold: 4096})
	b.ResetTimer()
	for b.Loop() {
		s.Free(s.Alloc(48))
	}
}

func BenchmarkReallocGrow(b *testing.B) {
	s := newClusterShim(b, allTiers)
	b.ResetTimer()
	for b.Loop() {
		var p unsafe.Pointer
		for size := uint(16); size <= 4096; size *= 2 {
			p = s.Realloc(p, size)
		}
		s.Free(p)
	}
}

func BenchmarkPolicyShouldTryGlobal(b *testing.B) {
	var n int
	for b.Loop() {
		for size := uint64(0); size < 8192; size += 61 {
			if allTiers.ShouldTryGlobal(size) {
				n++
			}
		}
	}
	_ = n
}
