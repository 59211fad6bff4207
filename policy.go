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
	"fmt"

	"github.com/dustin/go-humanize"
)

// Tier is the size bucket a request falls into.
type Tier uint8

const (
	TierNone Tier = iota
	TierSmall
	TierLarge
	TierHuge
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierSmall:
		return "small"
	case TierLarge:
		return "large"
	case TierHuge:
		return "huge"
	}
	return fmt.Sprintf("Tier(%d)", uint8(t))
}

// Policy decides which allocation sizes are routed to the global allocator.
//
// The tiers are contiguous and ordered by size:
//
//	small = [0, SmallThreshold)
//	large = [SmallThreshold, LargeThreshold)
//	huge  = [LargeThreshold, ∞)
//
// Policy does not validate SmallThreshold <= LargeThreshold; with inverted
// thresholds the large tier is empty.
type Policy struct {
	Small bool
	Large bool
	Huge  bool

	SmallThreshold uint64
	LargeThreshold uint64
}

// Tier reports the bucket of size. Zero sized requests belong to no tier.
func (p Policy) Tier(size uint64) Tier {
	switch {
	case size == 0:
		return TierNone
	case size < p.SmallThreshold:
		return TierSmall
	case size < p.LargeThreshold:
		return TierLarge
	default:
		return TierHuge
	}
}

// ShouldTryGlobal reports whether an allocation of size bytes should first
// be attempted on the global allocator.
func (p Policy) ShouldTryGlobal(size uint64) bool {
	if size == 0 {
		return false
	}
	return (p.Small && size < p.SmallThreshold) ||
		(p.Large && p.SmallThreshold <= size && size < p.LargeThreshold) ||
		(p.Huge && size >= p.LargeThreshold)
}

func (p Policy) String() string {
	return fmt.Sprintf("small=%t large=%t huge=%t small_threshold=%s large_threshold=%s",
		p.Small, p.Large, p.Huge,
		humanize.IBytes(p.SmallThreshold), humanize.IBytes(p.LargeThreshold))
}
