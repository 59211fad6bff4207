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

	"github.com/stretchr/testify/require"
	"go.yuchanns.xyz/gasshim"
)

func TestPolicyShouldTryGlobal(t *testing.T) {
	t.Parallel()

	testTable := []struct {
		policy gasshim.Policy
		size   uint64
		want   bool
		tier   gasshim.Tier
	}{
		{allTiers, 0, false, gasshim.TierNone},
		{allTiers, 1, true, gasshim.TierSmall},
		{allTiers, 63, true, gasshim.TierSmall},
		{allTiers, 64, true, gasshim.TierLarge},
		{allTiers, 4095, true, gasshim.TierLarge},
		{allTiers, 4096, true, gasshim.TierHuge},
		{gasshim.Policy{Small: true, SmallThreshold: 64, LargeThreshold: 4096}, 32, true, gasshim.TierSmall},
		{gasshim.Policy{Small: true, SmallThreshold: 64, LargeThreshold: 4096}, 128, false, gasshim.TierLarge},
		{gasshim.Policy{Large: true, SmallThreshold: 64, LargeThreshold: 4096}, 63, false, gasshim.TierSmall},
		{gasshim.Policy{Large: true, SmallThreshold: 64, LargeThreshold: 4096}, 64, true, gasshim.TierLarge},
		{gasshim.Policy{Huge: true, SmallThreshold: 64, LargeThreshold: 4096}, 4095, false, gasshim.TierLarge},
		{gasshim.Policy{Huge: true, SmallThreshold: 64, LargeThreshold: 4096}, 1 << 40, true, gasshim.TierHuge},
		{gasshim.Policy{Huge: true}, 1, true, gasshim.TierHuge},
		{gasshim.Policy{}, 1, false, gasshim.TierHuge},
	}

	for _, tc := range testTable {
		t.Run(tc.policy.String(), func(t *testing.T) {
			assert := require.New(t)
			assert.Equal(tc.want, tc.policy.ShouldTryGlobal(tc.size), "size %d", tc.size)
			assert.Equal(tc.tier, tc.policy.Tier(tc.size), "size %d", tc.size)
		})
	}
}

func TestTierString(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	assert.Equal("none", gasshim.TierNone.String())
	assert.Equal("small", gasshim.TierSmall.String())
	assert.Equal("large", gasshim.TierLarge.String())
	assert.Equal("huge", gasshim.TierHuge.String())
	assert.Equal("Tier(9)", gasshim.Tier(9).String())
}

func TestPolicyString(t *testing.T) {
	t.Parallel()
	assert := require.New(t)

	p := gasshim.Policy{Small: true, SmallThreshold: 64 << 10, LargeThreshold: 32 << 20}
	assert.Equal("small=true large=false huge=false small_threshold=64 KiB large_threshold=32 MiB", p.String())
}
