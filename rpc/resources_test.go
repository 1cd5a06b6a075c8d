// Copyright 2016 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResourcesClaimAllOrNothing(t *testing.T) {
	r := NewResources(map[string]int64{"cpu": 2, "mem": 10})

	guard, ok := r.claim(map[string]int64{"cpu": 2, "mem": 1})
	require.True(t, ok)

	_, ok = r.claim(map[string]int64{"cpu": 1, "mem": 1})
	require.False(t, ok, "cpu is already fully claimed, the second claim must fail entirely")
	require.Equal(t, int64(1), r.find("mem").current, "a failed claim must reserve nothing, not even the kinds that fit")

	guard.release()

	guard2, ok := r.claim(map[string]int64{"cpu": 1})
	require.True(t, ok, "after release, capacity is available again")
	guard2.release()
}

func TestResourcesUnknownLabelAlwaysFits(t *testing.T) {
	r := NewResources(map[string]int64{"cpu": 1})
	guard, ok := r.claim(map[string]int64{"bandwidth": 1_000_000})
	require.True(t, ok, "a cost for an unconfigured label carries no accounting")
	guard.release()
}

func TestResourcesCapsAtMaxKinds(t *testing.T) {
	capacities := make(map[string]int64, maxResourceKinds+4)
	for i := 0; i < maxResourceKinds+4; i++ {
		capacities[string(rune('a'+i))] = 1
	}
	r := NewResources(capacities)
	require.LessOrEqual(t, len(r.kinds), maxResourceKinds)
}
