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
	"sync"
)

// maxResourceKinds bounds the Resources table to a small fixed set of
// labels, keeping admission-control lookups O(1) in practice without
// needing a general-purpose map on the hot dispatch path.
const maxResourceKinds = 8

// resourceKind is one named, capacity-bounded quantity methods consume for
// admission control.
type resourceKind struct {
	label    string
	capacity int64
	current  int64
}

// Resources is the per-connection admission-control table. It
// is safe for concurrent use; claim/release are the only mutating ops and
// are meant to be used through a resourceGuard so release always happens.
type Resources struct {
	mu    sync.Mutex
	kinds []*resourceKind
}

// NewResources builds a Resources table from a label -> capacity map. At
// most maxResourceKinds entries are accepted.
func NewResources(capacities map[string]int64) *Resources {
	r := &Resources{}
	for label, cap := range capacities {
		if len(r.kinds) >= maxResourceKinds {
			break
		}
		r.kinds = append(r.kinds, &resourceKind{label: label, capacity: cap})
	}
	return r
}

func (r *Resources) find(label string) *resourceKind {
	for _, k := range r.kinds {
		if k.label == label {
			return k
		}
	}
	return nil
}

// resourceGuard is the RAII guard claimed by a successful MethodResponse
// and released on drop: increment-on-claim, decrement-on-drop.
type resourceGuard struct {
	r      *Resources
	claims map[string]int64
}

// claim attempts to reserve cost units from each named kind atomically: if
// any one kind cannot fit the claim, none are reserved.
func (r *Resources) claim(cost map[string]int64) (*resourceGuard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for label, amount := range cost {
		k := r.find(label)
		if k == nil {
			continue // unknown label: no accounting configured, always fits
		}
		if k.current+amount > k.capacity {
			return nil, false
		}
	}
	for label, amount := range cost {
		if k := r.find(label); k != nil {
			k.current += amount
		}
	}
	return &resourceGuard{r: r, claims: cost}, true
}

// release returns every unit this guard claimed. Safe to call at most once;
// callers invoke it via defer immediately after a successful claim.
func (g *resourceGuard) release() {
	if g == nil || g.r == nil {
		return
	}
	g.r.mu.Lock()
	defer g.r.mu.Unlock()
	for label, amount := range g.claims {
		if k := g.r.find(label); k != nil {
			k.current -= amount
		}
	}
}
