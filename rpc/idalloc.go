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
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// IDFormat selects the wire representation the idAllocator mints.
type IDFormat uint8

const (
	// IDFormatNumber mints Id::Number values from a monotonic counter.
	IDFormatNumber IDFormat = iota
	// IDFormatString mints Id::Str values from random UUIDs.
	IDFormatString
)

// idAllocator hands out unique request ids under a concurrency cap. The
// cap is enforced with a weighted semaphore so acquisition
// composes naturally with context cancellation and with acquiring more
// than one slot at a time for batches.
type idAllocator struct {
	sem     *semaphore.Weighted
	counter uint64
	format  IDFormat
}

func newIDAllocator(maxConcurrent int64, format IDFormat) *idAllocator {
	return &idAllocator{sem: semaphore.NewWeighted(maxConcurrent), format: format}
}

// idToken is the RAII-style handle returned by acquire: it holds n ids and
// must be released exactly once, typically via defer.
type idToken struct {
	sem *semaphore.Weighted
	n   int64
}

func (t *idToken) release() {
	if t == nil || t.sem == nil {
		return
	}
	t.sem.Release(t.n)
}

// acquire reserves n id slots, failing fast with ErrMaxSlotsExceeded instead
// of blocking when the cap is already saturated.
func (a *idAllocator) acquire(n int) (*idToken, error) {
	if !a.sem.TryAcquire(int64(n)) {
		return nil, ErrMaxSlotsExceeded
	}
	return &idToken{sem: a.sem, n: int64(n)}, nil
}

// acquireWait is like acquire but blocks (subject to ctx) instead of failing
// fast, for callers that want ordinary backpressure rather than an immediate
// MaxSlotsExceeded. Nothing in this package calls it: the client and
// Server.Accept both use the fail-fast acquire.
func (a *idAllocator) acquireWait(ctx context.Context, n int) (*idToken, error) {
	if err := a.sem.Acquire(ctx, int64(n)); err != nil {
		return nil, err
	}
	return &idToken{sem: a.sem, n: int64(n)}, nil
}

// next mints a single Id in the allocator's configured format. An id that
// has been minted is never reused, even after it times out; callers that
// want reuse must track that themselves via a generation counter, which
// this module deliberately does not provide by default.
func (a *idAllocator) next() Id {
	switch a.format {
	case IDFormatString:
		return StringID(uuid.NewString())
	default:
		n := atomic.AddUint64(&a.counter, 1)
		return NumberID(n)
	}
}
