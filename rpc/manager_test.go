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

func TestManagerCallLifecycle(t *testing.T) {
	m := newManager()
	id := NumberID(1)
	slot := make(chan callResult, 1)

	require.True(t, m.insertCall(id, slot))
	require.False(t, m.insertCall(id, slot), "duplicate id must be rejected")
	require.Equal(t, statusPendingCall, m.status(id))

	got, ok := m.completeCall(id)
	require.True(t, ok)
	require.Equal(t, slot, got)
	require.Equal(t, statusUnknown, m.status(id))
}

func TestManagerPendingSubRejectsEqualIDs(t *testing.T) {
	m := newManager()
	id := NumberID(1)
	slot := newSubscribeSlot()
	require.False(t, m.insertPendingSub(id, id, slot, "unsub", nil), "subID == unsubID must be rejected")
}

func TestManagerPromoteRejectsDuplicateServerID(t *testing.T) {
	m := newManager()
	subA, unsubA := NumberID(1), NumberID(2)
	subB, unsubB := NumberID(3), NumberID(4)
	slotA, slotB := newSubscribeSlot(), newSubscribeSlot()

	require.True(t, m.insertPendingSub(subA, unsubA, slotA, "unsub", &ClientSubscription{}))
	require.True(t, m.insertPendingSub(subB, unsubB, slotB, "unsub", &ClientSubscription{}))

	serverID := StringID("srv-1")
	_, err := m.promotePendingSub(subA, serverID)
	require.NoError(t, err)

	_, err = m.promotePendingSub(subB, serverID)
	require.ErrorIs(t, err, ErrDuplicateSubscription)
}

func TestManagerBatchReassemblesByPosition(t *testing.T) {
	m := newManager()
	ids := []Id{NumberID(3), NumberID(1), NumberID(2)}
	slot := make(chan batchResult, 1)
	require.True(t, m.insertBatch(ids, slot))

	for _, id := range ids {
		require.Equal(t, statusPendingCall, m.status(id))
	}

	g, ok := m.completeBatch(ids)
	require.True(t, ok)
	require.Equal(t, 0, g.posIndex[NumberID(3)])
	require.Equal(t, 1, g.posIndex[NumberID(1)])
	require.Equal(t, 2, g.posIndex[NumberID(2)])
}

func TestManagerResubscribeNamesListsActiveSubscriptions(t *testing.T) {
	m := newManager()
	subID, unsubID := NumberID(1), NumberID(2)
	slot := newSubscribeSlot()
	require.True(t, m.insertPendingSub(subID, unsubID, slot, "unsub_method", &ClientSubscription{}))

	require.Empty(t, m.resubscribeNames(), "not yet promoted, so not yet active")

	_, err := m.promotePendingSub(subID, StringID("srv-1"))
	require.NoError(t, err)
	require.Equal(t, []string{"unsub_method"}, m.resubscribeNames())
}

func TestManagerCompletePendingSubKeepUnsubRetainsReservation(t *testing.T) {
	m := newManager()
	subID, unsubID := NumberID(1), NumberID(2)
	slot := newSubscribeSlot()
	require.True(t, m.insertPendingSub(subID, unsubID, slot, "unsub", &ClientSubscription{}))

	p, ok := m.completePendingSubKeepUnsub(subID)
	require.True(t, ok)
	require.Equal(t, unsubID, p.unsubID)

	require.Equal(t, statusUnknown, m.status(subID), "the pending slot itself is gone")
	require.True(t, m.present(unsubID), "the reserved unsub id must still be held, never reused")
}

func TestManagerCompletePendingSubFreesUnsubReservation(t *testing.T) {
	m := newManager()
	subID, unsubID := NumberID(1), NumberID(2)
	slot := newSubscribeSlot()
	require.True(t, m.insertPendingSub(subID, unsubID, slot, "unsub", &ClientSubscription{}))

	_, ok := m.completePendingSub(subID)
	require.True(t, ok)
	require.False(t, m.present(unsubID), "ordinary completion frees the reservation for reuse")
}

func TestManagerDrainAllDeliversToEveryTable(t *testing.T) {
	m := newManager()
	callSlot := make(chan callResult, 1)
	require.True(t, m.insertCall(NumberID(1), callSlot))

	subSlot := newSubscribeSlot()
	require.True(t, m.insertPendingSub(NumberID(2), NumberID(3), subSlot, "unsub", &ClientSubscription{}))

	cause := ErrClientQuit
	m.drainAll(cause)

	select {
	case r := <-callSlot:
		require.ErrorIs(t, r.err, cause)
	default:
		t.Fatal("expected call slot to be drained")
	}

	select {
	case r := <-subSlot.ch:
		require.ErrorIs(t, r.err, cause)
	default:
		t.Fatal("expected pending subscription slot to be drained")
	}
}
