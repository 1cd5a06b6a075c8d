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
	"encoding/json"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// idStatus is the result of manager.status.
type idStatus uint8

const (
	statusUnknown idStatus = iota
	statusPendingCall
	statusPendingSub
)

type callResult struct {
	result json.RawMessage
	err    error
}

type callEntry struct {
	slot chan callResult
}

type subscribeResult struct {
	sub *ClientSubscription
	err error
}

// subscribeSlot is the completion slot for a Subscribe call. abandoned is
// set when the caller has given up waiting (e.g. its context was canceled)
// before the response arrived; the background task consults it to decide
// whether to deliver the result or immediately unsubscribe instead, since
// the caller has already dropped their receive end.
type subscribeSlot struct {
	ch        chan subscribeResult
	abandoned int32
}

func newSubscribeSlot() *subscribeSlot {
	return &subscribeSlot{ch: make(chan subscribeResult, 1)}
}

// pendingSub is a subscribe request whose response has not yet arrived.
type pendingSub struct {
	subID       Id
	unsubID     Id
	slot        *subscribeSlot
	unsubMethod string
	sink        *ClientSubscription
}

// activeSub is a subscription whose open request has been acknowledged and
// assigned a server-side SubscriptionId.
type activeSub struct {
	subID       Id
	unsubID     Id
	sink        *ClientSubscription
	unsubMethod string
	serverSubID SubscriptionId
}

type batchResult struct {
	responses []*jsonrpcMessage
	err       error
}

// batchGroup tracks the member ids and completion slot of one in-flight
// batch call.
type batchGroup struct {
	ids      []Id
	posIndex map[Id]int
	slot     chan batchResult
}

type notifHandler struct {
	method string
	sink   chan json.RawMessage
}

// manager is the client-side Request Manager, the correctness-critical
// heart of the client. It is single-threaded by contract: only the Client
// Background Task ever calls its methods.
type manager struct {
	calls         map[Id]*callEntry
	pendingSubs   map[Id]*pendingSub // keyed by subID
	reservedUnsub map[Id]Id          // unsubID -> subID, reserved placeholder
	activeByClID  map[Id]*activeSub
	activeBySrvID map[SubscriptionId]*activeSub
	batches       map[string]*batchGroup
	notifHandlers map[string]*notifHandler
}

func newManager() *manager {
	return &manager{
		calls:         make(map[Id]*callEntry),
		pendingSubs:   make(map[Id]*pendingSub),
		reservedUnsub: make(map[Id]Id),
		activeByClID:  make(map[Id]*activeSub),
		activeBySrvID: make(map[SubscriptionId]*activeSub),
		batches:       make(map[string]*batchGroup),
		notifHandlers: make(map[string]*notifHandler),
	}
}

func batchKey(ids []Id) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "\x1f")
}

// present reports whether id currently lives in any of the four tables.
func (m *manager) present(id Id) bool {
	if _, ok := m.calls[id]; ok {
		return true
	}
	if _, ok := m.pendingSubs[id]; ok {
		return true
	}
	if _, ok := m.reservedUnsub[id]; ok {
		return true
	}
	if _, ok := m.activeByClID[id]; ok {
		return true
	}
	return false
}

// status reports what kind of outstanding entry, if any, id currently names.
func (m *manager) status(id Id) idStatus {
	if _, ok := m.calls[id]; ok {
		return statusPendingCall
	}
	if _, ok := m.pendingSubs[id]; ok {
		return statusPendingSub
	}
	return statusUnknown
}

// insertCall records an OutstandingCall. Precondition: id absent everywhere.
func (m *manager) insertCall(id Id, slot chan callResult) bool {
	if m.present(id) {
		return false
	}
	m.calls[id] = &callEntry{slot: slot}
	return true
}

func (m *manager) completeCall(id Id) (chan callResult, bool) {
	e, ok := m.calls[id]
	if !ok {
		return nil, false
	}
	delete(m.calls, id)
	return e.slot, true
}

// insertBatch records a BatchGroup keyed by the sorted set of member ids.
func (m *manager) insertBatch(ids []Id, slot chan batchResult) bool {
	key := batchKey(ids)
	if _, ok := m.batches[key]; ok {
		return false
	}
	for _, id := range ids {
		if m.present(id) {
			return false
		}
	}
	posIndex := make(map[Id]int, len(ids))
	for i, id := range ids {
		posIndex[id] = i
		m.calls[id] = &callEntry{} // reserve the id slot; delivery goes through the batch slot
	}
	m.batches[key] = &batchGroup{ids: ids, posIndex: posIndex, slot: slot}
	return true
}

func (m *manager) completeBatch(ids []Id) (*batchGroup, bool) {
	key := batchKey(ids)
	g, ok := m.batches[key]
	if !ok {
		return nil, false
	}
	delete(m.batches, key)
	for _, id := range g.ids {
		delete(m.calls, id)
	}
	return g, true
}

// insertPendingSub reserves subID and unsubID together. Precondition: both
// absent AND subID != unsubID.
func (m *manager) insertPendingSub(subID, unsubID Id, slot *subscribeSlot, unsubMethod string, sink *ClientSubscription) bool {
	if subID == unsubID {
		return false
	}
	if m.present(subID) || m.present(unsubID) {
		return false
	}
	m.pendingSubs[subID] = &pendingSub{subID: subID, unsubID: unsubID, slot: slot, unsubMethod: unsubMethod, sink: sink}
	m.reservedUnsub[unsubID] = subID
	return true
}

func (m *manager) completePendingSub(subID Id) (*pendingSub, bool) {
	p, ok := m.pendingSubs[subID]
	if !ok {
		return nil, false
	}
	delete(m.pendingSubs, subID)
	delete(m.reservedUnsub, p.unsubID)
	return p, true
}

// completePendingSubKeepUnsub is completePendingSub but leaves the unsub id
// reserved in m.reservedUnsub. Used when the subscription id in the
// response is unparsable: the pending slot fails with InvalidSubscriptionId
// but the reserved unsub id is kept rather than freed, since it will never
// be used — acceptable, per the spec's own note on this path.
func (m *manager) completePendingSubKeepUnsub(subID Id) (*pendingSub, bool) {
	p, ok := m.pendingSubs[subID]
	if !ok {
		return nil, false
	}
	delete(m.pendingSubs, subID)
	return p, true
}

// promotePendingSub converts a pendingSub into an activeSub indexed by the
// server-assigned id. Precondition: subID names a pendingSub AND
// serverSubID is not already active.
func (m *manager) promotePendingSub(subID Id, serverSubID SubscriptionId) (*activeSub, error) {
	p, ok := m.pendingSubs[subID]
	if !ok {
		return nil, ErrInvalidRequestID
	}
	if _, dup := m.activeBySrvID[serverSubID]; dup {
		return nil, ErrDuplicateSubscription
	}
	delete(m.pendingSubs, subID)
	as := &activeSub{subID: subID, unsubID: p.unsubID, sink: p.sink, unsubMethod: p.unsubMethod, serverSubID: serverSubID}
	m.activeByClID[subID] = as
	m.activeBySrvID[serverSubID] = as
	// p.unsubID stays reserved in m.reservedUnsub until the subscription is
	// torn down: it is consumed exactly once by the eventual unsubscribe call.
	return as, nil
}

// deliverSubscribeResult sends r on slot. A caller that stopped waiting
// must not block the background task; its abandoned subscription is torn
// down by the caller of deliverSubscribeResult instead of being delivered.
func deliverSubscribeResult(slot *subscribeSlot, r subscribeResult) {
	slot.ch <- r
}

// removeSub tears down an activeSub found by its server id, returning the
// unsub id, sink and unsubscribe method name so the caller can synthesize
// the unsubscribe request.
func (m *manager) removeSub(serverSubID SubscriptionId) (*activeSub, bool) {
	as, ok := m.activeBySrvID[serverSubID]
	if !ok {
		return nil, false
	}
	delete(m.activeBySrvID, serverSubID)
	delete(m.activeByClID, as.subID)
	delete(m.reservedUnsub, as.unsubID)
	return as, true
}

// resubscribeNames returns the unsubscribe method name of every currently
// active subscription. It is read-only introspection for diagnostics/logging
// (e.g. reporting what a reconnect would need to re-establish); it does not
// itself resubscribe anything.
func (m *manager) resubscribeNames() []string {
	names := make([]string, 0, len(m.activeByClID))
	for _, as := range m.activeByClID {
		names = append(names, as.unsubMethod)
	}
	return names
}

func (m *manager) insertNotifHandler(method string, sink chan json.RawMessage) bool {
	if _, ok := m.notifHandlers[method]; ok {
		return false
	}
	m.notifHandlers[method] = &notifHandler{method: method, sink: sink}
	return true
}

func (m *manager) removeNotifHandler(method string) {
	delete(m.notifHandlers, method)
}

// drainAll delivers err to every live call, pending subscription, active
// subscription and batch, and clears all tables. Used on fatal transport
// errors.
func (m *manager) drainAll(err error) {
	for id, e := range m.calls {
		if e.slot != nil {
			e.slot <- callResult{err: err}
		}
		delete(m.calls, id)
	}
	for id, p := range m.pendingSubs {
		deliverSubscribeResult(p.slot, subscribeResult{err: err})
		delete(m.pendingSubs, id)
	}
	m.reservedUnsub = make(map[Id]Id)
	for id, as := range m.activeByClID {
		as.sink.closeWithError(err)
		delete(m.activeByClID, id)
	}
	m.activeBySrvID = make(map[SubscriptionId]*activeSub)
	for key, g := range m.batches {
		g.slot <- batchResult{err: err}
		delete(m.batches, key)
	}
	for method, h := range m.notifHandlers {
		close(h.sink)
		delete(m.notifHandlers, method)
	}
	log.Debug("rpc: manager drained on fatal error", "err", err)
}
