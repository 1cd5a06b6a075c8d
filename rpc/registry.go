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

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
)

// SyncHandler answers a call inline, on the dispatch goroutine.
type SyncHandler func(conn *Connection, params *Params) (interface{}, error)

// AsyncHandler answers a call on a spawned goroutine tracked by the
// connection's errgroup, so shutdown can wait for it to finish.
type AsyncHandler func(conn *Connection, params *Params) (interface{}, error)

// SubscriptionHandler receives a PendingSink and must accept or reject it.
type SubscriptionHandler func(conn *Connection, params *Params, pending *PendingSink)

// entryKind tags the MethodEntry variant.
type entryKind uint8

const (
	entrySync entryKind = iota
	entryAsync
	entrySubscriptionOpen
	entrySubscriptionClose
	entryAlias
)

// MethodEntry is the tagged variant registered under a single shared
// namespace of method/open/close/alias names: a name can only ever be one
// of these at a time.
type MethodEntry struct {
	kind      entryKind
	sync      SyncHandler
	async     AsyncHandler
	sub       SubscriptionHandler
	closeName string // set on SubscriptionOpen entries
	openName  string // set on SubscriptionClose entries
	cost      map[string]int64
	target    string // set on Alias entries
}

// Registry is the server-side Method Registry. All entries live in one
// namespace: a method, a subscription open-name, a subscription
// close-name, and an alias can never collide.
type Registry struct {
	mu          sync.RWMutex
	names       mapset.Set[string]
	entries     map[string]*MethodEntry
	notifByOpen map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		names:   mapset.NewThreadUnsafeSet[string](),
		entries: make(map[string]*MethodEntry),
	}
}

func (r *Registry) reserve(name string) error {
	if r.names.Contains(name) {
		return errors.Newf("rpc: method name %q already registered", name)
	}
	r.names.Add(name)
	return nil
}

// RegisterSync registers a method answered inline on the dispatch goroutine.
func (r *Registry) RegisterSync(name string, cost map[string]int64, h SyncHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(name); err != nil {
		return err
	}
	r.entries[name] = &MethodEntry{kind: entrySync, sync: h, cost: cost}
	return nil
}

// RegisterAsync registers a method whose handler is spawned on a tracked
// goroutine so a shutting-down connection can wait for it to drain.
func (r *Registry) RegisterAsync(name string, cost map[string]int64, h AsyncHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(name); err != nil {
		return err
	}
	r.entries[name] = &MethodEntry{kind: entryAsync, async: h, cost: cost}
	return nil
}

// RegisterSubscription registers the open/notif/close triple of a
// subscription. The close-name entry needs no handler of its own: it is a
// normal method the engine answers itself, by looking the SubscriptionId
// up in the connection's subscription table.
func (r *Registry) RegisterSubscription(openName, notifName, closeName string, cost map[string]int64, h SubscriptionHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.reserve(openName); err != nil {
		return err
	}
	if err := r.reserve(closeName); err != nil {
		return err
	}
	r.entries[openName] = &MethodEntry{
		kind: entrySubscriptionOpen, sub: h, closeName: closeName, cost: cost,
	}
	r.entries[closeName] = &MethodEntry{
		kind: entrySubscriptionClose, openName: openName,
	}
	r.notifNames(openName, notifName)
	return nil
}

// notifNames is kept as a tiny side table so the dispatch loop can format
// SubscriptionNotification frames with the right method name without
// threading an extra parameter through every accept() call.
func (r *Registry) notifNames(openName, notifName string) {
	if r.notifByOpen == nil {
		r.notifByOpen = make(map[string]string)
	}
	r.notifByOpen[openName] = notifName
}

// RegisterAlias points alias at an already-registered target entry; the
// target must already exist.
func (r *Registry) RegisterAlias(alias, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[target]; !ok {
		return errors.Newf("rpc: alias target %q is not registered", target)
	}
	if err := r.reserve(alias); err != nil {
		return err
	}
	r.entries[alias] = &MethodEntry{kind: entryAlias, target: target}
	return nil
}

func (r *Registry) notifName(openName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notifByOpen[openName]
}

// lookup resolves a method name through at most one alias indirection,
// returning the entry alongside the name it actually lives under (the
// alias target when an alias was followed).
func (r *Registry) lookup(name string) (*MethodEntry, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, "", false
	}
	if e.kind == entryAlias {
		resolved := e.target
		e, ok = r.entries[resolved]
		return e, resolved, ok
	}
	return e, name, ok
}
