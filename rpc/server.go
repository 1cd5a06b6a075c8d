// Copyright 2015 The go-ethereum Authors
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
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// Connection is one accepted peer, as seen by the Dispatch Loop. Its permit
// is acquired by the Server before the Connection is constructed and
// released when Serve returns, bounding concurrent connections.
type Connection struct {
	id        string
	registry  *Registry
	resources *Resources
	cfg       Config
	sender    Sender

	permit *idToken // held for the connection's lifetime, bounds max_connections

	subPermit *idAllocator // subscription-count cap, mirrors the Id Allocator
	subIDGen  *idAllocator // mints per-connection SubscriptionIds

	subMu sync.Mutex
	subs  map[SubscriptionId]*Sink

	outboundC chan interface{}
	group     *errgroup.Group

	lastPongAt int64 // UnixNano, updated on every ReceivedPong

	closeOnce sync.Once
	closed    chan struct{}
}

// NewConnection builds a Connection ready for Serve. The caller supplies a
// connection_id, the shared Method Registry, a (typically per-connection)
// Resources table, and the transport's write half.
func NewConnection(id string, registry *Registry, resources *Resources, cfg Config, sender Sender) *Connection {
	group, _ := errgroup.WithContext(context.Background())
	return &Connection{
		id:        id,
		registry:  registry,
		resources: resources,
		cfg:       cfg,
		sender:    sender,
		subPermit: newIDAllocator(int64(cfg.MaxSubscriptionsPerConnection), IDFormatNumber),
		subIDGen:  newIDAllocator(1<<62, IDFormatString),
		subs:      make(map[SubscriptionId]*Sink),
		outboundC: make(chan interface{}, cfg.MaxConcurrentRequests),
		group:     group,
		closed:    make(chan struct{}),
	}
}

func (c *Connection) nextSubID() SubscriptionId { return c.subIDGen.next() }

func (c *Connection) addSub(id SubscriptionId, s *Sink) {
	c.subMu.Lock()
	c.subs[id] = s
	c.subMu.Unlock()
}

func (c *Connection) removeSub(id SubscriptionId) {
	c.subMu.Lock()
	delete(c.subs, id)
	c.subMu.Unlock()
}

func (c *Connection) lookupSub(id SubscriptionId) (*Sink, bool) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	s, ok := c.subs[id]
	return s, ok
}

// send enqueues msg for the writer goroutine, blocking if the outbound sink
// is full; this is ordinary backpressure, not overflow.
func (c *Connection) send(msg *jsonrpcMessage) {
	select {
	case c.outboundC <- msg:
	case <-c.closed:
	}
}

// sendBounded is the non-blocking variant used for subscription
// notifications: a full outbound sink is reported as overflow so the Sink
// can apply the drop policy.
func (c *Connection) sendBounded(msg *jsonrpcMessage) bool {
	select {
	case c.outboundC <- msg:
		return true
	default:
		return false
	}
}

func (c *Connection) writer(ctx context.Context) {
	for {
		select {
		case item, ok := <-c.outboundC:
			if !ok {
				return
			}
			var enc []byte
			switch v := item.(type) {
			case *rawFrame:
				enc = v.enc
			default:
				var err error
				enc, err = json.Marshal(v)
				if err != nil {
					log.Error("rpc: failed to marshal outbound message", "err", err)
					continue
				}
			}
			if err := c.sender.Send(ctx, string(enc)); err != nil {
				log.Debug("rpc: send failed, tearing down connection", "conn", c.id, "err", err)
				c.teardown()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// teardown closes every live subscription, since the peer is gone and no
// terminal notification can be delivered, and releases the connection's
// subscription permits.
func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.subMu.Lock()
		subs := make([]*Sink, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		c.subMu.Unlock()
		for _, s := range subs {
			// peer already gone; no terminal notification can be sent
			atomic.StoreInt32(&s.state, sinkClosed)
			s.token.release()
			c.removeSub(s.id)
		}
		_ = c.group.Wait()
		c.sender.Close()
		c.permit.release()
	})
}

// Serve is the Dispatch Loop: reads frames from recvr until it errs,
// routing each to the registry and writing responses via the writer
// goroutine. It returns once the connection is torn down.
//
// When ping_interval is set, a watchdog goroutine sends keep-alive pings on
// that period and cancels the connection's context if no pong has been seen
// within two intervals, which unblocks the in-flight Receive and tears the
// connection down along with every one of its subscriptions.
func (c *Connection) Serve(ctx context.Context, recvr Receiver) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.writer(connCtx)
	if c.cfg.PingInterval > 0 {
		go c.pingWatchdog(connCtx, cancel)
	}
	defer c.teardown()
	for {
		msg, err := recvr.Receive(connCtx)
		if err != nil {
			log.Debug("rpc: connection receive failed", "conn", c.id, "err", err)
			return
		}
		switch msg.Kind {
		case ReceivedPong:
			atomic.StoreInt64(&c.lastPongAt, time.Now().UnixNano())
			continue
		case ReceivedText:
			c.handleFrame([]byte(msg.Text))
		case ReceivedBytes:
			c.handleFrame(msg.Data)
		}
	}
}

// pingWatchdog implements the ping_interval keep-alive.
func (c *Connection) pingWatchdog(ctx context.Context, cancel context.CancelFunc) {
	atomic.StoreInt64(&c.lastPongAt, time.Now().UnixNano())
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.sender.SendPing(ctx); err != nil {
				log.Debug("rpc: ping send failed, tearing down connection", "conn", c.id, "err", err)
				cancel()
				return
			}
			last := time.Unix(0, atomic.LoadInt64(&c.lastPongAt))
			if time.Since(last) > 2*c.cfg.PingInterval {
				log.Debug("rpc: missed pong, tearing down connection", "conn", c.id)
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) handleFrame(raw []byte) {
	if len(raw) > c.cfg.MaxRequestBodySize {
		resp := (&jsonrpcMessage{}).errorResponse(requestTooLargeErr())
		c.send(resp)
		return
	}
	msgs, batch, err := parseMessage(raw)
	if err != nil {
		c.send((&jsonrpcMessage{}).errorResponse(parseError(err.Error())))
		return
	}
	if batch {
		c.handleBatch(msgs)
		return
	}
	c.handleSingle(msgs[0], nil)
}

func (c *Connection) handleSingle(msg *jsonrpcMessage, collect func(*jsonrpcMessage)) {
	if msg.Method == "" {
		c.deliver(msg.errorResponse(invalidRequestErr("missing method")), collect)
		return
	}

	entry, resolvedName, ok := c.registry.lookup(msg.Method)
	if !ok {
		if msg.isNotification() {
			return
		}
		resp := msg.errorResponse(methodNotFoundErr(msg.Method))
		c.deliver(resp, collect)
		return
	}

	guard, fits := c.resources.claim(entry.cost)
	if !fits {
		if msg.isNotification() {
			return
		}
		c.deliver(msg.errorResponse(serverBusyErr()), collect)
		return
	}

	params := NewParams(msg.Params)

	switch entry.kind {
	case entrySync:
		defer guard.release()
		result, err := entry.sync(c, params)
		if msg.isNotification() {
			return
		}
		c.deliver(responseOrError(msg, result, err), collect)

	case entryAsync:
		done := make(chan struct{})
		c.group.Go(func() error {
			defer close(done)
			defer guard.release()
			result, err := entry.async(c, params)
			if !msg.isNotification() {
				c.deliver(responseOrError(msg, result, err), collect)
			}
			return nil
		})
		if collect != nil {
			// A batch member's reply must be collected before handleBatch
			// assembles the reply array.
			<-done
		}

	case entrySubscriptionOpen:
		defer guard.release()
		if msg.isNotification() {
			return
		}
		pending := &PendingSink{conn: c, req: msg, notifName: c.registry.notifName(resolvedName), closeName: entry.closeName}
		entry.sub(c, params, pending)
		pending.autoReject()

	case entrySubscriptionClose:
		defer guard.release()
		var id SubscriptionId
		if err := params.One(&id); err != nil {
			if !msg.isNotification() {
				c.deliver(msg.errorResponse(err), collect)
			}
			return
		}
		// The close-name method never fails with TooManySubscriptions even
		// when the connection is currently over its limit. It only ever
		// reports whether a subscription was actually removed.
		sink, existed := c.lookupSub(id)
		if existed {
			sink.Close(nil)
		}
		if !msg.isNotification() {
			c.deliver(responseOrError(msg, existed, nil), collect)
		}

	default:
		guard.release()
		if !msg.isNotification() {
			c.deliver(msg.errorResponse(invalidRequestErr("unregistered entry kind")), collect)
		}
	}
}

func (c *Connection) deliver(resp *jsonrpcMessage, collect func(*jsonrpcMessage)) {
	if collect != nil {
		collect(resp)
		return
	}
	c.send(resp)
}

func responseOrError(msg *jsonrpcMessage, result interface{}, err error) *jsonrpcMessage {
	if err != nil {
		return msg.errorResponse(err)
	}
	return msg.response(result)
}

// handleBatch runs every batch member concurrently, collects results in
// input order, excludes notifications from the reply, and replaces an
// oversized serialized reply with a single BatchTooLarge error.
func (c *Connection) handleBatch(msgs []*jsonrpcMessage) {
	if !c.cfg.BatchRequestsSupported {
		c.send((&jsonrpcMessage{}).errorResponse(ErrBatchNotSupported))
		return
	}
	if len(msgs) == 0 {
		c.send((&jsonrpcMessage{}).errorResponse(invalidRequestErr("empty batch")))
		return
	}
	results := make([]*jsonrpcMessage, len(msgs))
	var wg sync.WaitGroup
	for i, m := range msgs {
		wg.Add(1)
		go func(i int, m *jsonrpcMessage) {
			defer wg.Done()
			c.handleSingle(m, func(r *jsonrpcMessage) { results[i] = r })
		}(i, m)
	}
	wg.Wait()

	reply := make([]*jsonrpcMessage, 0, len(results))
	for _, r := range results {
		if r != nil {
			reply = append(reply, r)
		}
	}
	if len(reply) == 0 {
		return
	}
	enc, err := json.Marshal(reply)
	if err == nil && len(enc) <= c.cfg.MaxResponseBodySize {
		c.sendRaw(enc)
		return
	}
	c.send((&jsonrpcMessage{}).errorResponse(batchTooLargeErr()))
}

func (c *Connection) sendRaw(enc []byte) {
	select {
	case c.outboundC <- &rawFrame{enc}:
	case <-c.closed:
	}
}

// rawFrame lets handleBatch push an already-serialized array through the
// same outboundC as individual *jsonrpcMessage values.
type rawFrame struct{ enc []byte }

// Server bounds the number of concurrently accepted connections to
// max_connections and hands each one the shared, immutable Method
// Registry. It owns no transport itself: the caller accepts connections on
// whatever listener it likes and hands this Server the resulting Sender
// for each one.
type Server struct {
	registry *Registry
	cfg      Config
	permit   *idAllocator
}

// NewServer builds a Server bounded to cfg.MaxConnections concurrent
// connections, dispatching against registry.
func NewServer(cfg Config, registry *Registry) *Server {
	return &Server{
		registry: registry,
		cfg:      cfg,
		permit:   newIDAllocator(int64(cfg.MaxConnections), IDFormatNumber),
	}
}

// Accept claims one of the server's max_connections slots and returns a
// Connection ready for Serve. It fails fast with ErrTooManyConnections
// rather than blocking when the server is already at capacity, the same
// acquire semantics as the Id Allocator, applied to whole connections
// instead of request ids.
func (s *Server) Accept(id string, resources *Resources, sender Sender) (*Connection, error) {
	token, err := s.permit.acquire(1)
	if err != nil {
		return nil, ErrTooManyConnections
	}
	conn := NewConnection(id, s.registry, resources, s.cfg, sender)
	conn.permit = token
	return conn, nil
}
