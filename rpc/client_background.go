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
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
)

// Frontend-to-background commands.
type cmdRequest struct {
	msg  *jsonrpcMessage
	slot chan callResult
}

type cmdBatch struct {
	msgs []*jsonrpcMessage
	ids  []Id
	slot chan batchResult
}

type cmdSubscribe struct {
	msg         *jsonrpcMessage
	subID       Id
	unsubID     Id
	unsubMethod string
	sub         *ClientSubscription
	slot        *subscribeSlot
}

type cmdNotify struct {
	msg  *jsonrpcMessage
	done chan error
}

type cmdRegisterNotif struct {
	method string
	sink   chan json.RawMessage
	result chan error
}

type cmdUnregisterNotif struct {
	method string
}

// cmdSubscriptionClosed is generated when a subscription handle is dropped
//.
type cmdSubscriptionClosed struct {
	serverSubID SubscriptionId
}

type inboundFrame struct {
	raw []byte
	err error
}

// clientLoop is the Client Background Task: the single goroutine that owns
// the transport, the Request Manager, and demultiplexes inbound frames.
type clientLoop struct {
	cfg    Config
	sender Sender
	recvr  Receiver
	mgr    *manager
	ids    *idAllocator

	cmdCh    chan interface{}
	inboundC chan inboundFrame
	quit     chan struct{}

	readCtx    context.Context
	cancelRead context.CancelFunc
	closing    int32

	lastPongAt int64 // UnixNano, updated by readLoop on every ReceivedPong

	fatalErr error
}

func newClientLoop(cfg Config, sender Sender, recvr Receiver) *clientLoop {
	readCtx, cancel := context.WithCancel(context.Background())
	return &clientLoop{
		cfg:        cfg,
		sender:     sender,
		recvr:      recvr,
		mgr:        newManager(),
		ids:        newIDAllocator(int64(cfg.MaxConcurrentRequests), cfg.IDFormat),
		cmdCh:      make(chan interface{}, cfg.MaxConcurrentRequests),
		inboundC:   make(chan inboundFrame, 16),
		quit:       make(chan struct{}),
		readCtx:    readCtx,
		cancelRead: cancel,
	}
}

func (cl *clientLoop) start() {
	go cl.readLoop()
	go cl.run()
}

// stop cancels the in-flight Receive and tells the background task the
// shutdown was caller-initiated, so it drains with ErrClientQuit rather than
// treating the resulting read error as a correlation-breaking fault.
func (cl *clientLoop) stop() {
	atomic.StoreInt32(&cl.closing, 1)
	cl.cancelRead()
}

// readLoop owns the Receiver exclusively and never touches the manager; it
// only ever forwards frames and terminal errors to the main loop.
func (cl *clientLoop) readLoop() {
	for {
		msg, err := cl.recvr.Receive(cl.readCtx)
		if err != nil {
			select {
			case cl.inboundC <- inboundFrame{err: err}:
			case <-cl.quit:
			}
			return
		}
		switch msg.Kind {
		case ReceivedPong:
			atomic.StoreInt64(&cl.lastPongAt, time.Now().UnixNano())
			continue
		case ReceivedText:
			select {
			case cl.inboundC <- inboundFrame{raw: []byte(msg.Text)}:
			case <-cl.quit:
				return
			}
		case ReceivedBytes:
			select {
			case cl.inboundC <- inboundFrame{raw: msg.Data}:
			case <-cl.quit:
				return
			}
		}
	}
}

type timeoutEntry struct {
	id       Id
	kind     idStatus
	batchIDs []Id
}

// run is the select-loop over frontend commands, inbound frames and timeout
// ticks, each branch mutating the manager and possibly enqueuing an outbound
// frame. Only this goroutine mutates cl.mgr. When ping_interval is set, a
// fourth branch drives the keep-alive: it sends a ping on every tick and
// aborts the connection as a fatal transport error if no pong has been seen
// within two intervals.
func (cl *clientLoop) run() {
	defer close(cl.quit)
	defer cl.sender.Close()

	timeoutC := make(chan timeoutEntry, 64)

	var pingC <-chan time.Time
	if cl.cfg.PingInterval > 0 {
		atomic.StoreInt64(&cl.lastPongAt, time.Now().UnixNano())
		ticker := time.NewTicker(cl.cfg.PingInterval)
		defer ticker.Stop()
		pingC = ticker.C
	}

	for {
		select {
		case cmd := <-cl.cmdCh:
			cl.handleCommand(cmd, timeoutC)

		case frame := <-cl.inboundC:
			if frame.err != nil {
				cl.failFatal(frame.err)
				return
			}
			cl.handleInbound(frame.raw)
			if cl.fatalErr != nil {
				return
			}

		case te := <-timeoutC:
			cl.handleTimeout(te)

		case <-pingC:
			if cl.handlePingTick() {
				return
			}
		}
	}
}

// handlePingTick sends a keep-alive ping and reports whether the connection
// has gone fatally idle (no pong within two ping intervals).
func (cl *clientLoop) handlePingTick() bool {
	if err := cl.sender.SendPing(context.Background()); err != nil {
		cl.failFatal(err)
		return true
	}
	last := time.Unix(0, atomic.LoadInt64(&cl.lastPongAt))
	if time.Since(last) > 2*cl.cfg.PingInterval {
		cl.failFatal(errors.New("rpc: missed keep-alive pong"))
		return true
	}
	return false
}

func (cl *clientLoop) failFatal(cause error) {
	if atomic.LoadInt32(&cl.closing) != 0 {
		cl.fatalErr = ErrClientQuit
		log.Debug("rpc: client background task stopping", "err", cause)
	} else {
		cl.fatalErr = errors.Wrapf(ErrRestartNeeded, "client background task aborting: %s", cause)
		log.Error("rpc: client background task aborting", "err", cause)
	}
	cl.mgr.drainAll(cl.fatalErr)
}

func (cl *clientLoop) send(ctx context.Context, msg *jsonrpcMessage) error {
	enc, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return cl.sender.Send(ctx, string(enc))
}

func (cl *clientLoop) handleCommand(cmd interface{}, timeoutC chan timeoutEntry) {
	switch c := cmd.(type) {
	case *cmdNotify:
		c.done <- cl.send(context.Background(), c.msg)

	case *cmdRequest:
		id := *c.msg.ID
		if !cl.mgr.insertCall(id, c.slot) {
			c.slot <- callResult{err: errors.New("rpc: duplicate request id")}
			return
		}
		cl.scheduleTimeout(timeoutEntry{id: id, kind: statusPendingCall}, timeoutC)
		if err := cl.send(context.Background(), c.msg); err != nil {
			if slot, ok := cl.mgr.completeCall(id); ok {
				slot <- callResult{err: err}
			}
		}

	case *cmdBatch:
		if !cl.mgr.insertBatch(c.ids, c.slot) {
			c.slot <- batchResult{err: errors.New("rpc: duplicate batch ids")}
			return
		}
		cl.scheduleTimeout(timeoutEntry{batchIDs: c.ids}, timeoutC)
		raw, err := json.Marshal(c.msgs)
		if err == nil {
			err = cl.sender.Send(context.Background(), string(raw))
		}
		if err != nil {
			if g, ok := cl.mgr.completeBatch(c.ids); ok {
				g.slot <- batchResult{err: err}
			}
		}

	case *cmdSubscribe:
		if !cl.mgr.insertPendingSub(c.subID, c.unsubID, c.slot, c.unsubMethod, c.sub) {
			deliverSubscribeResult(c.slot, subscribeResult{err: errors.New("rpc: duplicate subscription ids")})
			return
		}
		cl.scheduleTimeout(timeoutEntry{id: c.subID, kind: statusPendingSub}, timeoutC)
		if err := cl.send(context.Background(), c.msg); err != nil {
			if p, ok := cl.mgr.completePendingSub(c.subID); ok {
				deliverSubscribeResult(p.slot, subscribeResult{err: err})
			}
		}

	case *cmdRegisterNotif:
		if !cl.mgr.insertNotifHandler(c.method, c.sink) {
			c.result <- errors.New("rpc: notification handler already registered for " + c.method)
			return
		}
		c.result <- nil

	case *cmdUnregisterNotif:
		cl.mgr.removeNotifHandler(c.method)

	case *cmdSubscriptionClosed:
		if as, ok := cl.mgr.removeSub(c.serverSubID); ok {
			cl.sendUnsubscribe(as)
		}
	}
}

// sendUnsubscribe synthesizes the close-name call with the server-assigned
// subscription id. The completion is not awaited; it is fire-and-forget, but
// the id is still registered as a placeholder OutstandingCall with a nil
// slot so its eventual response is correlated as statusPendingCall and
// silently discarded, rather than landing on no table at all and being
// mistaken for a correlation failure.
func (cl *clientLoop) sendUnsubscribe(as *activeSub) {
	cl.mgr.insertCall(as.unsubID, nil)
	params, _ := json.Marshal([]interface{}{as.serverSubID})
	msg := newRequest(as.unsubMethod, as.unsubID, params)
	if err := cl.send(context.Background(), msg); err != nil {
		// Best-effort: the connection is already going down and the server
		// will observe disconnect as implicit unsubscribe; don't leave the
		// placeholder call registered forever.
		cl.mgr.completeCall(as.unsubID)
	}
}

func (cl *clientLoop) scheduleTimeout(te timeoutEntry, timeoutC chan timeoutEntry) {
	if cl.cfg.RequestTimeout <= 0 {
		return
	}
	time.AfterFunc(cl.cfg.RequestTimeout, func() {
		select {
		case timeoutC <- te:
		case <-cl.quit:
		}
	})
}

func (cl *clientLoop) handleTimeout(te timeoutEntry) {
	if len(te.batchIDs) > 0 {
		if g, ok := cl.mgr.completeBatch(te.batchIDs); ok {
			g.slot <- batchResult{err: ErrRequestTimeout}
		}
		return
	}
	switch te.kind {
	case statusPendingCall:
		if slot, ok := cl.mgr.completeCall(te.id); ok && slot != nil {
			slot <- callResult{err: ErrRequestTimeout}
		}
	case statusPendingSub:
		if p, ok := cl.mgr.completePendingSub(te.id); ok {
			deliverSubscribeResult(p.slot, subscribeResult{err: ErrRequestTimeout})
		}
	}
}

// handleInbound implements the response-demultiplexing algorithm, applied
// to every inbound frame.
func (cl *clientLoop) handleInbound(raw []byte) {
	msgs, batch, err := parseMessage(raw)
	if err != nil {
		log.Debug("rpc: dropping unparsable frame", "err", err)
		return
	}
	if batch {
		cl.handleInboundBatch(msgs)
		return
	}
	cl.handleInboundSingle(msgs[0])
}

func (cl *clientLoop) handleInboundSingle(msg *jsonrpcMessage) {
	switch {
	case msg.isMalformedResponse():
		log.Debug("rpc: dropping response carrying both result and error", "id", msg.ID)
	case msg.isResponse():
		cl.handleResponse(msg)
	case msg.isNotification():
		cl.handleNotification(msg)
	default:
		log.Debug("rpc: dropping malformed frame", "msg", msg)
	}
}

func (cl *clientLoop) handleResponse(msg *jsonrpcMessage) {
	if msg.ID == nil {
		log.Debug("rpc: response with no id", "msg", msg)
		return
	}
	id := *msg.ID
	switch cl.mgr.status(id) {
	case statusPendingCall:
		slot, _ := cl.mgr.completeCall(id)
		if slot == nil {
			// A placeholder call with no completion, e.g. a synthesized
			// unsubscribe: the response is correlated and silently discarded.
			return
		}
		if msg.Error != nil {
			slot <- callResult{err: msg.Error}
		} else {
			slot <- callResult{result: msg.Result}
		}

	case statusPendingSub:
		cl.handleSubscribeResponse(id, msg)

	default:
		log.Debug("rpc: response for unknown id, connection is now unusable", "id", id)
		cl.failFatal(errors.Wrap(ErrInvalidRequestID, "invalid request id"))
	}
}

func (cl *clientLoop) handleSubscribeResponse(id Id, msg *jsonrpcMessage) {
	if msg.Error != nil {
		p, _ := cl.mgr.completePendingSub(id)
		deliverSubscribeResult(p.slot, subscribeResult{err: msg.Error})
		return
	}
	var serverSubID SubscriptionId
	if err := json.Unmarshal(msg.Result, &serverSubID); err != nil {
		// The reserved unsub id is deliberately kept, not freed: it will
		// never be used, which is acceptable, but ids are never reused.
		p, _ := cl.mgr.completePendingSubKeepUnsub(id)
		deliverSubscribeResult(p.slot, subscribeResult{err: errors.Wrap(ErrInvalidSubscriptionID, err.Error())})
		return
	}

	p := cl.mgr.pendingSubs[id]
	slot := p.slot
	as, err := cl.mgr.promotePendingSub(id, serverSubID)
	if err != nil {
		deliverSubscribeResult(slot, subscribeResult{err: err})
		return
	}
	as.sink.serverSubID = serverSubID

	if atomic.LoadInt32(&slot.abandoned) != 0 {
		// The caller gave up waiting before the handshake completed; don't
		// leak the subscription, synthesize the unsubscribe immediately
		//.
		if removed, ok := cl.mgr.removeSub(serverSubID); ok {
			cl.sendUnsubscribe(removed)
		}
		return
	}
	go as.sink.start()
	slot.ch <- subscribeResult{sub: as.sink}
}

func (cl *clientLoop) handleNotification(msg *jsonrpcMessage) {
	var sr subscriptionResult
	if err := json.Unmarshal(msg.Params, &sr); err == nil && !sr.ID.IsNull() {
		if as, ok := cl.mgr.activeBySrvID[sr.ID]; ok {
			if as.sink.deliver(sr.Result) == deliverOverflow {
				if removed, ok := cl.mgr.removeSub(sr.ID); ok {
					removed.sink.closeWithError(ErrSubscriptionQueueOverflow)
					cl.sendUnsubscribe(removed)
				}
			}
			return
		}
	}
	if h, ok := cl.mgr.notifHandlers[msg.Method]; ok {
		select {
		case h.sink <- msg.Params:
		default:
			cl.mgr.removeNotifHandler(msg.Method)
			close(h.sink)
		}
	}
}

func (cl *clientLoop) handleInboundBatch(msgs []*jsonrpcMessage) {
	ids := make([]Id, 0, len(msgs))
	byID := make(map[Id]*jsonrpcMessage, len(msgs))
	for _, m := range msgs {
		if m.ID == nil {
			continue
		}
		ids = append(ids, *m.ID)
		byID[*m.ID] = m
	}
	g, ok := cl.mgr.completeBatch(ids)
	if !ok {
		log.Debug("rpc: batch response for unknown id set")
		return
	}
	ordered := make([]*jsonrpcMessage, len(g.ids))
	for id, idx := range g.posIndex {
		ordered[idx] = byID[id]
	}
	g.slot <- batchResult{responses: ordered}
}
