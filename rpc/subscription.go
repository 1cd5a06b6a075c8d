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
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/log"
)

// PendingSink is handed to a SubscriptionHandler. The handler must call
// Accept or Reject exactly once; failing to do either is treated by the
// Dispatch Loop as implicit rejection with InvalidParams.
type PendingSink struct {
	conn      *Connection
	req       *jsonrpcMessage
	notifName string
	closeName string
	decided   int32
}

// Accept allocates a SubscriptionId, sends the initial Response carrying it,
// registers the Sink in the connection's subscription table (subject to
// max_subscriptions_per_connection), and returns the active Sink.
func (p *PendingSink) Accept() (*Sink, error) {
	if !atomic.CompareAndSwapInt32(&p.decided, 0, 1) {
		return nil, errors.New("rpc: subscription already accepted or rejected")
	}
	token, err := p.conn.subPermit.acquire(1)
	if err != nil {
		p.sendError(tooManySubsErr())
		return nil, ErrTooManySubscriptions
	}
	id := p.conn.nextSubID()
	sink := &Sink{
		conn:      p.conn,
		id:        id,
		notifName: p.notifName,
		closeName: p.closeName,
		token:     token,
	}
	p.conn.addSub(id, sink)
	p.conn.send(p.req.response(id))
	return sink, nil
}

// Reject sends an error Response and creates no subscription state.
func (p *PendingSink) Reject(err error) {
	if !atomic.CompareAndSwapInt32(&p.decided, 0, 1) {
		return
	}
	p.sendError(err)
}

func (p *PendingSink) sendError(err error) {
	p.conn.send(p.req.errorResponse(err))
}

func (p *PendingSink) autoReject() {
	if atomic.LoadInt32(&p.decided) == 0 {
		p.Reject(invalidParamsErr("subscription handler returned without accepting or rejecting"))
	}
}

const (
	sinkOpen int32 = iota
	sinkClosed
)

// Sink is the server-side delivery handle for one accepted subscription.
// Its notifications go through the connection's shared outbound queue
// (sized by MaxConcurrentRequests), not a buffer of their own; when that
// queue is full, Send closes the subscription. MaxBufferCapacityPerSub is
// not applied on the server side.
type Sink struct {
	conn      *Connection
	id        SubscriptionId
	notifName string
	closeName string
	token     *idToken
	state     int32
}

// Send serializes value as a SubscriptionNotification and enqueues it on the
// connection's outbound sink. Returns false if the subscription is already
// terminated.
func (s *Sink) Send(value interface{}) bool {
	if atomic.LoadInt32(&s.state) == sinkClosed {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		log.Debug("rpc: dropping unmarshalable subscription value", "sub", s.id, "err", err)
		return false
	}
	msg := subscriptionNotification(s.notifName, s.id, raw)
	if !s.conn.sendBounded(msg) {
		s.Close(ErrSubscriptionQueueOverflow)
		return false
	}
	return true
}

// Close sends a terminal SubscriptionError notification and marks the sink
// closed; no further sends are attempted.
func (s *Sink) Close(reason error) {
	if !atomic.CompareAndSwapInt32(&s.state, sinkOpen, sinkClosed) {
		return
	}
	s.conn.removeSub(s.id)
	s.token.release()
	if reason == nil {
		reason = ErrSubscriptionClosed
	}
	s.conn.send(subscriptionErrorNotification(s.notifName, s.id, reason))
}

// IsClosed is a non-blocking probe of the sink's terminal state.
func (s *Sink) IsClosed() bool {
	return atomic.LoadInt32(&s.state) == sinkClosed
}

// ValueStream is anything a handler can pipe into a Sink until it runs dry.
type ValueStream interface {
	Next() (interface{}, bool)
}

// ChanStream adapts a channel into a ValueStream.
type ChanStream[T any] struct{ Ch <-chan T }

func (c ChanStream[T]) Next() (interface{}, bool) {
	v, ok := <-c.Ch
	if !ok {
		return nil, false
	}
	return v, true
}

// PipeFromStream forwards stream items until the stream ends, the
// subscription closes, or the connection dies.
func (s *Sink) PipeFromStream(stream ValueStream) {
	for {
		if s.IsClosed() {
			return
		}
		v, ok := stream.Next()
		if !ok {
			s.Close(nil)
			return
		}
		if !s.Send(v) {
			return
		}
	}
}
