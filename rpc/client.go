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
	"fmt"
	"reflect"
	"sync/atomic"
)

// Client is the caller-facing half of the JSON-RPC runtime. All of
// its methods are safe for concurrent use; the actual correlation state
// lives exclusively in the Client Background Task started by NewClient.
type Client struct {
	loop   *clientLoop
	closed int32
}

// NewClient wires a Client on top of caller-supplied transport halves and
// starts its background task. The Sender/Receiver pair is the only
// connection this module has to a concrete transport; everything
// from framing to redirect handling to TLS lives outside this package.
func NewClient(cfg Config, sender Sender, recvr Receiver) *Client {
	c := &Client{loop: newClientLoop(cfg, sender, recvr)}
	c.loop.start()
	return c
}

func (c *Client) closedErr() error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrClientQuit
	}
	return nil
}

// Close shuts the connection down; the Client Background Task drains every
// outstanding call, pending subscription and active subscription with
// ErrClientQuit.
func (c *Client) Close() {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return
	}
	c.loop.stop()
}

// Notify sends a Notification: no id, no response expected.
func (c *Client) Notify(ctx context.Context, method string, args ...interface{}) error {
	if err := c.closedErr(); err != nil {
		return err
	}
	params, err := json.Marshal(args)
	if err != nil {
		return err
	}
	done := make(chan error, 1)
	select {
	case c.loop.cmdCh <- &cmdNotify{msg: newNotificationMsg(method, params), done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call issues a single request and decodes its result into result, which
// may be nil to discard it.
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if err := c.closedErr(); err != nil {
		return err
	}
	params, err := json.Marshal(args)
	if err != nil {
		return err
	}
	token, err := c.loop.ids.acquire(1)
	if err != nil {
		return err
	}
	defer token.release()

	id := c.loop.ids.next()
	slot := make(chan callResult, 1)
	msg := newRequest(method, id, params)

	select {
	case c.loop.cmdCh <- &cmdRequest{msg: msg, slot: slot}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case r := <-slot:
		if r.err != nil {
			return r.err
		}
		if result == nil || len(r.result) == 0 {
			return nil
		}
		return json.Unmarshal(r.result, result)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BatchElem is one member of a BatchCall, written in place with its result
// or error once the call returns.
type BatchElem struct {
	Method string
	Args   []interface{}
	Result interface{}
	Error  error
}

// BatchCall sends every element as a single JSON-RPC batch array and
// demultiplexes the responses back into each element's Result/Error fields
// in submission order, regardless of server response order.
func (c *Client) BatchCall(ctx context.Context, elems []BatchElem) error {
	if err := c.closedErr(); err != nil {
		return err
	}
	if len(elems) == 0 {
		return nil
	}
	token, err := c.loop.ids.acquire(len(elems))
	if err != nil {
		return err
	}
	defer token.release()

	ids := make([]Id, len(elems))
	msgs := make([]*jsonrpcMessage, len(elems))
	for i, el := range elems {
		params, err := json.Marshal(el.Args)
		if err != nil {
			return err
		}
		id := c.loop.ids.next()
		ids[i] = id
		msgs[i] = newRequest(el.Method, id, params)
	}

	slot := make(chan batchResult, 1)
	select {
	case c.loop.cmdCh <- &cmdBatch{msgs: msgs, ids: ids, slot: slot}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case r := <-slot:
		if r.err != nil {
			return r.err
		}
		for i, resp := range r.responses {
			if resp == nil {
				elems[i].Error = ErrRequestTimeout
				continue
			}
			if resp.Error != nil {
				elems[i].Error = resp.Error
				continue
			}
			if elems[i].Result != nil && len(resp.Result) > 0 {
				elems[i].Error = json.Unmarshal(resp.Result, elems[i].Result)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe opens a subscription by calling the namespace's subscribe
// method, then reserves an unsubscribe id up front so the close-name call
// never needs a fresh id allocation mid-teardown.
// channel must be a writable, non-nil channel of the notification item type.
func (c *Client) Subscribe(ctx context.Context, subMethod, unsubMethod string, channel interface{}, args ...interface{}) (*ClientSubscription, error) {
	if err := c.closedErr(); err != nil {
		return nil, err
	}
	chanVal := reflect.ValueOf(channel)
	if chanVal.Kind() != reflect.Chan || chanVal.Type().ChanDir() == reflect.RecvDir {
		return nil, fmt.Errorf("rpc: channel argument must be a writable channel")
	}
	if chanVal.IsNil() {
		return nil, fmt.Errorf("rpc: channel argument must not be nil")
	}

	params, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	token, err := c.loop.ids.acquire(2)
	if err != nil {
		return nil, err
	}
	defer token.release()

	subID := c.loop.ids.next()
	unsubID := c.loop.ids.next()
	sub := newClientSubscription(c, chanVal, c.loop.cfg.MaxBufferCapacityPerSub)

	slot := newSubscribeSlot()
	msg := newRequest(subMethod, subID, params)

	select {
	case c.loop.cmdCh <- &cmdSubscribe{msg: msg, subID: subID, unsubID: unsubID, unsubMethod: unsubMethod, sub: sub, slot: slot}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-slot.ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.sub, nil
	case <-ctx.Done():
		// The caller is giving up before the handshake completed. Mark the
		// slot abandoned so the background task doesn't try to deliver to a
		// channel nobody reads, and instead synthesizes the unsubscribe once
		// the (possibly still in flight) response arrives.
		atomic.StoreInt32(&slot.abandoned, 1)
		return nil, ctx.Err()
	}
}

// RegisterNotificationHandler installs the single NotificationHandler for a
// bare notification method. A method may have at most one handler at a time.
func (c *Client) RegisterNotificationHandler(method string) (<-chan json.RawMessage, error) {
	if err := c.closedErr(); err != nil {
		return nil, err
	}
	sink := make(chan json.RawMessage, 16)
	result := make(chan error, 1)
	c.loop.cmdCh <- &cmdRegisterNotif{method: method, sink: sink, result: result}
	if err := <-result; err != nil {
		return nil, err
	}
	return sink, nil
}

// UnregisterNotificationHandler removes a previously registered handler.
func (c *Client) UnregisterNotificationHandler(method string) {
	if c.closedErr() != nil {
		return
	}
	select {
	case c.loop.cmdCh <- &cmdUnregisterNotif{method: method}:
	default:
		go func() {
			select {
			case c.loop.cmdCh <- &cmdUnregisterNotif{method: method}:
			case <-c.loop.quit:
			}
		}()
	}
}

// notifySubscriptionClosed posts a SubscriptionClosed event for the
// background task to process asynchronously; a dropped sink never blocks
// its owner.
func (c *Client) notifySubscriptionClosed(serverSubID SubscriptionId) {
	if c.closedErr() != nil {
		return
	}
	select {
	case c.loop.cmdCh <- &cmdSubscriptionClosed{serverSubID: serverSubID}:
	default:
		go func() {
			select {
			case c.loop.cmdCh <- &cmdSubscriptionClosed{serverSubID: serverSubID}:
			case <-c.loop.quit:
			}
		}()
	}
}
