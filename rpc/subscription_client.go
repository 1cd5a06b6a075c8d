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
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/log"
)

type deliverStatus uint8

const (
	deliverOK deliverStatus = iota
	deliverOverflow
)

// ClientSubscription is the caller-owned Sink for an ActiveSubscription.
// Notifications are demultiplexed into sub.in by the Client Background Task
// and forwarded to the caller's channel by a dedicated goroutine, so a slow
// consumer never blocks the background task.
type ClientSubscription struct {
	client      *Client
	serverSubID SubscriptionId // set once promoted; read only from background task or after Unsubscribe
	etype       reflect.Type
	channel     reflect.Value
	in          chan json.RawMessage

	quitOnce sync.Once
	quit     chan struct{}
	errOnce  sync.Once
	errc     chan error
}

func newClientSubscription(c *Client, channel reflect.Value, bufCap int) *ClientSubscription {
	return &ClientSubscription{
		client:  c,
		etype:   channel.Type().Elem(),
		channel: channel,
		in:      make(chan json.RawMessage, bufCap),
		quit:    make(chan struct{}),
		errc:    make(chan error, 1),
	}
}

// Err returns a channel that receives the terminal error, if any, and is
// closed once the subscription has fully unwound.
func (sub *ClientSubscription) Err() <-chan error {
	return sub.errc
}

// Unsubscribe drops the handle: it posts SubscriptionClosed to the
// background task on a best-effort basis and stops delivery.
func (sub *ClientSubscription) Unsubscribe() {
	sub.quitOnce.Do(func() {
		close(sub.quit)
		sub.channel.Close()
		if sub.client != nil {
			sub.client.notifySubscriptionClosed(sub.serverSubID)
		}
	})
	sub.errOnce.Do(func() { close(sub.errc) })
}

// closeWithError is used by the manager to tear down a subscription whose
// connection died, or whose sink overflowed.
func (sub *ClientSubscription) closeWithError(err error) {
	sub.quitOnce.Do(func() {
		close(sub.quit)
		sub.channel.Close()
	})
	sub.errOnce.Do(func() {
		if err != nil {
			sub.errc <- err
		}
		close(sub.errc)
	})
}

// deliver attempts a non-blocking push into the bounded sink. A full buffer
// is reported as overflow so the background task can apply the
// drop-subscription policy.
func (sub *ClientSubscription) deliver(raw json.RawMessage) deliverStatus {
	select {
	case sub.in <- raw:
		return deliverOK
	default:
		return deliverOverflow
	}
}

// start runs the forwarding loop that drains sub.in into the caller's typed
// channel. It exits when quit is closed (overflow, explicit unsubscribe, or
// connection teardown).
func (sub *ClientSubscription) start() {
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sub.quit)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sub.in)},
	}
	for {
		chosen, recv, recvOK := reflect.Select(cases)
		switch chosen {
		case 0:
			return
		case 1:
			if !recvOK {
				return
			}
			val, err := sub.unmarshal(recv.Interface().(json.RawMessage))
			if err != nil {
				log.Debug("rpc: dropping undecodable subscription item", "err", err)
				continue
			}
			sendCases := []reflect.SelectCase{
				{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sub.quit)},
				{Dir: reflect.SelectSend, Chan: sub.channel, Send: val},
			}
			if c, _, _ := reflect.Select(sendCases); c == 0 {
				return
			}
		}
	}
}

func (sub *ClientSubscription) unmarshal(raw json.RawMessage) (reflect.Value, error) {
	val := reflect.New(sub.etype)
	if err := json.Unmarshal(raw, val.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return val.Elem(), nil
}
