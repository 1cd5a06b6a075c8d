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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recvOutbound pulls the next frame the Connection wrote to its outbound
// sink, decoding it into a generic map for field assertions.
func recvOutbound(t *testing.T, c *Connection) map[string]interface{} {
	t.Helper()
	select {
	case item := <-c.outboundC:
		enc, err := json.Marshal(item)
		require.NoError(t, err)
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(enc, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outbound frame")
		return nil
	}
}

func newTestConnection(registry *Registry, opts ...Option) *Connection {
	cfg := NewConfig(opts...)
	return NewConnection("conn-test", registry, NewResources(nil), cfg, nopSender{})
}

// recvResponse skips over any subscription notifications (sent, e.g., by a
// Sink.Close that fires ahead of a close-name response on the same
// outbound channel) and returns the frame carrying the given request id.
func recvResponse(t *testing.T, c *Connection, id float64) map[string]interface{} {
	t.Helper()
	for i := 0; i < 10; i++ {
		m := recvOutbound(t, c)
		if rid, ok := m["id"]; ok && rid == id {
			return m
		}
	}
	t.Fatalf("no response for id %v seen", id)
	return nil
}

func TestEmptyBatchYieldsSingleInvalidRequest(t *testing.T) {
	c := newTestConnection(NewRegistry())
	c.handleFrame([]byte("[]"))

	resp := recvOutbound(t, c)
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(errcodeInvalidRequest), errObj["code"])
	require.Nil(t, resp["id"])
}

func TestNotificationInBatchContributesNoReply(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterSync("echo", nil, func(_ *Connection, p *Params) (interface{}, error) {
		var s string
		require.NoError(t, p.One(&s))
		return s, nil
	}))
	c := newTestConnection(registry)

	batch := `[{"jsonrpc":"2.0","method":"echo","params":["a"],"id":1},` +
		`{"jsonrpc":"2.0","method":"echo","params":["ignored"]}]`
	c.handleFrame([]byte(batch))

	item := <-c.outboundC
	raw, ok := item.(*rawFrame)
	require.True(t, ok)
	var replies []map[string]interface{}
	require.NoError(t, json.Unmarshal(raw.enc, &replies))
	require.Len(t, replies, 1, "the notification member must not appear in the reply")
	require.Equal(t, "a", replies[0]["result"])
}

func TestBatchNotSupportedYieldsSingleError(t *testing.T) {
	c := newTestConnection(NewRegistry(), WithBatchRequestsSupported(false))
	c.handleFrame([]byte(`[{"jsonrpc":"2.0","method":"echo","params":[],"id":1}]`))

	resp := recvOutbound(t, c)
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, errObj["message"], "not supported")
}

func TestOversizedRequestBodyRejected(t *testing.T) {
	c := newTestConnection(NewRegistry(), WithMaxRequestBodySize(8))
	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"echo","params":[],"id":1}`))

	resp := recvOutbound(t, c)
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(errcodeRequestBodyTooLarge), errObj["code"])
}

func TestSubscriptionHandlerMustAcceptOrReject(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.RegisterSubscription("sub", "sub_notif", "unsub", nil,
		func(_ *Connection, _ *Params, _ *PendingSink) {
			// Neither Accept nor Reject: implicit rejection.
		}))
	c := newTestConnection(registry)
	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"sub","params":[],"id":1}`))

	resp := recvOutbound(t, c)
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, float64(errcodeInvalidParams), errObj["code"])
}

func TestUnsubscribeIsIdempotentFalseOnSecondCall(t *testing.T) {
	registry := NewRegistry()
	var sink *Sink
	require.NoError(t, registry.RegisterSubscription("sub", "sub_notif", "unsub", nil,
		func(_ *Connection, _ *Params, pending *PendingSink) {
			s, err := pending.Accept()
			require.NoError(t, err)
			sink = s
		}))
	c := newTestConnection(registry)

	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"sub","params":[],"id":1}`))
	subResp := recvResponse(t, c, 1)
	require.NotNil(t, subResp["result"])
	require.NotNil(t, sink)

	unsubReq := `{"jsonrpc":"2.0","method":"unsub","params":["` + sink.id.String() + `"],"id":2}`
	c.handleFrame([]byte(unsubReq))
	first := recvResponse(t, c, 2)
	require.Equal(t, true, first["result"])

	c.handleFrame([]byte(unsubReq))
	second := recvResponse(t, c, 2)
	require.Equal(t, false, second["result"])
}

func TestTooManySubscriptionsThenCloseStillWorks(t *testing.T) {
	registry := NewRegistry()
	var lastSink *Sink
	require.NoError(t, registry.RegisterSubscription("sub", "sub_notif", "unsub", nil,
		func(_ *Connection, _ *Params, pending *PendingSink) {
			s, err := pending.Accept()
			if err != nil {
				return
			}
			lastSink = s
		}))
	c := newTestConnection(registry, WithMaxSubscriptionsPerConnection(1))

	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"sub","params":[],"id":1}`))
	first := recvResponse(t, c, 1)
	require.NotNil(t, first["result"])
	require.NotNil(t, lastSink)

	c.handleFrame([]byte(`{"jsonrpc":"2.0","method":"sub","params":[],"id":2}`))
	second := recvResponse(t, c, 2)
	errObj, ok := second["error"].(map[string]interface{})
	require.True(t, ok, "the (K+1)-th subscribe must fail with TooManySubscriptions")
	require.Equal(t, float64(errcodeTooManySubs), errObj["code"])

	unsubReq := `{"jsonrpc":"2.0","method":"unsub","params":["` + lastSink.id.String() + `"],"id":3}`
	c.handleFrame([]byte(unsubReq))
	third := recvResponse(t, c, 3)
	require.Equal(t, true, third["result"], "the unsubscribe method remains callable over the limit")
}
