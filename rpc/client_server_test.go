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

package rpc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayrpc/relay/rpc"
	"github.com/relayrpc/relay/rpc/rpctest"
)

// newEchoServer wires a Registry exposing "echo" (sync) and a
// "sub"/"sub_notif"/"unsub" subscription triple, then serves it over one
// end of an in-memory pipe. The returned Client is connected to the other
// end.
func newEchoServer(t *testing.T) (*rpc.Client, *rpc.Connection) {
	t.Helper()
	registry := rpc.NewRegistry()
	require.NoError(t, registry.RegisterSync("echo", nil, func(_ *rpc.Connection, p *rpc.Params) (interface{}, error) {
		var s string
		if err := p.One(&s); err != nil {
			return nil, err
		}
		return s, nil
	}))
	require.NoError(t, registry.RegisterSubscription("sub", "sub_notif", "unsub", nil,
		func(_ *rpc.Connection, _ *rpc.Params, pending *rpc.PendingSink) {
			sink, err := pending.Accept()
			if err != nil {
				return
			}
			go func() {
				for i := 0; i < 3 && !sink.IsClosed(); i++ {
					sink.Send(i)
					time.Sleep(5 * time.Millisecond)
				}
			}()
		}))

	resources := rpc.NewResources(nil)
	cfg := rpc.DefaultConfig()
	clientPipe, serverPipe := rpctest.NewLoopback()

	conn := rpc.NewConnection("conn-1", registry, resources, cfg, serverPipe)
	go conn.Serve(context.Background(), serverPipe)

	client := rpc.NewClient(cfg, clientPipe, clientPipe)
	t.Cleanup(client.Close)
	return client, conn
}

func TestCallRoundTrip(t *testing.T) {
	client, _ := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result string
	err := client.Call(ctx, &result, "echo", "hello")
	require.NoError(t, err)
	require.Equal(t, "hello", result)
}

func TestCallMethodNotFound(t *testing.T) {
	client, _ := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Call(ctx, nil, "does_not_exist")
	require.Error(t, err)
}

func TestBatchCallPreservesOrder(t *testing.T) {
	client, _ := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var a, b, c string
	elems := []rpc.BatchElem{
		{Method: "echo", Args: []interface{}{"a"}, Result: &a},
		{Method: "echo", Args: []interface{}{"b"}, Result: &b},
		{Method: "echo", Args: []interface{}{"c"}, Result: &c},
	}
	require.NoError(t, client.BatchCall(ctx, elems))
	require.Equal(t, "a", a)
	require.Equal(t, "b", b)
	require.Equal(t, "c", c)
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	client, _ := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch := make(chan int, 8)
	sub, err := client.Subscribe(ctx, "sub", "unsub", ch)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var got []int
	for i := 0; i < 3; i++ {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for notification")
		}
	}
	require.Equal(t, []int{0, 1, 2}, got)
}

// TestUnsubscribeOnDropDoesNotBreakTheConnection exercises spec.md §8
// scenario 4 end to end: the close-name call synthesized when a
// subscription handle is dropped must resolve as a normal, silently
// discarded completion, not a fatal correlation failure that drains the
// client. A subsequent ordinary Call on the same client must still succeed.
func TestUnsubscribeOnDropDoesNotBreakTheConnection(t *testing.T) {
	client, _ := newEchoServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ch := make(chan int, 8)
	sub, err := client.Subscribe(ctx, "sub", "unsub", ch)
	require.NoError(t, err)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first notification")
	}

	sub.Unsubscribe()
	// Give the background task time to send the close-name call and process
	// its response before probing whether the connection is still healthy.
	time.Sleep(100 * time.Millisecond)

	var result string
	err = client.Call(ctx, &result, "echo", "still alive")
	require.NoError(t, err, "a dropped subscription must not leave the client needing a restart")
	require.Equal(t, "still alive", result)
}
