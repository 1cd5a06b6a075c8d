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

import "context"

// Sender is the write half of the transport boundary the core requires.
// Concrete framing (WebSocket, HTTP, IPC, TLS) lives entirely outside the
// core; implementations are supplied by the caller.
type Sender interface {
	// Send writes one UTF-8 JSON-RPC frame to the peer.
	Send(ctx context.Context, frame string) error
	// SendPing sends a transport-level keep-alive ping. Implementations for
	// which ping/pong has no meaning may make this a no-op.
	SendPing(ctx context.Context) error
	// Close closes the underlying connection.
	Close() error
}

// ReceivedMessageKind distinguishes the variants a Receiver may produce.
type ReceivedMessageKind uint8

const (
	ReceivedText ReceivedMessageKind = iota
	ReceivedBytes
	ReceivedPong
)

// ReceivedMessage is the decoded result of one Receiver.Receive call.
type ReceivedMessage struct {
	Kind ReceivedMessageKind
	Text string
	Data []byte
}

// Receiver is the read half of the transport boundary.
type Receiver interface {
	// Receive blocks until the next frame, pong, or error is available.
	Receive(ctx context.Context) (ReceivedMessage, error)
}

// TransportError wraps a failure reported by a Sender or Receiver. The core
// does not construct or inspect it: any Receiver error ends the connection
// on either side, and a Sender error ends a server Connection, but on the
// client a Sender error only fails the call, batch or subscription whose
// frame could not be written, and the background task keeps running.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string { return "rpc: transport error: " + e.Cause.Error() }
func (e *TransportError) Unwrap() error { return e.Cause }
