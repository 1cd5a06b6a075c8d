// Package rpctest supplies an in-process transport for exercising the
// Request Manager, Dispatch Loop and Subscription Engine without a real
// network connection. It is test-only infrastructure and is never imported
// by non-test code.
package rpctest

import (
	"bufio"
	"context"
	"net"
	"strings"

	"github.com/relayrpc/relay/rpc"
)

// Pipe is a net.Pipe-backed Sender/Receiver pair, one end of an in-memory,
// full-duplex connection framed as newline-delimited JSON-RPC text frames.
type Pipe struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newPipe(conn net.Conn) *Pipe {
	return &Pipe{conn: conn, reader: bufio.NewReader(conn)}
}

// NewLoopback returns two Pipes connected to each other, suitable for
// wiring a Client to a Connection in the same process.
func NewLoopback() (client *Pipe, server *Pipe) {
	c1, c2 := net.Pipe()
	return newPipe(c1), newPipe(c2)
}

func (p *Pipe) Send(ctx context.Context, frame string) error {
	done := make(chan error, 1)
	go func() { _, err := p.conn.Write([]byte(frame + "\n")); done <- err }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendPing is a no-op: ping/pong has no meaning on an in-memory pipe.
func (p *Pipe) SendPing(ctx context.Context) error { return nil }

func (p *Pipe) Close() error { return p.conn.Close() }

func (p *Pipe) Receive(ctx context.Context) (rpc.ReceivedMessage, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- result{line, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil {
			return rpc.ReceivedMessage{}, res.err
		}
		return rpc.ReceivedMessage{Kind: rpc.ReceivedText, Text: strings.TrimRight(res.line, "\n")}, nil
	case <-ctx.Done():
		p.conn.Close()
		return rpc.ReceivedMessage{}, ctx.Err()
	}
}
