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
	"testing"

	"github.com/stretchr/testify/require"
)

// nopSender discards everything; it exists only to satisfy the Sender
// interface in tests that never exercise the wire.
type nopSender struct{}

func (nopSender) Send(ctx context.Context, frame string) error { return nil }
func (nopSender) SendPing(ctx context.Context) error            { return nil }
func (nopSender) Close() error                                  { return nil }

func TestServerAcceptEnforcesMaxConnections(t *testing.T) {
	cfg := NewConfig(WithMaxConnections(2))
	srv := NewServer(cfg, NewRegistry())
	resources := NewResources(nil)

	c1, err := srv.Accept("c1", resources, nopSender{})
	require.NoError(t, err)
	c2, err := srv.Accept("c2", resources, nopSender{})
	require.NoError(t, err)

	_, err = srv.Accept("c3", resources, nopSender{})
	require.ErrorIs(t, err, ErrTooManyConnections)

	// Releasing a connection's permit (as teardown does) frees up the slot.
	c1.permit.release()
	c3, err := srv.Accept("c3-retry", resources, nopSender{})
	require.NoError(t, err)

	c2.permit.release()
	c3.permit.release()
}
