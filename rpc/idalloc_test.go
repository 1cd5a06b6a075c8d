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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDAllocatorCapFailsFast(t *testing.T) {
	a := newIDAllocator(2, IDFormatNumber)

	tok1, err := a.acquire(1)
	require.NoError(t, err)
	tok2, err := a.acquire(1)
	require.NoError(t, err)

	_, err = a.acquire(1)
	require.ErrorIs(t, err, ErrMaxSlotsExceeded)

	tok1.release()
	tok3, err := a.acquire(1)
	require.NoError(t, err)

	tok2.release()
	tok3.release()
}

func TestIDAllocatorFormats(t *testing.T) {
	numAlloc := newIDAllocator(10, IDFormatNumber)
	id1 := numAlloc.next()
	id2 := numAlloc.next()
	require.True(t, id1.Less(id2))

	strAlloc := newIDAllocator(10, IDFormatString)
	sid := strAlloc.next()
	require.NotEmpty(t, sid.String())
}
