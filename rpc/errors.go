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
	"github.com/cockroachdb/errors"
)

// Reserved JSON-RPC 2.0 error codes, plus the implementation-defined range
// this module uses for resource exhaustion and oversized-request replies.
const (
	errcodeParse          = -32700
	errcodeInvalidRequest = -32600
	errcodeMethodNotFound = -32601
	errcodeInvalidParams  = -32602
	errcodeInternal       = -32603

	errcodeServerIsBusy        = -32000
	errcodeTooManySubs         = -32001
	errcodeSubscriptionClosed  = -32002
	errcodeBatchTooLarge       = -32003
	errcodeRequestBodyTooLarge = -32010
)

// Taxonomy sentinels. Call errors.Is(err, rpc.ErrXxx) to test the kind of a
// returned error; each sentinel is wrapped with a stack trace at its origin
// via cockroachdb/errors so logs retain the call site.
var (
	ErrClientQuit                = errors.New("rpc: client is closed")
	ErrNoResult                  = errors.New("rpc: no result in response")
	ErrNotificationsUnsupported  = errors.New("rpc: notifications not supported on this transport")
	ErrSubscriptionNotFound      = errors.New("rpc: subscription not found")
	ErrSubscriptionQueueOverflow = errors.New("rpc: subscription queue overflow")

	ErrInvalidRequestID       = errors.New("rpc: invalid request id")
	ErrInvalidSubscriptionID  = errors.New("rpc: invalid subscription id")
	ErrDuplicateSubscription  = errors.New("rpc: duplicate subscription id")
	ErrRestartNeeded          = errors.New("rpc: client correlation broken, restart required")
	ErrMaxSlotsExceeded       = errors.New("rpc: max concurrent requests exceeded")
	ErrTooManySubscriptions  = errors.New("rpc: too many subscriptions on this connection")
	ErrServerIsBusy           = errors.New("rpc: server is busy")
	ErrRequestTimeout         = errors.New("rpc: request timed out")
	ErrSubscriptionClosed     = errors.New("rpc: subscription closed")
	ErrBatchNotSupported      = errors.New("rpc: batch requests are not supported by this server")
	ErrTooManyConnections     = errors.New("rpc: server already has max_connections connections")
)

// JSONError is the wire representation of a JSON-RPC 2.0 error object.
type JSONError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONError) Error() string {
	return e.Message
}

func (e *JSONError) ErrorCode() int {
	return e.Code
}

// ErrorCode is implemented by application errors that want to control the
// implementation-defined code surfaced on the wire (-32000..-32099).
type ErrorCode interface {
	error
	ErrorCode() int
}

// DataError is implemented by application errors that carry extra payload
// in the response's error.data field.
type DataError interface {
	error
	ErrorData() interface{}
}

func toJSONError(err error) *JSONError {
	if err == nil {
		return nil
	}
	if je, ok := err.(*JSONError); ok {
		return je
	}
	je := &JSONError{Message: err.Error(), Code: errcodeInternal}
	if ec, ok := err.(ErrorCode); ok {
		je.Code = ec.ErrorCode()
	}
	if de, ok := err.(DataError); ok {
		je.Data = de.ErrorData()
	}
	return je
}

func parseError(msg string) *JSONError  { return &JSONError{Code: errcodeParse, Message: msg} }
func invalidRequestErr(msg string) *JSONError {
	return &JSONError{Code: errcodeInvalidRequest, Message: msg}
}
func methodNotFoundErr(method string) *JSONError {
	return &JSONError{Code: errcodeMethodNotFound, Message: "the method " + method + " does not exist"}
}
func invalidParamsErr(msg string) *JSONError {
	return &JSONError{Code: errcodeInvalidParams, Message: msg}
}
func serverBusyErr() *JSONError {
	return &JSONError{Code: errcodeServerIsBusy, Message: "server is busy, try again later"}
}
func tooManySubsErr() *JSONError {
	return &JSONError{Code: errcodeTooManySubs, Message: "too many subscriptions on this connection"}
}
func batchTooLargeErr() *JSONError {
	return &JSONError{Code: errcodeBatchTooLarge, Message: "batch response exceeds max_response_body_size"}
}
func requestTooLargeErr() *JSONError {
	return &JSONError{Code: errcodeRequestBodyTooLarge, Message: "request exceeds max_request_body_size"}
}
