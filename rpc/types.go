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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const jsonrpcVersion = "2.0"

// idKind distinguishes the three wire forms an Id may take.
type idKind uint8

const (
	idKindNull idKind = iota
	idKindNumber
	idKindString
)

// Id is the JSON-RPC 2.0 request/response correlation token. It is null, an
// unsigned 64-bit integer, or a string. Ordering is numeric < string
// lexicographic, with null only valid on a response to an unparsable request.
type Id struct {
	kind idKind
	num  uint64
	str  string
}

// NullID is the distinguished id used on responses to unparsable requests.
var NullID = Id{kind: idKindNull}

// NumberID constructs a numeric Id.
func NumberID(n uint64) Id { return Id{kind: idKindNumber, num: n} }

// StringID constructs a string Id.
func StringID(s string) Id { return Id{kind: idKindString, str: s} }

func (id Id) IsNull() bool { return id.kind == idKindNull }

func (id Id) String() string {
	switch id.kind {
	case idKindNumber:
		return strconv.FormatUint(id.num, 10)
	case idKindString:
		return id.str
	default:
		return "null"
	}
}

// Less orders ids numeric < string lexicographic.
func (id Id) Less(other Id) bool {
	if id.kind != other.kind {
		return id.kind == idKindNumber && other.kind == idKindString
	}
	if id.kind == idKindNumber {
		return id.num < other.num
	}
	return id.str < other.str
}

func (id Id) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idKindNumber:
		return []byte(strconv.FormatUint(id.num, 10)), nil
	case idKindString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

func (id *Id) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")) || len(data) == 0:
		*id = NullID
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	default:
		n, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("rpc: invalid id %q: %w", data, err)
		}
		*id = NumberID(n)
		return nil
	}
}

// SubscriptionId is the server-assigned token naming a long-lived
// notification stream, unique per connection for its lifetime.
type SubscriptionId = Id

// jsonrpcMessage is the single wire-level envelope shared by requests,
// notifications, responses and error responses; which one a value
// represents depends on which fields are populated.
type jsonrpcMessage struct {
	Version string          `json:"jsonrpc"`
	ID      *Id             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONError      `json:"error,omitempty"`
}

func (msg *jsonrpcMessage) isNotification() bool {
	return msg.ID == nil && msg.Method != ""
}

func (msg *jsonrpcMessage) isCall() bool {
	return msg.ID != nil && msg.Method != ""
}

func (msg *jsonrpcMessage) isResponse() bool {
	return msg.ID != nil && msg.Method == "" && (msg.Result != nil || msg.Error != nil)
}

// isMalformedResponse reports a Response carrying both result and error,
// which is invalid: the two fields are mutually exclusive on the wire.
func (msg *jsonrpcMessage) isMalformedResponse() bool {
	return msg.ID != nil && msg.Method == "" && msg.Result != nil && msg.Error != nil
}

func (msg *jsonrpcMessage) hasValidID() bool {
	return msg.ID != nil
}

func (msg *jsonrpcMessage) String() string {
	b, _ := json.Marshal(msg)
	return string(b)
}

func (msg *jsonrpcMessage) errorResponse(err error) *jsonrpcMessage {
	resp := &jsonrpcMessage{Version: jsonrpcVersion, Error: toJSONError(err)}
	if msg != nil && msg.ID != nil {
		resp.ID = msg.ID
	} else {
		id := NullID
		resp.ID = &id
	}
	return resp
}

func (msg *jsonrpcMessage) response(result interface{}) *jsonrpcMessage {
	enc, err := json.Marshal(result)
	if err != nil {
		return msg.errorResponse(invalidParamsErr(err.Error()))
	}
	return &jsonrpcMessage{Version: jsonrpcVersion, ID: msg.ID, Result: enc}
}

// subscriptionResult is the params payload of a SubscriptionNotification:
// {"subscription": SubscriptionId, "result": T}.
type subscriptionResult struct {
	ID     SubscriptionId  `json:"subscription"`
	Result json.RawMessage `json:"result"`
}

// subscriptionError is the terminal-failure variant of a
// SubscriptionNotification: {"subscription": SubscriptionId, "error": ...}.
type subscriptionError struct {
	ID    SubscriptionId `json:"subscription"`
	Error *JSONError     `json:"error"`
}

func subscriptionNotification(method string, id SubscriptionId, result json.RawMessage) *jsonrpcMessage {
	params, _ := json.Marshal(&subscriptionResult{ID: id, Result: result})
	return &jsonrpcMessage{Version: jsonrpcVersion, Method: method, Params: params}
}

func subscriptionErrorNotification(method string, id SubscriptionId, cause error) *jsonrpcMessage {
	params, _ := json.Marshal(&subscriptionError{ID: id, Error: toJSONError(cause)})
	return &jsonrpcMessage{Version: jsonrpcVersion, Method: method, Params: params}
}

func newRequest(method string, id Id, params json.RawMessage) *jsonrpcMessage {
	return &jsonrpcMessage{Version: jsonrpcVersion, ID: &id, Method: method, Params: params}
}

func newNotificationMsg(method string, params json.RawMessage) *jsonrpcMessage {
	return &jsonrpcMessage{Version: jsonrpcVersion, Method: method, Params: params}
}

// isBatch reports whether the raw frame is a JSON array.
func isBatch(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

func parseMessage(raw []byte) ([]*jsonrpcMessage, bool, error) {
	if isBatch(raw) {
		var msgs []*jsonrpcMessage
		if err := json.Unmarshal(raw, &msgs); err != nil {
			return nil, true, err
		}
		return msgs, true, nil
	}
	msg := new(jsonrpcMessage)
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, false, err
	}
	return []*jsonrpcMessage{msg}, false, nil
}
