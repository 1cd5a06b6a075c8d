// Copyright 2018 The go-ethereum Authors
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
	"unsafe"
)

// Params offers three views over a raw params fragment: a positional
// iterator, a whole-object decode, and a single-element shortcut. It
// never copies the underlying bytes; only values requiring unescaping
// allocate, via encoding/json's own decoder.
type Params struct {
	raw   json.RawMessage
	items []json.RawMessage // populated lazily by asArray
}

// NewParams wraps a raw JSON fragment (an array, an object, or absent/null).
func NewParams(raw json.RawMessage) *Params {
	return &Params{raw: raw}
}

func (p *Params) asArray() ([]json.RawMessage, error) {
	if p.items != nil {
		return p.items, nil
	}
	if len(bytes.TrimSpace(p.raw)) == 0 || bytes.Equal(bytes.TrimSpace(p.raw), []byte("null")) {
		p.items = []json.RawMessage{}
		return p.items, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(p.raw, &arr); err != nil {
		return nil, invalidParamsErr("params is not an array: " + err.Error())
	}
	// json.RawMessage copies each element; re-slice every element out of
	// p.raw so values borrowed from it alias the caller's buffer instead.
	pos := bytes.IndexByte(p.raw, '[') + 1
	for i, item := range arr {
		off := bytes.Index(p.raw[pos:], item)
		if off < 0 {
			break
		}
		end := pos + off + len(item)
		arr[i] = p.raw[pos+off : end : end]
		pos = end
	}
	p.items = arr
	return arr, nil
}

// bytesToString reinterprets b as a string without copying. Only ever
// called on a slice carved out of a Params value's own raw buffer, which
// this package never mutates after parsing, so the aliasing is safe.
func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// hasEscape reports whether a quoted JSON string body contains a backslash,
// i.e. whether turning it into a Go string requires unescaping rather than
// a plain slice of the source bytes.
func hasEscape(body []byte) bool {
	return bytes.IndexByte(body, '\\') >= 0
}

// decodeValue unmarshals raw into v. A *string destination is special-cased
// to borrow the source bytes directly when the JSON string contains no
// escapes, matching the positional iterator's no-copy contract; every other
// destination goes through a json.Decoder with UseNumber so interface{}
// destinations keep arbitrary-precision number literals intact instead of
// losing precision to float64.
func decodeValue(raw json.RawMessage, v interface{}) error {
	if sp, ok := v.(*string); ok {
		return decodeBorrowedString(raw, sp)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeBorrowedString(raw json.RawMessage, out *string) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) < 2 || trimmed[0] != '"' || trimmed[len(trimmed)-1] != '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*out = s
		return nil
	}
	body := trimmed[1 : len(trimmed)-1]
	if hasEscape(body) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*out = s
		return nil
	}
	*out = bytesToString(body)
	return nil
}

// Positional returns an iterator over the params array in order.
func (p *Params) Positional() *PositionalParams {
	return &PositionalParams{p: p}
}

// PositionalParams consumes a Params value's array elements in order.
type PositionalParams struct {
	p   *Params
	idx int
}

// Next decodes the next positional argument into v, failing with
// invalid-params on type mismatch or exhaustion. A *string v is borrowed
// directly from the source bytes when unescaped; only an escaped string
// forces an allocation.
func (it *PositionalParams) Next(v interface{}) error {
	items, err := it.p.asArray()
	if err != nil {
		return err
	}
	if it.idx >= len(items) {
		return invalidParamsErr("missing positional argument")
	}
	raw := items[it.idx]
	it.idx++
	if err := decodeValue(raw, v); err != nil {
		return invalidParamsErr("invalid argument: " + err.Error())
	}
	return nil
}

// OptionalNext decodes the next positional argument into v, returning ok=false
// without error when the tail is missing or the value is JSON null.
func (it *PositionalParams) OptionalNext(v interface{}) (ok bool, err error) {
	items, aerr := it.p.asArray()
	if aerr != nil {
		return false, aerr
	}
	if it.idx >= len(items) {
		return false, nil
	}
	raw := items[it.idx]
	it.idx++
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return false, nil
	}
	if err := decodeValue(raw, v); err != nil {
		return false, invalidParamsErr("invalid argument: " + err.Error())
	}
	return true, nil
}

// Len reports how many positional elements remain unconsumed.
func (it *PositionalParams) Len() int {
	items, err := it.p.asArray()
	if err != nil {
		return 0
	}
	return len(items) - it.idx
}

// Object deserializes the entire params payload into a named-field struct.
func (p *Params) Object(v interface{}) error {
	if len(bytes.TrimSpace(p.raw)) == 0 {
		return invalidParamsErr("missing params object")
	}
	if err := decodeValue(p.raw, v); err != nil {
		return invalidParamsErr("invalid params object: " + err.Error())
	}
	return nil
}

// One is a shortcut for a single-element positional array.
func (p *Params) One(v interface{}) error {
	return p.Positional().Next(v)
}
