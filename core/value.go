// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	// KindNull is the zero Kind; the zero Value is null.
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is an immutable JSON value: null, bool, number, string, array or object.
// Documents pulled from connectors and node/relationship property bags are
// both expressed as Values.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string // string contents, or the original literal for numbers
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns an array value holding a copy of items.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: slices.Clone(items)}
}

// Object returns an object value holding a copy of fields.
func Object(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{kind: KindObject, obj: obj}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// IsScalar reports whether v is a bool, number or string.
func (v Value) IsScalar() bool {
	return v.kind == KindBool || v.kind == KindNumber || v.kind == KindString
}

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the array elements. The returned slice must not be modified.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsObject returns the object fields. The returned map must not be modified.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// Field returns the named member of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Index returns the i-th element of an array value. Negative indexes count
// from the end.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray {
		return Value{}, false
	}
	if i < 0 {
		i += len(v.arr)
	}
	if i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Len returns the number of elements of an array or members of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// maxExactInt is the largest magnitude below which every integer is exact
// in a float64.
const maxExactInt = 1 << 53

// KeyString renders a scalar as the canonical string used for node identity.
// Null, arrays, objects and empty strings are not usable as keys. Numbers
// render by value, so 1, 1.0 and 1e0 share a key; only literals beyond the
// exact float64 range keep their source text.
func (v Value) KeyString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, v.s != ""
	case KindNumber:
		if v.s != "" && math.Abs(v.n) >= maxExactInt {
			return v.s, true
		}
		return formatNumber(v.n), true
	case KindBool:
		return strconv.FormatBool(v.b), true
	default:
		return "", false
	}
}

// Text renders scalars as plain text and everything else as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	default:
		return v.String()
	}
}

// Equal reports deep equality. Numbers compare by value.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		return slices.EqualFunc(v.arr, o.arr, Value.Equal)
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, a := range v.obj {
			b, ok := o.obj[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// Native converts v into plain Go values: nil, bool, int64 (integral numbers),
// float64, string, []any and map[string]any.
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if v.n == math.Trunc(v.n) && math.Abs(v.n) < 1<<53 {
			return int64(v.n)
		}
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Native()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Native()
		}
		return out
	default:
		return nil
	}
}

// String returns the JSON encoding of v.
func (v Value) String() string {
	bs, err := v.MarshalJSON()
	if err != nil {
		return "<invalid>"
	}
	return string(bs)
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			return nil, fmt.Errorf("unsupported number %v", v.n)
		}
		if v.s != "" {
			return []byte(v.s), nil
		}
		return []byte(formatNumber(v.n)), nil
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			bs, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(bs)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			bs, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(bs)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return json.Marshal(v.Native())
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Keys returns the sorted member names of an object value.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ParseJSON decodes a JSON document into a Value. Number literals are kept
// verbatim so large integer identifiers survive as keys.
func ParseJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, err
	}
	if dec.More() {
		return Value{}, fmt.Errorf("unexpected data after top-level JSON value")
	}
	return FromNative(raw)
}

// FromNative converts decoded JSON (or equivalent Go values) into a Value.
func FromNative(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Value{kind: KindNumber, n: f, s: string(t)}, nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case []float32:
		items := make([]Value, len(t))
		for i, f := range t {
			items[i] = Number(float64(f))
		}
		return Value{kind: KindArray, arr: items}, nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromNative(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromNative(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Value{kind: KindObject, obj: obj}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
