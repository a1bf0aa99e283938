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

package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/schemagraph/core"
)

// writer runs in two passes: with a nil buffer it only accumulates the
// encoded size, with a buffer it marshals into it.
type writer struct {
	bs []byte
	n  int
}

func encode(fn func(w *writer)) []byte {
	sizer := &writer{}
	fn(sizer)
	w := &writer{bs: make([]byte, sizer.n)}
	fn(w)
	return w.bs
}

func (w *writer) str(v string) {
	if w.bs == nil {
		w.n += ord.String.Size(v)
		return
	}
	w.n += ord.String.Marshal(v, w.bs[w.n:])
}

func (w *writer) int(v int) {
	if w.bs == nil {
		w.n += varint.Int.Size(v)
		return
	}
	w.n += varint.Int.Marshal(v, w.bs[w.n:])
}

func (w *writer) int64(v int64) {
	if w.bs == nil {
		w.n += varint.Int64.Size(v)
		return
	}
	w.n += varint.Int64.Marshal(v, w.bs[w.n:])
}

func (w *writer) bool(v bool) {
	if w.bs == nil {
		w.n += ord.Bool.Size(v)
		return
	}
	w.n += ord.Bool.Marshal(v, w.bs[w.n:])
}

// time stores microseconds since the epoch; the zero time is stored as 0.
func (w *writer) time(t time.Time) {
	if t.IsZero() {
		w.int64(0)
		return
	}
	w.int64(t.UnixMicro())
}

func (w *writer) value(v core.Value) {
	w.int(int(v.Kind()))
	switch v.Kind() {
	case core.KindBool:
		b, _ := v.AsBool()
		w.bool(b)
	case core.KindNumber:
		lit, _ := v.KeyString()
		w.str(lit)
	case core.KindString:
		s, _ := v.AsString()
		w.str(s)
	case core.KindArray:
		items, _ := v.AsArray()
		w.int(len(items))
		for _, item := range items {
			w.value(item)
		}
	case core.KindObject:
		w.props(mustObject(v))
	}
}

func (w *writer) props(props map[string]core.Value) {
	keys := core.Object(props).Keys()
	w.int(len(keys))
	for _, k := range keys {
		w.str(k)
		w.value(props[k])
	}
}

func mustObject(v core.Value) map[string]core.Value {
	obj, _ := v.AsObject()
	return obj
}

type reader struct {
	bs  []byte
	n   int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) bool() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *reader) time() time.Time {
	us := r.int64()
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us).UTC()
}

// length reads a collection length and rejects values that cannot fit in the
// remaining input.
func (r *reader) length() int {
	l := r.int()
	if r.err == nil && (l < 0 || l > len(r.bs)-r.n) {
		r.fail(ErrTruncatedData)
		return 0
	}
	return l
}

func (r *reader) value() core.Value {
	kind := core.Kind(r.int())
	if r.err != nil {
		return core.Value{}
	}
	switch kind {
	case core.KindNull:
		return core.Null()
	case core.KindBool:
		return core.Bool(r.bool())
	case core.KindNumber:
		lit := r.str()
		if r.err != nil {
			return core.Value{}
		}
		v, err := core.FromNative(json.Number(lit))
		if err != nil {
			r.fail(err)
		}
		return v
	case core.KindString:
		return core.String(r.str())
	case core.KindArray:
		items := make([]core.Value, r.length())
		for i := range items {
			items[i] = r.value()
		}
		return core.Array(items...)
	case core.KindObject:
		return core.Object(r.props())
	default:
		r.fail(fmt.Errorf("unknown value kind %d", kind))
		return core.Value{}
	}
}

func (r *reader) props() map[string]core.Value {
	l := r.length()
	props := make(map[string]core.Value, l)
	for i := 0; i < l && r.err == nil; i++ {
		k := r.str()
		props[k] = r.value()
	}
	return props
}

// MarshalValue serializes a Value to bytes.
func MarshalValue(v core.Value) []byte {
	return encode(func(w *writer) { w.value(v) })
}

// UnmarshalValue deserializes a Value from bytes.
func UnmarshalValue(data []byte) (core.Value, error) {
	r := &reader{bs: data}
	v := r.value()
	return v, r.err
}

// MarshalNode serializes a Node to bytes.
func MarshalNode(node *core.Node) []byte {
	return encode(func(w *writer) {
		w.str(node.KBID)
		w.str(node.Label)
		w.str(node.KeyProperty)
		w.str(node.Key)
		w.props(node.Properties)
		w.str(node.SourceID)
		w.str(node.RunID)
		w.time(node.CreatedAt)
		w.time(node.UpdatedAt)
	})
}

// UnmarshalNode deserializes a Node from bytes.
func UnmarshalNode(data []byte) (*core.Node, error) {
	r := &reader{bs: data}
	node := &core.Node{
		KBID:        r.str(),
		Label:       r.str(),
		KeyProperty: r.str(),
		Key:         r.str(),
		Properties:  r.props(),
		SourceID:    r.str(),
		RunID:       r.str(),
		CreatedAt:   r.time(),
		UpdatedAt:   r.time(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return node, nil
}

// MarshalRelationship serializes a Relationship to bytes.
func MarshalRelationship(rel *core.Relationship) []byte {
	return encode(func(w *writer) {
		w.str(rel.KBID)
		w.str(rel.Type)
		w.str(rel.FromLabel)
		w.str(rel.FromKey)
		w.str(rel.ToLabel)
		w.str(rel.ToKey)
		w.props(rel.Properties)
		w.str(rel.SourceID)
		w.str(rel.RunID)
		w.time(rel.CreatedAt)
		w.time(rel.UpdatedAt)
	})
}

// UnmarshalRelationship deserializes a Relationship from bytes.
func UnmarshalRelationship(data []byte) (*core.Relationship, error) {
	r := &reader{bs: data}
	rel := &core.Relationship{
		KBID:       r.str(),
		Type:       r.str(),
		FromLabel:  r.str(),
		FromKey:    r.str(),
		ToLabel:    r.str(),
		ToKey:      r.str(),
		Properties: r.props(),
		SourceID:   r.str(),
		RunID:      r.str(),
		CreatedAt:  r.time(),
		UpdatedAt:  r.time(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return rel, nil
}

// MarshalRun serializes a Run to bytes.
func MarshalRun(run *core.Run) []byte {
	return encode(func(w *writer) {
		w.str(run.ID)
		w.str(run.KBID)
		w.str(run.SourceID)
		w.time(run.StartedAt)
		w.time(run.CompletedAt)
		w.int(int(run.Status))
		w.int64(run.DocumentsProcessed)
		w.int64(run.NodesCreated)
		w.int64(run.RelationshipsCreated)
		w.int(len(run.Errors))
		for _, e := range run.Errors {
			w.str(string(e.Kind))
			w.str(e.Message)
			w.int(e.Document)
			w.str(e.DocumentKey)
			w.str(e.Path)
			w.time(e.At)
		}
		w.str(run.Cursor)
	})
}

// UnmarshalRun deserializes a Run from bytes.
func UnmarshalRun(data []byte) (*core.Run, error) {
	r := &reader{bs: data}
	run := &core.Run{
		ID:                   r.str(),
		KBID:                 r.str(),
		SourceID:             r.str(),
		StartedAt:            r.time(),
		CompletedAt:          r.time(),
		Status:               core.RunStatus(r.int()),
		DocumentsProcessed:   r.int64(),
		NodesCreated:         r.int64(),
		RelationshipsCreated: r.int64(),
	}
	if n := r.length(); n > 0 {
		run.Errors = make([]core.ErrorRecord, n)
		for i := range run.Errors {
			run.Errors[i] = core.ErrorRecord{
				Kind:        core.ErrorKind(r.str()),
				Message:     r.str(),
				Document:    r.int(),
				DocumentKey: r.str(),
				Path:        r.str(),
				At:          r.time(),
			}
		}
	}
	run.Cursor = r.str()
	if r.err != nil {
		return nil, r.err
	}
	return run, nil
}
