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

// Package mapper turns one source document into graph records according to
// a source mapping.
//
// Mapping is pure and deterministic: the same document, mapping and schema
// always yield the same extraction, in the same order. Missing data never
// fails a document. An absent primary key skips the primary node, an absent
// endpoint key skips that single edge, and both are reported in
// Extraction.Skipped.
package mapper

import (
	"fmt"

	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/pathexpr"
)

// Skip records a part of a document that produced no graph record.
// Edge is the index of the edge extraction, or -1 for the primary node.
type Skip struct {
	Edge    int
	Path    string
	Message string
}

// Extraction is the result of mapping one document.
type Extraction struct {
	Nodes         []core.ExtractedNode
	Relationships []core.ExtractedRelationship
	Skipped       []Skip
}

// PrimaryKey returns the key of the primary node, or "" when it was skipped.
func (e *Extraction) PrimaryKey(label string) string {
	if len(e.Nodes) > 0 && e.Nodes[0].Label == label {
		return e.Nodes[0].Key()
	}
	return ""
}

// Apply maps doc with mapping. The schema supplies key properties of every
// label involved.
func Apply(doc core.Value, mapping *core.SourceMapping, schema *core.Schema) *Extraction {
	m := &extractor{doc: doc, schema: schema, out: &Extraction{}, index: map[nodeID]int{}}
	m.primary(&mapping.Node)
	for i := range mapping.Edges {
		m.edge(i, &mapping.Edges[i])
	}
	return m.out
}

type nodeID struct {
	label string
	key   string
}

type extractor struct {
	doc    core.Value
	schema *core.Schema
	out    *Extraction
	index  map[nodeID]int
}

func (m *extractor) skip(edge int, path, format string, args ...any) {
	m.out.Skipped = append(m.out.Skipped, Skip{Edge: edge, Path: path, Message: fmt.Sprintf(format, args...)})
}

// eval resolves a path. JSON null counts as absent.
func (m *extractor) eval(expr core.Evaluator, path string) (core.Value, bool) {
	if expr == nil {
		compiled, err := pathexpr.Compile(path)
		if err != nil {
			return core.Value{}, false
		}
		expr = compiled
	}
	v, ok := expr.Evaluate(m.doc)
	if !ok || v.IsNull() {
		return core.Value{}, false
	}
	return v, true
}

func (m *extractor) properties(assignments []core.Assignment, skip string) map[string]core.Value {
	props := make(map[string]core.Value, len(assignments))
	for _, a := range assignments {
		if a.Property == skip {
			continue
		}
		if v, ok := m.eval(a.Expr, a.Path); ok {
			props[a.Property] = v
		}
	}
	return props
}

// addNode appends a node, folding repeated identities into the first record.
func (m *extractor) addNode(n core.ExtractedNode) {
	id := nodeID{label: n.Label, key: n.Key()}
	if i, ok := m.index[id]; ok {
		existing := &m.out.Nodes[i]
		for k, v := range n.Properties {
			if _, set := existing.Properties[k]; !set {
				existing.Properties[k] = v
			}
		}
		return
	}
	m.index[id] = len(m.out.Nodes)
	m.out.Nodes = append(m.out.Nodes, n)
}

func (m *extractor) primary(ext *core.NodeExtraction) {
	nt, ok := m.schema.NodeType(ext.TargetLabel)
	if !ok {
		m.skip(-1, "", "label %q is not declared", ext.TargetLabel)
		return
	}

	var key core.Value
	keyPath := ""
	found := false
	for _, a := range ext.Properties {
		if a.Property != nt.KeyProperty {
			continue
		}
		keyPath = a.Path
		key, found = m.eval(a.Expr, a.Path)
	}
	if !found {
		m.skip(-1, keyPath, "key property %q of %s is absent", nt.KeyProperty, nt.Label)
		return
	}
	if _, ok := key.KeyString(); !ok {
		m.skip(-1, keyPath, "key property %q of %s is not a usable key (%s)", nt.KeyProperty, nt.Label, key.Kind())
		return
	}

	m.addNode(core.ExtractedNode{
		Label:       nt.Label,
		KeyProperty: nt.KeyProperty,
		KeyValue:    key,
		Properties:  m.properties(ext.Properties, nt.KeyProperty),
	})
}

// keys resolves an endpoint key. An array of scalars fans out into one key
// per element.
func (m *extractor) keys(ep *core.EdgeEndpoint) ([]core.Value, bool) {
	v, ok := m.eval(ep.KeyExpr, ep.KeyPath)
	if !ok {
		return nil, false
	}
	if _, ok := v.KeyString(); ok {
		return []core.Value{v}, true
	}
	items, isArray := v.AsArray()
	if !isArray {
		return nil, false
	}
	var keys []core.Value
	for _, item := range items {
		if _, ok := item.KeyString(); ok {
			keys = append(keys, item)
		}
	}
	return keys, len(keys) > 0
}

func (m *extractor) edge(i int, ext *core.EdgeExtraction) {
	fromNT, fromOK := m.schema.NodeType(ext.From.Label)
	toNT, toOK := m.schema.NodeType(ext.To.Label)
	if !fromOK || !toOK {
		m.skip(i, "", "edge %s references an undeclared label", ext.RelationshipType)
		return
	}

	fromKeys, ok := m.keys(&ext.From)
	if !ok {
		m.skip(i, ext.From.KeyPath, "%s edge skipped: from key is absent", ext.RelationshipType)
		return
	}
	toKeys, ok := m.keys(&ext.To)
	if !ok {
		m.skip(i, ext.To.KeyPath, "%s edge skipped: to key is absent", ext.RelationshipType)
		return
	}

	// Target properties describe a single referenced entity; they are not
	// spread over fanned-out keys.
	if ext.To.CreateIfMissing && len(ext.To.Properties) > 0 && len(toKeys) == 1 {
		m.addNode(core.ExtractedNode{
			Label:       toNT.Label,
			KeyProperty: toNT.KeyProperty,
			KeyValue:    toKeys[0],
			Properties:  m.properties(ext.To.Properties, toNT.KeyProperty),
		})
	}

	props := m.properties(ext.Properties, "")
	for _, from := range fromKeys {
		for _, to := range toKeys {
			m.out.Relationships = append(m.out.Relationships, core.ExtractedRelationship{
				Type:            ext.RelationshipType,
				From:            core.NodeRef{Label: fromNT.Label, KeyProperty: fromNT.KeyProperty, KeyValue: from},
				To:              core.NodeRef{Label: toNT.Label, KeyProperty: toNT.KeyProperty, KeyValue: to},
				CreateIfMissing: ext.To.CreateIfMissing,
				Properties:      core.CloneProperties(props),
			})
		}
	}
}
