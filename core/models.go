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
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier for stored graph entities.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// Evaluator resolves a compiled path expression against a document.
// The boolean result is false when the path does not resolve.
type Evaluator interface {
	Evaluate(doc Value) (Value, bool)
}

// Assignment binds a graph property to a path expression.
type Assignment struct {
	Property string
	Path     string
	Expr     Evaluator
}

// EmbeddingConfig controls the optional document embedding step.
type EmbeddingConfig struct {
	Enabled        bool
	Model          string
	TextPath       string
	TextExpr       Evaluator
	TargetProperty string
}

// NodeType declares a node label and its identity property.
type NodeType struct {
	Label              string
	KeyProperty        string
	DeclaredProperties []string
}

// Declares reports whether prop may be assigned on nodes of this type.
// A node type with no declared properties accepts any property.
func (nt *NodeType) Declares(prop string) bool {
	if len(nt.DeclaredProperties) == 0 || prop == nt.KeyProperty {
		return true
	}
	return slices.Contains(nt.DeclaredProperties, prop)
}

// RelationshipType declares a relationship type and its endpoint labels.
type RelationshipType struct {
	Type string
	From string
	To   string
}

// NodeExtraction describes how the primary node of a document is built.
type NodeExtraction struct {
	TargetLabel string
	Properties  []Assignment
}

// EdgeEndpoint identifies one side of an edge extraction.
type EdgeEndpoint struct {
	Label           string
	KeyPath         string
	KeyExpr         Evaluator
	CreateIfMissing bool
	Properties      []Assignment
}

// EdgeExtraction describes one relationship built from a document.
type EdgeExtraction struct {
	RelationshipType string
	From             EdgeEndpoint
	To               EdgeEndpoint
	Properties       []Assignment
}

// SourceMapping is the rule set turning one connector's documents into graph records.
type SourceMapping struct {
	SourceID     string
	ConnectorURL string
	DocumentType string
	Node         NodeExtraction
	Edges        []EdgeExtraction
}

// Schema is a validated, immutable knowledge base definition.
type Schema struct {
	KBID              string
	Embedding         EmbeddingConfig
	NodeTypes         []NodeType
	RelationshipTypes []RelationshipType
	SourceMappings    []SourceMapping
	RegisteredAt      time.Time
}

// NodeType looks up a node type by label.
func (s *Schema) NodeType(label string) (*NodeType, bool) {
	for i := range s.NodeTypes {
		if s.NodeTypes[i].Label == label {
			return &s.NodeTypes[i], true
		}
	}
	return nil, false
}

// RelationshipType looks up a relationship type by name.
func (s *Schema) RelationshipType(name string) (*RelationshipType, bool) {
	for i := range s.RelationshipTypes {
		if s.RelationshipTypes[i].Type == name {
			return &s.RelationshipTypes[i], true
		}
	}
	return nil, false
}

// SourceMapping looks up a source mapping by source id.
func (s *Schema) SourceMapping(sourceID string) (*SourceMapping, bool) {
	for i := range s.SourceMappings {
		if s.SourceMappings[i].SourceID == sourceID {
			return &s.SourceMappings[i], true
		}
	}
	return nil, false
}

// Labels returns the declared node labels in declaration order.
func (s *Schema) Labels() []string {
	labels := make([]string, len(s.NodeTypes))
	for i, nt := range s.NodeTypes {
		labels[i] = nt.Label
	}
	return labels
}

// SourceIDs returns the mapped source ids in declaration order.
func (s *Schema) SourceIDs() []string {
	ids := make([]string, len(s.SourceMappings))
	for i, sm := range s.SourceMappings {
		ids[i] = sm.SourceID
	}
	return ids
}

// NodeRef identifies a node by label and key.
type NodeRef struct {
	Label       string
	KeyProperty string
	KeyValue    Value
}

// Key returns the canonical key string of the referenced node.
func (r NodeRef) Key() string {
	k, _ := r.KeyValue.KeyString()
	return k
}

// ExtractedNode is a node record produced by mapping a single document.
// Properties never contain the key property; it is carried by KeyValue.
type ExtractedNode struct {
	Label       string
	KeyProperty string
	KeyValue    Value
	Properties  map[string]Value
}

// Ref returns the identity of the node.
func (n *ExtractedNode) Ref() NodeRef {
	return NodeRef{Label: n.Label, KeyProperty: n.KeyProperty, KeyValue: n.KeyValue}
}

// Key returns the canonical key string of the node.
func (n *ExtractedNode) Key() string {
	return n.Ref().Key()
}

// ExtractedRelationship is a relationship record produced by mapping a single document.
type ExtractedRelationship struct {
	Type            string
	From            NodeRef
	To              NodeRef
	CreateIfMissing bool
	Properties      map[string]Value
}

// Provenance is attached to every node and relationship written by a run.
type Provenance struct {
	KBID     string
	SourceID string
	RunID    string
}

// Node is a persisted graph node.
type Node struct {
	KBID        string
	Label       string
	KeyProperty string
	Key         string
	Properties  map[string]Value
	SourceID    string
	RunID       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ID returns the content-derived identity of the node.
func (n *Node) ID() ID {
	return NodeID(n.KBID, n.Label, n.Key)
}

// NodeID derives the identity of a node from (kb, label, key).
func NodeID(kbID, label, key string) ID {
	return IDFromContent(kbID + "\x00" + label + "\x00" + key)
}

// Relationship is a persisted graph relationship.
type Relationship struct {
	KBID       string
	Type       string
	FromLabel  string
	FromKey    string
	ToLabel    string
	ToKey      string
	Properties map[string]Value
	SourceID   string
	RunID      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ID returns the content-derived identity of the relationship.
func (r *Relationship) ID() ID {
	return RelationshipID(r.KBID, r.Type, r.FromLabel, r.FromKey, r.ToLabel, r.ToKey)
}

// RelationshipID derives the identity of a relationship from its type and endpoints.
func RelationshipID(kbID, relType, fromLabel, fromKey, toLabel, toKey string) ID {
	return IDFromContent(kbID + "\x00" + relType + "\x00" + fromLabel + "\x00" + fromKey + "\x00" + toLabel + "\x00" + toKey)
}

// RunStatus is the lifecycle state of an ingestion run.
type RunStatus int

const (
	RunPending RunStatus = iota + 1
	RunRunning
	RunCompleted
	RunFailed
)

func (s RunStatus) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// MarshalText implements encoding.TextMarshaler.
func (s RunStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunStatus) UnmarshalText(text []byte) error {
	for _, candidate := range []RunStatus{RunPending, RunRunning, RunCompleted, RunFailed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidRunStatus, text)
}

// ErrorKind classifies errors recorded on runs and returned by the engine.
type ErrorKind string

const (
	ErrorKindSchemaValidation     ErrorKind = "SchemaValidationError"
	ErrorKindSchemaNotRegistered  ErrorKind = "SchemaNotRegistered"
	ErrorKindSourceNotMapped      ErrorKind = "SourceNotMapped"
	ErrorKindConnectorUnavailable ErrorKind = "ConnectorUnavailable"
	ErrorKindExtractionSkipped    ErrorKind = "ExtractionSkipped"
	ErrorKindGraphWrite           ErrorKind = "GraphWriteError"
	ErrorKindTimeout              ErrorKind = "Timeout"
	ErrorKindCancelled            ErrorKind = "Cancelled"
	ErrorKindEmbeddingFailed      ErrorKind = "EmbeddingFailed"
	ErrorKindInterrupted          ErrorKind = "Interrupted"
	ErrorKindRunTracking          ErrorKind = "RunTrackingError"
)

// ErrorRecord is one error captured during a run.
// Document is the zero-based index of the document within the run, or -1
// for run-level errors.
type ErrorRecord struct {
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Document    int       `json:"document"`
	DocumentKey string    `json:"document_key,omitempty"`
	Path        string    `json:"path,omitempty"`
	At          time.Time `json:"at"`
}

// Run is one ingestion attempt for a (kb, source) pair.
type Run struct {
	ID                   string        `json:"run_id"`
	KBID                 string        `json:"kb_id"`
	SourceID             string        `json:"source_id"`
	StartedAt            time.Time     `json:"started_at"`
	CompletedAt          time.Time     `json:"completed_at,omitzero"`
	Status               RunStatus     `json:"status"`
	DocumentsProcessed   int64         `json:"documents_processed"`
	NodesCreated         int64         `json:"nodes_created"`
	RelationshipsCreated int64         `json:"relationships_created"`
	Errors               []ErrorRecord `json:"errors"`
	Cursor               string        `json:"cursor,omitempty"`
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Errors = slices.Clone(r.Errors)
	return &c
}

// SourceStatus summarizes the run history of one source.
type SourceStatus struct {
	SourceID       string    `json:"source_id"`
	LastRunID      string    `json:"last_run_id,omitempty"`
	LastSyncStatus RunStatus `json:"last_sync_status,omitempty"`
	LastSyncAt     time.Time `json:"last_sync_at,omitzero"`
	Cursor         string    `json:"cursor,omitempty"`
	ErrorCount     int       `json:"error_count"`
	TotalRuns      int       `json:"total_runs"`
}

// KnowledgeBaseStatus is recomputed from the graph store and run history on every read.
type KnowledgeBaseStatus struct {
	KBID               string         `json:"kb_id"`
	TotalNodes         int64          `json:"total_nodes"`
	TotalRelationships int64          `json:"total_relationships"`
	Sources            []SourceStatus `json:"per_source"`
}

// CloneProperties returns a shallow copy of a property bag. Values are immutable.
func CloneProperties(props map[string]Value) map[string]Value {
	if props == nil {
		return map[string]Value{}
	}
	return maps.Clone(props)
}
