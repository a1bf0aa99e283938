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
	"context"

	"github.com/poiesic/schemagraph/core"
)

// NodeKey identifies a node within a knowledge base.
type NodeKey struct {
	Label string
	Key   string
}

// GraphStore persists nodes and relationships keyed by natural identity.
// Implementations must be thread-safe and support concurrent access.
type GraphStore interface {
	// EnsureSchema prepares the store for the node types of a knowledge base,
	// creating uniqueness constraints on (label, kb_id, key property) where the
	// backend supports them. It is safe to call repeatedly.
	EnsureSchema(ctx context.Context, kbID string, nodeTypes []core.NodeType) error

	// MergeNode creates the node identified by (KBID, Label, Key) or updates
	// the supplied properties of an existing one.
	// On create, Properties, provenance and CreatedAt are written.
	// On update, only the supplied Properties and UpdatedAt are written;
	// the original provenance is kept.
	// Returns true when the node was created.
	MergeNode(ctx context.Context, node *core.Node) (bool, error)

	// MergeRelationship creates the relationship identified by
	// (KBID, Type, from, to) or updates the supplied properties of an
	// existing one. Both endpoints must exist; otherwise ErrEndpointMissing
	// is returned and nothing is written.
	// Returns true when the relationship was created.
	MergeRelationship(ctx context.Context, rel *core.Relationship) (bool, error)

	// GetNode retrieves a node by identity.
	// Returns ErrNotFound if the node doesn't exist.
	GetNode(ctx context.Context, kbID string, key NodeKey) (*core.Node, error)

	// GetRelationship retrieves a relationship by identity.
	// Returns ErrNotFound if the relationship doesn't exist.
	GetRelationship(ctx context.Context, kbID, relType string, from, to NodeKey) (*core.Relationship, error)

	// CountNodes returns the number of nodes in a knowledge base.
	CountNodes(ctx context.Context, kbID string) (int64, error)

	// CountRelationships returns the number of relationships in a knowledge base.
	CountRelationships(ctx context.Context, kbID string) (int64, error)

	// FindNodes returns up to limit nodes of a label whose properties equal
	// every entry of props. An empty label matches every label. Results are
	// ordered by (label, key).
	FindNodes(ctx context.Context, kbID, label string, props map[string]core.Value, limit int) ([]*core.Node, error)

	// Close releases resources held by the store.
	Close() error
}

// CypherQuerier runs read-only Cypher against a graph store.
// The knowledge base id is bound to the $kb_id parameter.
type CypherQuerier interface {
	Query(ctx context.Context, kbID, cypher string, params map[string]any) ([]map[string]any, error)
}

// RunRepository persists ingestion runs.
type RunRepository interface {
	// SaveRun inserts or replaces a run.
	SaveRun(ctx context.Context, run *core.Run) error

	// GetRun retrieves a run by id.
	// Returns ErrNotFound if the run doesn't exist.
	GetRun(ctx context.Context, runID string) (*core.Run, error)

	// ListRuns returns the runs of a knowledge base ordered by start time,
	// oldest first. An empty kbID lists every run.
	ListRuns(ctx context.Context, kbID string) ([]*core.Run, error)
}

// CursorRepository persists the pull cursor of each (kb, source) pair.
type CursorRepository interface {
	// SaveCursor stores the cursor to resume from on the next run.
	SaveCursor(ctx context.Context, kbID, sourceID, cursor string) error

	// LoadCursor returns the stored cursor, or "" if none exists.
	LoadCursor(ctx context.Context, kbID, sourceID string) (string, error)
}

// SchemaRepository persists raw schema definitions so registrations survive restarts.
type SchemaRepository interface {
	SaveSchema(ctx context.Context, kbID string, raw []byte) error
	LoadSchemas(ctx context.Context) (map[string][]byte, error)
	DeleteSchema(ctx context.Context, kbID string) error
}
