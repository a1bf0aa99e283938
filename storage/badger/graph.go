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

package badger

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// GraphStore implements storage.GraphStore on top of BadgerDB.
// It does not understand Cypher; Query always returns storage.ErrQueryUnsupported.
type GraphStore struct {
	backend *Backend
	logger  *slog.Logger
	now     func() time.Time
}

var (
	_ storage.GraphStore    = (*GraphStore)(nil)
	_ storage.CypherQuerier = (*GraphStore)(nil)
)

// NewGraphStore creates a GraphStore backed by backend.
// The backend is owned by the caller; closing the store does not close it.
func NewGraphStore(backend *Backend) *GraphStore {
	return &GraphStore{
		backend: backend,
		logger:  backend.logger.With("component", "badger-graph"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Close is a no-op; the backend is closed by its owner.
func (s *GraphStore) Close() error {
	return nil
}

// EnsureSchema is a no-op: node keys are unique by construction.
func (s *GraphStore) EnsureSchema(ctx context.Context, kbID string, nodeTypes []core.NodeType) error {
	return nil
}

// MergeNode creates or updates a node by natural identity.
func (s *GraphStore) MergeNode(ctx context.Context, node *core.Node) (bool, error) {
	if err := core.ValidateNode(node); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var created bool
	err := s.backend.Update(func(tx *badger.Txn) error {
		key := makeNodeKey(node.KBID, storage.NodeKey{Label: node.Label, Key: node.Key})
		existing, err := readItem(tx, key, storage.UnmarshalNode)
		if err != nil {
			return err
		}

		now := s.now()
		var record *core.Node
		if existing == nil {
			created = true
			record = &core.Node{
				KBID:        node.KBID,
				Label:       node.Label,
				KeyProperty: node.KeyProperty,
				Key:         node.Key,
				Properties:  core.CloneProperties(node.Properties),
				SourceID:    node.SourceID,
				RunID:       node.RunID,
				CreatedAt:   now,
			}
		} else {
			created = false
			record = existing
			if record.Properties == nil {
				record.Properties = map[string]core.Value{}
			}
			maps.Copy(record.Properties, node.Properties)
			record.UpdatedAt = now
		}
		return tx.Set(key, storage.MarshalNode(record))
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// MergeRelationship creates or updates a relationship by type and endpoints.
func (s *GraphStore) MergeRelationship(ctx context.Context, rel *core.Relationship) (bool, error) {
	if err := core.ValidateRelationship(rel); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var created bool
	err := s.backend.Update(func(tx *badger.Txn) error {
		for _, end := range []storage.NodeKey{
			{Label: rel.FromLabel, Key: rel.FromKey},
			{Label: rel.ToLabel, Key: rel.ToKey},
		} {
			if _, err := tx.Get(makeNodeKey(rel.KBID, end)); err != nil {
				if err == badger.ErrKeyNotFound {
					return fmt.Errorf("%w: %s %q", storage.ErrEndpointMissing, end.Label, end.Key)
				}
				return err
			}
		}

		key := makeRelKey(rel.KBID, rel.ID())
		existing, err := readItem(tx, key, storage.UnmarshalRelationship)
		if err != nil {
			return err
		}

		now := s.now()
		var record *core.Relationship
		if existing == nil {
			created = true
			record = &core.Relationship{
				KBID:       rel.KBID,
				Type:       rel.Type,
				FromLabel:  rel.FromLabel,
				FromKey:    rel.FromKey,
				ToLabel:    rel.ToLabel,
				ToKey:      rel.ToKey,
				Properties: core.CloneProperties(rel.Properties),
				SourceID:   rel.SourceID,
				RunID:      rel.RunID,
				CreatedAt:  now,
			}
		} else {
			created = false
			record = existing
			if record.Properties == nil {
				record.Properties = map[string]core.Value{}
			}
			maps.Copy(record.Properties, rel.Properties)
			record.UpdatedAt = now
		}
		return tx.Set(key, storage.MarshalRelationship(record))
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// GetNode retrieves a node by identity.
func (s *GraphStore) GetNode(ctx context.Context, kbID string, key storage.NodeKey) (*core.Node, error) {
	var node *core.Node
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		node, err = readItem(tx, makeNodeKey(kbID, key), storage.UnmarshalNode)
		return err
	})
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, storage.ErrNotFound
	}
	return node, nil
}

// GetRelationship retrieves a relationship by identity.
func (s *GraphStore) GetRelationship(ctx context.Context, kbID, relType string, from, to storage.NodeKey) (*core.Relationship, error) {
	id := core.RelationshipID(kbID, relType, from.Label, from.Key, to.Label, to.Key)
	var rel *core.Relationship
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		rel, err = readItem(tx, makeRelKey(kbID, id), storage.UnmarshalRelationship)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rel == nil {
		return nil, storage.ErrNotFound
	}
	return rel, nil
}

// CountNodes returns the number of nodes in a knowledge base.
func (s *GraphStore) CountNodes(ctx context.Context, kbID string) (int64, error) {
	return s.count(makeKBNodePrefix(kbID))
}

// CountRelationships returns the number of relationships in a knowledge base.
func (s *GraphStore) CountRelationships(ctx context.Context, kbID string) (int64, error) {
	return s.count(makeKBRelPrefix(kbID))
}

func (s *GraphStore) count(prefix []byte) (int64, error) {
	var n int64
	err := s.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefix, false, func(*badger.Item) (bool, error) {
			n++
			return true, nil
		})
	})
	return n, err
}

// FindNodes scans the nodes of a knowledge base, optionally restricted to a
// label, and returns those whose properties match props.
func (s *GraphStore) FindNodes(ctx context.Context, kbID, label string, props map[string]core.Value, limit int) ([]*core.Node, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	prefix := makeKBNodePrefix(kbID)
	if label != "" {
		prefix = makeLabelNodePrefix(kbID, label)
	}

	var results []*core.Node
	err := s.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, prefix, true, func(item *badger.Item) (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			var node *core.Node
			err := item.Value(func(val []byte) error {
				var err error
				node, err = storage.UnmarshalNode(val)
				return err
			})
			if err != nil {
				return false, err
			}
			if matches(node, props) {
				results = append(results, node)
			}
			return len(results) < limit, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// matches compares the filter against node properties. The key property
// matches against the node key.
func matches(node *core.Node, props map[string]core.Value) bool {
	for name, want := range props {
		if name == node.KeyProperty {
			if k, ok := want.KeyString(); !ok || k != node.Key {
				return false
			}
			continue
		}
		got, ok := node.Properties[name]
		if !ok || !got.Equal(want) {
			return false
		}
	}
	return true
}

// Query is not supported by the embedded store.
func (s *GraphStore) Query(ctx context.Context, kbID, cypher string, params map[string]any) ([]map[string]any, error) {
	return nil, storage.ErrQueryUnsupported
}
