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

// Package neo4j implements storage.GraphStore on a Neo4j server.
//
// Nodes carry their label, a kb_id property and their key property, so the
// same label can hold nodes of several knowledge bases. Relationships carry
// kb_id as well. Provenance is stored as source_id, run_id, created_at and
// updated_at properties. Labels, relationship types and property names are
// interpolated into Cypher, so every identifier is validated first; values
// always travel as parameters.
package neo4j

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// Store is a Neo4j-backed graph store.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	keyProp map[string]map[string]string // kb -> label -> key property
}

var (
	_ storage.GraphStore    = (*Store)(nil)
	_ storage.CypherQuerier = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger.With("component", "neo4j")
		return nil
	}
}

// Open connects to Neo4j and verifies connectivity.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	auth := neo4j.BasicAuth(cfg.User, cfg.Password, "")
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxPoolSize
		c.SocketConnectTimeout = cfg.Timeout
	})
	if err != nil {
		return nil, fmt.Errorf("neo4j: init driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j: verify connectivity: %w", err)
	}

	s := &Store{
		driver:   driver,
		database: cfg.Database,
		logger:   slog.Default().With("component", "neo4j"),
		now:      func() time.Time { return time.Now().UTC() },
		keyProp:  make(map[string]map[string]string),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			_ = driver.Close(ctx)
			return nil, err
		}
	}
	s.logger.Info("connected", "uri", cfg.URI, "database", cfg.Database)
	return s, nil
}

// Close closes the driver.
func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

func (s *Store) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// keyPropertyOf returns the key property of a label registered through EnsureSchema.
func (s *Store) keyPropertyOf(kbID, label string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.keyProp[kbID][label]
	if !ok {
		return "", fmt.Errorf("%w: label %q of %q has no known key property", storage.ErrInvalidQuery, label, kbID)
	}
	return kp, nil
}

// EnsureSchema records the key property of every label and creates a
// uniqueness constraint on (kb_id, key property). Constraint failures are
// logged and ignored, since restricted users may not manage schema.
func (s *Store) EnsureSchema(ctx context.Context, kbID string, nodeTypes []core.NodeType) error {
	queries := make([]string, 0, len(nodeTypes))
	keys := make(map[string]string, len(nodeTypes))
	for _, nt := range nodeTypes {
		q, err := constraintQuery(nt.Label, nt.KeyProperty)
		if err != nil {
			return err
		}
		queries = append(queries, q)
		keys[nt.Label] = nt.KeyProperty
	}

	s.mu.Lock()
	s.keyProp[kbID] = keys
	s.mu.Unlock()

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, q := range queries {
		res, err := session.Run(ctx, q, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			s.logger.Warn("neo4j schema init failed (continuing)", "kb_id", kbID, "query", q, "err", err)
		}
	}
	return nil
}

// MergeNode upserts a node.
func (s *Store) MergeNode(ctx context.Context, node *core.Node) (bool, error) {
	if err := core.ValidateNode(node); err != nil {
		return false, err
	}
	q, err := mergeNodeQuery(node.Label, node.KeyProperty)
	if err != nil {
		return false, err
	}
	params := map[string]any{
		"kb_id":     node.KBID,
		"key":       node.Key,
		"props":     propsParam(node.Properties),
		"source_id": node.SourceID,
		"run_id":    node.RunID,
		"now":       s.now(),
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	created, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return false, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return false, err
		}
		return summary.Counters().NodesCreated() > 0, nil
	})
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.keyProp[node.KBID] == nil {
		s.keyProp[node.KBID] = map[string]string{}
	}
	if _, ok := s.keyProp[node.KBID][node.Label]; !ok {
		s.keyProp[node.KBID][node.Label] = node.KeyProperty
	}
	s.mu.Unlock()
	return created.(bool), nil
}

// MergeRelationship upserts a relationship between two existing nodes.
func (s *Store) MergeRelationship(ctx context.Context, rel *core.Relationship) (bool, error) {
	if err := core.ValidateRelationship(rel); err != nil {
		return false, err
	}
	fromKP, err := s.keyPropertyOf(rel.KBID, rel.FromLabel)
	if err != nil {
		return false, err
	}
	toKP, err := s.keyPropertyOf(rel.KBID, rel.ToLabel)
	if err != nil {
		return false, err
	}
	q, err := mergeRelationshipQuery(rel.Type, rel.FromLabel, fromKP, rel.ToLabel, toKP)
	if err != nil {
		return false, err
	}
	params := map[string]any{
		"kb_id":     rel.KBID,
		"from_key":  rel.FromKey,
		"to_key":    rel.ToKey,
		"props":     propsParam(rel.Properties),
		"source_id": rel.SourceID,
		"run_id":    rel.RunID,
		"now":       s.now(),
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		matched, _ := record.Get("matched")
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		if n, _ := matched.(int64); n == 0 {
			return nil, fmt.Errorf("%w: (%s %q)-[%s]->(%s %q)", storage.ErrEndpointMissing,
				rel.FromLabel, rel.FromKey, rel.Type, rel.ToLabel, rel.ToKey)
		}
		return summary.Counters().RelationshipsCreated() > 0, nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// read runs a read query and collects its records.
func (s *Store) read(ctx context.Context, q string, params map[string]any) ([]*neo4j.Record, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)
	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, q, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

// GetNode retrieves a node by identity.
func (s *Store) GetNode(ctx context.Context, kbID string, key storage.NodeKey) (*core.Node, error) {
	kp, err := s.keyPropertyOf(kbID, key.Label)
	if err != nil {
		return nil, err
	}
	q, err := getNodeQuery(key.Label, kp)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, q, map[string]any{"kb_id": kbID, "key": key.Key})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	v, _ := records[0].Get("n")
	n, ok := v.(neo4j.Node)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected record value %T", storage.ErrSerializationFailed, v)
	}
	return toNode(kbID, key.Label, kp, n), nil
}

// GetRelationship retrieves a relationship by identity.
func (s *Store) GetRelationship(ctx context.Context, kbID, relType string, from, to storage.NodeKey) (*core.Relationship, error) {
	fromKP, err := s.keyPropertyOf(kbID, from.Label)
	if err != nil {
		return nil, err
	}
	toKP, err := s.keyPropertyOf(kbID, to.Label)
	if err != nil {
		return nil, err
	}
	q, err := getRelationshipQuery(relType, from.Label, fromKP, to.Label, toKP)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, q, map[string]any{"kb_id": kbID, "from_key": from.Key, "to_key": to.Key})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	v, _ := records[0].Get("r")
	r, ok := v.(neo4j.Relationship)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected record value %T", storage.ErrSerializationFailed, v)
	}
	rel := &core.Relationship{
		KBID:       kbID,
		Type:       relType,
		FromLabel:  from.Label,
		FromKey:    from.Key,
		ToLabel:    to.Label,
		ToKey:      to.Key,
		Properties: fromProps(r.Props, ""),
	}
	rel.SourceID, rel.RunID, rel.CreatedAt, rel.UpdatedAt = provenance(r.Props)
	return rel, nil
}

func (s *Store) count(ctx context.Context, q, kbID string) (int64, error) {
	records, err := s.read(ctx, q, map[string]any{"kb_id": kbID})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	v, _ := records[0].Get("c")
	n, _ := v.(int64)
	return n, nil
}

// CountNodes returns the number of nodes in a knowledge base.
func (s *Store) CountNodes(ctx context.Context, kbID string) (int64, error) {
	return s.count(ctx, "MATCH (n {kb_id: $kb_id}) RETURN count(n) AS c", kbID)
}

// CountRelationships returns the number of relationships in a knowledge base.
func (s *Store) CountRelationships(ctx context.Context, kbID string) (int64, error) {
	return s.count(ctx, "MATCH ()-[r {kb_id: $kb_id}]->() RETURN count(r) AS c", kbID)
}

// FindNodes returns nodes matching label and props, ordered by label then key.
// An empty label searches every label known for the knowledge base.
func (s *Store) FindNodes(ctx context.Context, kbID, label string, props map[string]core.Value, limit int) ([]*core.Node, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", storage.ErrInvalidQuery)
	}

	labels := []string{label}
	if label == "" {
		s.mu.RLock()
		labels = labels[:0]
		for l := range s.keyProp[kbID] {
			labels = append(labels, l)
		}
		s.mu.RUnlock()
		slices.Sort(labels)
	}

	var out []*core.Node
	for _, l := range labels {
		kp, err := s.keyPropertyOf(kbID, l)
		if err != nil {
			return nil, err
		}
		q, params, err := findNodesQuery(l, kp, props)
		if err != nil {
			return nil, err
		}
		params["kb_id"] = kbID
		params["limit"] = int64(limit - len(out))
		records, err := s.read(ctx, q, params)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			v, _ := rec.Get("n")
			if n, ok := v.(neo4j.Node); ok {
				out = append(out, toNode(kbID, l, kp, n))
			}
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Query runs read-only Cypher with $kb_id bound to kbID. Nodes and
// relationships in results are returned as property maps.
func (s *Store) Query(ctx context.Context, kbID, cypher string, params map[string]any) ([]map[string]any, error) {
	if err := checkReadOnly(cypher); err != nil {
		return nil, err
	}
	bound := make(map[string]any, len(params)+1)
	for k, v := range params {
		bound[k] = v
	}
	bound["kb_id"] = kbID

	records, err := s.read(ctx, cypher, bound)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		row := rec.AsMap()
		for k, v := range row {
			row[k] = plain(v)
		}
		rows[i] = row
	}
	return rows, nil
}

func plain(v any) any {
	switch t := v.(type) {
	case neo4j.Node:
		m := make(map[string]any, len(t.Props)+1)
		for k, p := range t.Props {
			m[k] = p
		}
		m["_labels"] = t.Labels
		return m
	case neo4j.Relationship:
		m := make(map[string]any, len(t.Props)+1)
		for k, p := range t.Props {
			m[k] = p
		}
		m["_type"] = t.Type
		return m
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

func toNode(kbID, label, keyProp string, n neo4j.Node) *core.Node {
	node := &core.Node{
		KBID:        kbID,
		Label:       label,
		KeyProperty: keyProp,
		Key:         fmt.Sprint(n.Props[keyProp]),
		Properties:  fromProps(n.Props, keyProp),
	}
	node.SourceID, node.RunID, node.CreatedAt, node.UpdatedAt = provenance(n.Props)
	return node
}

func provenance(props map[string]any) (sourceID, runID string, created, updated time.Time) {
	sourceID, _ = props[propSourceID].(string)
	runID, _ = props[propRunID].(string)
	created, _ = props[propCreatedAt].(time.Time)
	updated, _ = props[propUpdatedAt].(time.Time)
	return
}
