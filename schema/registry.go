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

package schema

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// Summary describes a successfully registered schema.
type Summary struct {
	KBID          string   `json:"kb_id"`
	Nodes         []string `json:"nodes"`
	Relationships []string `json:"relationships"`
	Sources       []string `json:"sources"`
}

func summarize(s *core.Schema) Summary {
	rels := make([]string, len(s.RelationshipTypes))
	for i, rt := range s.RelationshipTypes {
		rels[i] = rt.Type
	}
	return Summary{
		KBID:          s.KBID,
		Nodes:         s.Labels(),
		Relationships: rels,
		Sources:       s.SourceIDs(),
	}
}

// Registry holds the current schema of every knowledge base.
// Schemas are immutable once registered; re-registration swaps the whole
// schema so readers observe either the old or the new one.
type Registry struct {
	// writeMu serializes persistence and swap so the repository and the
	// map always agree on the latest definition.
	writeMu sync.Mutex
	mu      sync.RWMutex
	schemas map[string]*core.Schema
	repo    storage.SchemaRepository
	logger  *slog.Logger
	now     func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRepository persists registered definitions so Restore can reload them.
func WithRepository(repo storage.SchemaRepository) RegistryOption {
	return func(r *Registry) {
		r.repo = repo
	}
}

// WithLogger sets the logger for the registry.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		schemas: make(map[string]*core.Schema),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "schema-registry")
	return r
}

// Register validates a raw definition and makes it the current schema of its
// knowledge base. On failure the registry is unchanged and the error is a
// ValidationErrors list.
func (r *Registry) Register(ctx context.Context, raw []byte) (Summary, error) {
	s, err := Compile(raw)
	if err != nil {
		return Summary{}, err
	}
	s.RegisteredAt = r.now()

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.repo != nil {
		if err := r.repo.SaveSchema(ctx, s.KBID, raw); err != nil {
			return Summary{}, fmt.Errorf("persisting schema %s: %w", s.KBID, err)
		}
	}

	r.mu.Lock()
	_, replaced := r.schemas[s.KBID]
	r.schemas[s.KBID] = s
	r.mu.Unlock()

	r.logger.Info("schema registered", "kb_id", s.KBID, "replaced", replaced,
		"node_types", len(s.NodeTypes), "sources", len(s.SourceMappings))
	return summarize(s), nil
}

// Get returns the current schema of a knowledge base.
func (r *Registry) Get(kbID string) (*core.Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[kbID]
	return s, ok
}

// KBIDs returns the registered knowledge base ids in sorted order.
func (r *Registry) KBIDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.schemas))
	for id := range r.schemas {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Unregister removes the schema of a knowledge base. Graph data is untouched.
func (r *Registry) Unregister(ctx context.Context, kbID string) (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if r.repo != nil {
		if err := r.repo.DeleteSchema(ctx, kbID); err != nil {
			return false, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.schemas[kbID]
	delete(r.schemas, kbID)
	return ok, nil
}

// Restore reloads persisted definitions. Definitions that no longer validate
// are logged and skipped. Returns the number of schemas restored.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	if r.repo == nil {
		return 0, ErrRepositoryRequired
	}
	stored, err := r.repo.LoadSchemas(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for kbID, raw := range stored {
		s, err := Compile(raw)
		if err != nil {
			r.logger.Warn("skipping stored schema", "kb_id", kbID, "err", err)
			continue
		}
		s.RegisteredAt = r.now()
		r.mu.Lock()
		r.schemas[s.KBID] = s
		r.mu.Unlock()
		restored++
	}
	r.logger.Debug("schemas restored", "count", restored)
	return restored, nil
}
