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

// Package schemagraph ingests documents into a property graph according to
// registered knowledge base schemas.
//
// An Engine bundles the schema registry, the graph store, run tracking and
// the ingestion pipeline. Schemas, runs and cursors are kept in BadgerDB; the
// graph lives either in the same BadgerDB or on a Neo4j server.
package schemagraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/schemagraph/ai"
	"github.com/poiesic/schemagraph/ai/openai"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/ingestion"
	"github.com/poiesic/schemagraph/merge"
	"github.com/poiesic/schemagraph/resolver"
	"github.com/poiesic/schemagraph/schema"
	"github.com/poiesic/schemagraph/storage"
	"github.com/poiesic/schemagraph/storage/badger"
	"github.com/poiesic/schemagraph/storage/neo4j"
	"github.com/poiesic/schemagraph/tracker"
)

// Engine is the ingestion engine facade.
type Engine struct {
	stores   *badger.Stores
	graph    storage.GraphStore
	registry *schema.Registry
	tracker  *tracker.Tracker
	pipeline *ingestion.Pipeline
	provider ai.Provider
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	neo4j        *neo4j.Config
	graph        storage.GraphStore
	aiConfig     *ai.Config
	provider     ai.Provider
	writeTimeout time.Duration
	pipeline     []ingestion.Option
	logger       *slog.Logger
}

// WithNeo4j stores the graph on a Neo4j server instead of BadgerDB.
func WithNeo4j(cfg *neo4j.Config) Option {
	return func(o *engineOptions) {
		o.neo4j = cfg
	}
}

// WithGraphStore uses an already opened graph store. The engine closes it.
func WithGraphStore(store storage.GraphStore) Option {
	return func(o *engineOptions) {
		o.graph = store
	}
}

// WithEmbeddingConfig enables document embeddings through an
// OpenAI-compatible endpoint.
func WithEmbeddingConfig(cfg *ai.Config) Option {
	return func(o *engineOptions) {
		o.aiConfig = cfg
	}
}

// WithEmbeddingProvider enables document embeddings through provider.
// The engine closes it.
func WithEmbeddingProvider(provider ai.Provider) Option {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithWriteTimeout bounds each graph write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *engineOptions) {
		o.writeTimeout = d
	}
}

// WithPipelineOptions passes options through to the ingestion pipeline.
func WithPipelineOptions(opts ...ingestion.Option) Option {
	return func(o *engineOptions) {
		o.pipeline = append(o.pipeline, opts...)
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// Open opens an engine whose state lives in the BadgerDB directory at path.
// An empty path keeps everything in memory.
func Open(ctx context.Context, path string, opts ...Option) (*Engine, error) {
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger

	backend, err := badger.OpenBackend(path, path == "")
	if err != nil {
		return nil, err
	}
	e := &Engine{
		stores: badger.NewStores(backend),
		logger: logger.With("component", "engine"),
	}

	if err := e.init(ctx, options); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(ctx context.Context, options *engineOptions) error {
	logger := options.logger

	switch {
	case options.graph != nil:
		e.graph = options.graph
	case options.neo4j != nil:
		store, err := neo4j.Open(ctx, options.neo4j, neo4j.WithLogger(logger))
		if err != nil {
			return err
		}
		e.graph = store
	default:
		e.graph = e.stores.Graph
	}

	e.provider = options.provider
	if e.provider == nil && options.aiConfig != nil {
		provider, err := openai.NewProvider(options.aiConfig)
		if err != nil {
			return err
		}
		e.provider = provider
	}

	e.registry = schema.NewRegistry(
		schema.WithRepository(e.stores.Schemas),
		schema.WithLogger(logger),
	)
	if _, err := e.registry.Restore(ctx); err != nil {
		return fmt.Errorf("restore schemas: %w", err)
	}
	for _, kbID := range e.registry.KBIDs() {
		s, _ := e.registry.Get(kbID)
		if err := e.graph.EnsureSchema(ctx, kbID, s.NodeTypes); err != nil {
			return fmt.Errorf("prepare graph for %q: %w", kbID, err)
		}
	}

	var err error
	e.tracker, err = tracker.NewTracker(e.stores.Runs, e.stores.Cursors, e.graph, tracker.WithLogger(logger))
	if err != nil {
		return err
	}
	if n, err := e.tracker.Recover(ctx); err != nil {
		return fmt.Errorf("recover runs: %w", err)
	} else if n > 0 {
		e.logger.Warn("interrupted runs marked failed", "count", n)
	}

	writerOpts := []merge.Option{merge.WithLogger(logger)}
	if options.writeTimeout > 0 {
		writerOpts = append(writerOpts, merge.WithWriteTimeout(options.writeTimeout))
	}
	writer, err := merge.NewWriter(e.graph, writerOpts...)
	if err != nil {
		return err
	}

	pipelineOpts := []ingestion.Option{ingestion.WithLogger(logger)}
	if e.provider != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithEmbeddings(e.provider))
	}
	pipelineOpts = append(pipelineOpts, options.pipeline...)
	e.pipeline, err = ingestion.NewPipeline(resolver.New(e.registry), writer, e.tracker, pipelineOpts...)
	return err
}

// Close releases the pipeline, the embedding provider and every store.
func (e *Engine) Close() error {
	var errs []error
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing embedding provider", "err", err)
			errs = append(errs, err)
		}
	}
	if e.graph != nil && e.graph != storage.GraphStore(e.stores.Graph) {
		if err := e.graph.Close(); err != nil {
			e.logger.Error("error closing graph store", "err", err)
			errs = append(errs, err)
		}
	}
	if err := e.stores.Close(); err != nil {
		e.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// RegisterSchema validates and stores a schema definition (YAML or JSON),
// replacing any previous schema of the same knowledge base, and prepares the
// graph store for its node types.
func (e *Engine) RegisterSchema(ctx context.Context, raw []byte) (schema.Summary, error) {
	summary, err := e.registry.Register(ctx, raw)
	if err != nil {
		return summary, err
	}
	s, _ := e.registry.Get(summary.KBID)
	if err := e.graph.EnsureSchema(ctx, s.KBID, s.NodeTypes); err != nil {
		return summary, fmt.Errorf("prepare graph for %q: %w", s.KBID, err)
	}
	e.logger.Debug("graph prepared", "kb_id", s.KBID, "node_types", len(s.NodeTypes))
	return summary, nil
}

// UnregisterSchema removes a schema. Graph data is left in place.
func (e *Engine) UnregisterSchema(ctx context.Context, kbID string) (bool, error) {
	return e.registry.Unregister(ctx, kbID)
}

// Schema returns the registered schema of a knowledge base.
func (e *Engine) Schema(kbID string) (*core.Schema, bool) {
	return e.registry.Get(kbID)
}

// KnowledgeBases lists the registered knowledge bases.
func (e *Engine) KnowledgeBases() []string {
	return e.registry.KBIDs()
}

// Ingest runs ingestion for one source of a knowledge base.
func (e *Engine) Ingest(ctx context.Context, kbID, sourceID string) (*core.Run, error) {
	return e.pipeline.Ingest(ctx, kbID, sourceID)
}

// Cancel stops an active run. It reports whether the run was active.
func (e *Engine) Cancel(runID string) bool {
	return e.pipeline.Cancel(runID)
}

// Status aggregates graph counts and run history of a knowledge base. Every
// mapped source is listed, including ones that never ran.
func (e *Engine) Status(ctx context.Context, kbID string) (*core.KnowledgeBaseStatus, error) {
	var sources []string
	if s, ok := e.registry.Get(kbID); ok {
		sources = s.SourceIDs()
	}
	return e.tracker.Status(ctx, kbID, sources)
}

// Run returns a run by id, including live counters of an active run.
func (e *Engine) Run(ctx context.Context, runID string) (*core.Run, error) {
	return e.tracker.Get(ctx, runID)
}

// Runs lists the runs of a knowledge base, oldest first. An empty kbID lists
// every run.
func (e *Engine) Runs(ctx context.Context, kbID string) ([]*core.Run, error) {
	return e.tracker.Runs(ctx, kbID)
}

// FindNodes returns up to limit nodes of a knowledge base matching label and props.
func (e *Engine) FindNodes(ctx context.Context, kbID, label string, props map[string]core.Value, limit int) ([]*core.Node, error) {
	return e.graph.FindNodes(ctx, kbID, label, props, limit)
}

// Query runs read-only Cypher scoped to a knowledge base through $kb_id.
// Stores that cannot run Cypher return storage.ErrQueryUnsupported.
func (e *Engine) Query(ctx context.Context, kbID, cypher string, params map[string]any) ([]map[string]any, error) {
	q, ok := e.graph.(storage.CypherQuerier)
	if !ok {
		return nil, storage.ErrQueryUnsupported
	}
	return q.Query(ctx, kbID, cypher, params)
}
