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

// Package merge writes extracted nodes and relationships into a graph store
// with idempotent upsert semantics and provenance.
//
// Every node and relationship is committed on its own. A failing item is
// recorded in Result.Failures and the remaining items are still written, so
// whatever was committed before a failure stays visible and a re-run is
// always a safe retry.
package merge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

const defaultWriteTimeout = 10 * time.Second

var (
	// ErrStoreRequired is returned when a graph store is not provided.
	ErrStoreRequired = errors.New("graph store required")

	// ErrInvalidProvenance is returned when provenance fields are missing.
	ErrInvalidProvenance = errors.New("provenance requires kb_id, source_id and run_id")
)

// Failure is one item that could not be written.
type Failure struct {
	Kind core.ErrorKind
	Item string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Item, f.Err)
}

// Result summarizes one Merge call. Only newly created entities are counted;
// stub endpoints count as created nodes.
type Result struct {
	CreatedNodes         int
	CreatedRelationships int
	Failures             []Failure
}

// Writer merges extraction results into a graph store.
type Writer struct {
	store        storage.GraphStore
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer) error

// WithWriteTimeout bounds each individual write.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *Writer) error {
		if d <= 0 {
			return fmt.Errorf("write timeout must be positive, got %s", d)
		}
		w.writeTimeout = d
		return nil
	}
}

// WithLogger sets the logger for the writer.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) error {
		if logger == nil {
			logger = slog.Default()
		}
		w.logger = logger
		return nil
	}
}

// NewWriter creates a Writer for store.
func NewWriter(store storage.GraphStore, opts ...Option) (*Writer, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	w := &Writer{
		store:        store,
		writeTimeout: defaultWriteTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	w.logger = w.logger.With("component", "merge")
	return w, nil
}

// Merge upserts nodes, then relationships. The returned error is non-nil only
// when ctx ends before every item was attempted or provenance is invalid;
// per-item failures are reported in Result.Failures.
func (w *Writer) Merge(ctx context.Context, prov core.Provenance, nodes []core.ExtractedNode, rels []core.ExtractedRelationship) (Result, error) {
	var res Result
	if prov.KBID == "" || prov.SourceID == "" || prov.RunID == "" {
		return res, ErrInvalidProvenance
	}

	for i := range nodes {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n := &nodes[i]
		created, err := w.mergeNode(ctx, prov, n.Ref(), n.Properties)
		if err != nil {
			res.fail(ctx, fmt.Sprintf("node %s %q", n.Label, n.Key()), err)
			continue
		}
		if created {
			res.CreatedNodes++
		}
	}

	for i := range rels {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		w.mergeRelationship(ctx, prov, &rels[i], &res)
	}

	if len(res.Failures) > 0 {
		w.logger.Debug("merge finished with failures", "run_id", prov.RunID, "failures", len(res.Failures))
	}
	return res, nil
}

func (r *Result) fail(ctx context.Context, item string, err error) {
	kind := core.ErrorKindGraphWrite
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		kind = core.ErrorKindTimeout
	}
	r.Failures = append(r.Failures, Failure{Kind: kind, Item: item, Err: err})
}

func (w *Writer) mergeNode(ctx context.Context, prov core.Provenance, ref core.NodeRef, props map[string]core.Value) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	return w.store.MergeNode(ctx, &core.Node{
		KBID:        prov.KBID,
		Label:       ref.Label,
		KeyProperty: ref.KeyProperty,
		Key:         ref.Key(),
		Properties:  props,
		SourceID:    prov.SourceID,
		RunID:       prov.RunID,
	})
}

// ensureEndpoint makes sure an endpoint exists, creating a stub carrying only
// its key and provenance when allowed.
func (w *Writer) ensureEndpoint(ctx context.Context, prov core.Provenance, ref core.NodeRef, create bool) (bool, error) {
	getCtx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	_, err := w.store.GetNode(getCtx, prov.KBID, storage.NodeKey{Label: ref.Label, Key: ref.Key()})
	cancel()
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, err
	case !create:
		return false, fmt.Errorf("%w: %s %q", storage.ErrEndpointMissing, ref.Label, ref.Key())
	}
	return w.mergeNode(ctx, prov, ref, nil)
}

func (w *Writer) mergeRelationship(ctx context.Context, prov core.Provenance, rel *core.ExtractedRelationship, res *Result) {
	item := fmt.Sprintf("relationship (%s %q)-[%s]->(%s %q)", rel.From.Label, rel.From.Key(), rel.Type, rel.To.Label, rel.To.Key())

	// Only the target may be stubbed; the source is the document's own node.
	for i, end := range []core.NodeRef{rel.From, rel.To} {
		created, err := w.ensureEndpoint(ctx, prov, end, i == 1 && rel.CreateIfMissing)
		if err != nil {
			res.fail(ctx, item, err)
			return
		}
		if created {
			res.CreatedNodes++
		}
	}

	wctx, cancel := context.WithTimeout(ctx, w.writeTimeout)
	defer cancel()
	created, err := w.store.MergeRelationship(wctx, &core.Relationship{
		KBID:       prov.KBID,
		Type:       rel.Type,
		FromLabel:  rel.From.Label,
		FromKey:    rel.From.Key(),
		ToLabel:    rel.To.Label,
		ToKey:      rel.To.Key(),
		Properties: rel.Properties,
		SourceID:   prov.SourceID,
		RunID:      prov.RunID,
	})
	if err != nil {
		res.fail(ctx, item, err)
		return
	}
	if created {
		res.CreatedRelationships++
	}
}
