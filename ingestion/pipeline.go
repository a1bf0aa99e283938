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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/schemagraph/ai"
	"github.com/poiesic/schemagraph/connector"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/mapper"
	"github.com/poiesic/schemagraph/merge"
	"github.com/poiesic/schemagraph/resolver"
	"github.com/poiesic/schemagraph/tracker"
)

const (
	// DefaultFailureThreshold is the fraction of documents with write
	// failures above which a run is marked Failed.
	DefaultFailureThreshold = 0.5

	defaultRunTimeout = time.Hour
	defaultMaxPages   = 1000
)

// Resolver finds the connector of a (kb, source) pair.
type Resolver interface {
	Resolve(kbID, sourceID string) (resolver.Connector, error)
}

// PullerFactory opens a connector by URL.
type PullerFactory func(url string) (connector.Puller, error)

type pairKey struct {
	kbID     string
	sourceID string
}

// Pipeline orchestrates ingestion runs.
type Pipeline struct {
	resolver         Resolver
	writer           *merge.Writer
	tracker          *tracker.Tracker
	pool             *ants.Pool
	embeddings       ai.Provider
	monitor          Monitor
	openPuller       PullerFactory
	connectorOpts    []connector.Option
	runTimeout       time.Duration
	maxPages         int
	failureThreshold float64
	logger           *slog.Logger

	mu      sync.Mutex
	active  map[pairKey]string
	cancels map[string]context.CancelCauseFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent document processing.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMonitor sets the monitor receiving run callbacks.
func WithMonitor(monitor Monitor) Option {
	return func(p *Pipeline) error {
		p.monitor = Monitors(monitor)
		return nil
	}
}

// WithEmbeddings enables document embedding for schemas that ask for it.
// Without a provider, embedding_config is ignored.
func WithEmbeddings(provider ai.Provider) Option {
	return func(p *Pipeline) error {
		p.embeddings = provider
		return nil
	}
}

// WithRunTimeout bounds a whole run.
// Default is one hour.
func WithRunTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("run timeout must be positive, got %s", d)
		}
		p.runTimeout = d
		return nil
	}
}

// WithMaxPages caps the number of pages pulled per run.
// Default is 1000.
func WithMaxPages(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("max pages must be at least 1, got %d", n)
		}
		p.maxPages = n
		return nil
	}
}

// WithFailureThreshold sets the fraction of documents with write failures
// above which a run is marked Failed. Default is 0.5.
func WithFailureThreshold(f float64) Option {
	return func(p *Pipeline) error {
		if f < 0 || f > 1 {
			return fmt.Errorf("failure threshold must be within [0, 1], got %v", f)
		}
		p.failureThreshold = f
		return nil
	}
}

// WithConnectorOptions sets options for connectors opened by the default factory.
func WithConnectorOptions(opts ...connector.Option) Option {
	return func(p *Pipeline) error {
		p.connectorOpts = append(p.connectorOpts, opts...)
		return nil
	}
}

// WithPullerFactory replaces how connectors are opened.
func WithPullerFactory(factory PullerFactory) Option {
	return func(p *Pipeline) error {
		if factory == nil {
			return errors.New("puller factory must not be nil")
		}
		p.openPuller = factory
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(res Resolver, writer *merge.Writer, runs *tracker.Tracker, opts ...Option) (*Pipeline, error) {
	if res == nil {
		return nil, ErrResolverRequired
	}
	if writer == nil {
		return nil, ErrWriterRequired
	}
	if runs == nil {
		return nil, ErrTrackerRequired
	}

	p := &Pipeline{
		resolver:         res,
		writer:           writer,
		tracker:          runs,
		monitor:          &noopMonitor{},
		runTimeout:       defaultRunTimeout,
		maxPages:         defaultMaxPages,
		failureThreshold: DefaultFailureThreshold,
		logger:           slog.Default(),
		active:           make(map[pairKey]string),
		cancels:          make(map[string]context.CancelCauseFunc),
	}
	p.openPuller = func(url string) (connector.Puller, error) {
		return connector.Open(url, p.connectorOpts...)
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}

	if p.pool == nil {
		pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Cancel stops a live run. It reports whether the run was live.
func (p *Pipeline) Cancel(runID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[runID]
	p.mu.Unlock()
	if ok {
		cancel(ErrRunCancelled)
	}
	return ok
}

// Active returns the id of the live run for a pair, if any.
func (p *Pipeline) Active(kbID, sourceID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	runID, ok := p.active[pairKey{kbID, sourceID}]
	return runID, ok && runID != ""
}

func (p *Pipeline) reserve(key pairKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if runID, busy := p.active[key]; busy {
		return fmt.Errorf("%w: %s/%s (run %s)", ErrRunInProgress, key.kbID, key.sourceID, runID)
	}
	p.active[key] = ""
	return nil
}

func (p *Pipeline) release(key pairKey, runID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, key)
	delete(p.cancels, runID)
}

// run is the state of one live run shared with pool workers.
type run struct {
	id        string
	conn      resolver.Connector
	prov      core.Provenance
	embedder  ai.Embedder
	docs      atomic.Int64
	failedDoc atomic.Int64
}

// Ingest runs ingestion for a source and returns the finalized run.
// The error is non-nil only when the source cannot be resolved, a run for
// the pair is already in progress, or the run could not be recorded.
func (p *Pipeline) Ingest(ctx context.Context, kbID, sourceID string) (*core.Run, error) {
	conn, err := p.resolver.Resolve(kbID, sourceID)
	if err != nil {
		return nil, err
	}

	key := pairKey{kbID, sourceID}
	if err := p.reserve(key); err != nil {
		return nil, err
	}

	runID, err := p.tracker.Start(ctx, kbID, sourceID)
	if err != nil {
		p.release(key, "")
		return nil, err
	}

	cancelCtx, cancel := context.WithCancelCause(ctx)
	runCtx, stop := context.WithTimeout(cancelCtx, p.runTimeout)
	defer stop()
	defer cancel(nil)

	p.mu.Lock()
	p.active[key] = runID
	p.cancels[runID] = cancel
	p.mu.Unlock()
	defer p.release(key, runID)

	logger := p.logger.With("run_id", runID, "kb_id", kbID, "source_id", sourceID)
	r := &run{
		id:   runID,
		conn: conn,
		prov: core.Provenance{KBID: kbID, SourceID: sourceID, RunID: runID},
	}
	if snap, err := p.tracker.Get(ctx, runID); err == nil {
		p.monitor.RunStarted(snap)
	}

	errs, fatal := p.execute(runCtx, r, logger)
	status := p.finalStatus(runCtx, r, fatal, &errs)

	// Finalization must happen even when the caller's context is done.
	finalized, err := p.tracker.Complete(context.WithoutCancel(ctx), runID, status, errs...)
	if finalized != nil {
		p.monitor.RunFinished(finalized)
	}
	if err != nil {
		logger.Error("failed to finalize run", "err", err)
		return finalized, err
	}
	return finalized, nil
}

// execute pulls and processes every page. It returns run-level errors and
// whether one of them failed the run.
func (p *Pipeline) execute(ctx context.Context, r *run, logger *slog.Logger) ([]core.ErrorRecord, bool) {
	runErr := func(kind core.ErrorKind, err error) []core.ErrorRecord {
		return []core.ErrorRecord{{Kind: kind, Message: err.Error(), Document: -1, At: time.Now().UTC()}}
	}
	var warnings []core.ErrorRecord

	cursor, err := p.tracker.LoadCursor(ctx, r.prov.KBID, r.prov.SourceID)
	if err != nil {
		return append(warnings, runErr(core.ErrorKindRunTracking, fmt.Errorf("load cursor: %w", err))...), true
	}
	if err := p.tracker.SetCursor(r.id, cursor); err != nil {
		return append(warnings, runErr(core.ErrorKindRunTracking, err)...), true
	}
	if err := p.tracker.MarkRunning(ctx, r.id); err != nil {
		return append(warnings, runErr(core.ErrorKindRunTracking, err)...), true
	}

	puller, err := p.openPuller(r.conn.URL)
	if err != nil {
		return append(warnings, runErr(core.ErrorKindConnectorUnavailable, err)...), true
	}

	if p.embeddings != nil && r.conn.Schema.Embedding.Enabled {
		r.embedder, err = p.embeddings.Embedder(r.conn.Schema.Embedding.Model)
		if err != nil {
			logger.Warn("embedding disabled for run", "err", err)
			warnings = runErr(core.ErrorKindEmbeddingFailed, err)
		}
	}

	for pages := 0; pages < p.maxPages; pages++ {
		page, err := puller.Pull(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return warnings, false
			}
			logger.Warn("pull failed", "cursor", cursor, "err", err)
			return append(warnings, runErr(core.ErrorKindConnectorUnavailable, err)...), true
		}
		if snap, err := p.tracker.Get(ctx, r.id); err == nil {
			p.monitor.PageFetched(snap, len(page.Documents))
		}
		if len(page.Documents) == 0 {
			break
		}

		if err := p.processPage(ctx, r, page.Documents); err != nil {
			return append(warnings, runErr(core.ErrorKindGraphWrite, err)...), true
		}
		if ctx.Err() != nil {
			return warnings, false
		}

		if page.NextCursor == "" || page.NextCursor == cursor {
			break
		}
		cursor = page.NextCursor
		if err := p.tracker.SetCursor(r.id, cursor); err != nil {
			return append(warnings, runErr(core.ErrorKindRunTracking, err)...), true
		}
		if pages == p.maxPages-1 {
			logger.Info("page limit reached", "max_pages", p.maxPages, "cursor", cursor)
		}
	}
	return warnings, false
}

// processPage fans the documents of a page out to the pool and waits for them.
func (p *Pipeline) processPage(ctx context.Context, r *run, docs []core.Value) error {
	var wg sync.WaitGroup
	for _, doc := range docs {
		if ctx.Err() != nil {
			break
		}
		index := int(r.docs.Add(1)) - 1
		wg.Add(1)
		if err := p.pool.Submit(func() {
			defer wg.Done()
			p.process(ctx, r, index, doc)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("submit document %d: %w", index, err)
		}
	}
	wg.Wait()
	return nil
}

// process maps, embeds, merges and records one document.
func (p *Pipeline) process(ctx context.Context, r *run, index int, doc core.Value) {
	start := time.Now()
	mapping := r.conn.Mapping
	ext := mapper.Apply(doc, mapping, r.conn.Schema)

	outcome := &DocumentOutcome{
		KBID:     r.prov.KBID,
		SourceID: r.prov.SourceID,
		Index:    index,
		Key:      ext.PrimaryKey(mapping.Node.TargetLabel),
	}
	record := func(kind core.ErrorKind, msg, path string) {
		outcome.Errors = append(outcome.Errors, core.ErrorRecord{
			Kind:        kind,
			Message:     msg,
			Document:    index,
			DocumentKey: outcome.Key,
			Path:        path,
			At:          time.Now().UTC(),
		})
	}

	for _, s := range ext.Skipped {
		record(core.ErrorKindExtractionSkipped, s.Message, s.Path)
	}

	if r.embedder != nil && outcome.Key != "" {
		if err := p.embed(ctx, r, doc, &ext.Nodes[0]); err != nil {
			record(core.ErrorKindEmbeddingFailed, err.Error(), r.conn.Schema.Embedding.TextPath)
		}
	}

	res, err := p.writer.Merge(ctx, r.prov, ext.Nodes, ext.Relationships)
	if err != nil && ctx.Err() == nil {
		record(core.ErrorKindGraphWrite, err.Error(), "")
	}
	outcome.NodesCreated = res.CreatedNodes
	outcome.RelationshipsCreated = res.CreatedRelationships
	for _, f := range res.Failures {
		record(f.Kind, f.Error(), "")
	}
	if outcome.Failed() {
		r.failedDoc.Add(1)
	}
	outcome.Duration = time.Since(start)

	if err := p.tracker.RecordDocument(r.id, tracker.DocumentResult{
		NodesCreated:         outcome.NodesCreated,
		RelationshipsCreated: outcome.RelationshipsCreated,
		Errors:               outcome.Errors,
	}); err != nil {
		p.logger.Error("failed to record document", "run_id", r.id, "document", index, "err", err)
	}
	p.monitor.DocumentProcessed(r.id, outcome)
}

// embed stores the embedding of the document text on the primary node.
func (p *Pipeline) embed(ctx context.Context, r *run, doc core.Value, node *core.ExtractedNode) error {
	cfg := r.conn.Schema.Embedding
	text := doc.Text()
	if cfg.TextExpr != nil {
		v, ok := cfg.TextExpr.Evaluate(doc)
		if !ok || v.IsNull() {
			return nil
		}
		text = v.Text()
	}
	if text == "" {
		return nil
	}

	vector, err := r.embedder.EmbedText(ctx, text)
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	value, err := core.FromNative(vector)
	if err != nil {
		return err
	}
	if node.Properties == nil {
		node.Properties = map[string]core.Value{}
	}
	node.Properties[cfg.TargetProperty] = value
	return nil
}

// finalStatus decides the terminal status and appends the run-level error
// explaining a failure.
func (p *Pipeline) finalStatus(ctx context.Context, r *run, fatal bool, errs *[]core.ErrorRecord) core.RunStatus {
	now := time.Now().UTC()
	if ctx.Err() != nil {
		kind := core.ErrorKindCancelled
		if errors.Is(context.Cause(ctx), context.DeadlineExceeded) {
			kind = core.ErrorKindTimeout
		}
		*errs = append(*errs, core.ErrorRecord{Kind: kind, Message: context.Cause(ctx).Error(), Document: -1, At: now})
		return core.RunFailed
	}
	if fatal {
		return core.RunFailed
	}

	processed := r.docs.Load()
	failed := r.failedDoc.Load()
	if processed > 0 && float64(failed)/float64(processed) > p.failureThreshold {
		*errs = append(*errs, core.ErrorRecord{
			Kind:     core.ErrorKindGraphWrite,
			Message:  fmt.Sprintf("%d of %d documents failed to write (threshold %.2f)", failed, processed, p.failureThreshold),
			Document: -1,
			At:       now,
		})
		return core.RunFailed
	}
	return core.RunCompleted
}
