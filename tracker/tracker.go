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

// Package tracker owns the lifecycle of ingestion runs.
//
// A run moves Pending -> Running -> Completed|Failed. While a run is live its
// counters are kept in memory and updated atomically by concurrent workers;
// reads of a live run see the in-memory state. Runs are persisted on every
// status change, and a run finalizes exactly once.
package tracker

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/storage"
)

// DocumentResult is the outcome of processing one document.
type DocumentResult struct {
	NodesCreated         int
	RelationshipsCreated int
	Errors               []core.ErrorRecord
}

type entry struct {
	mu        sync.Mutex
	run       core.Run
	errs      []core.ErrorRecord
	docs      atomic.Int64
	nodes     atomic.Int64
	rels      atomic.Int64
	finalized atomic.Bool
}

func (e *entry) snapshot() *core.Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	run := e.run
	run.DocumentsProcessed = e.docs.Load()
	run.NodesCreated = e.nodes.Load()
	run.RelationshipsCreated = e.rels.Load()
	run.Errors = slices.Clone(e.errs)
	return &run
}

// Tracker records ingestion runs and answers status queries.
type Tracker struct {
	runs    storage.RunRepository
	cursors storage.CursorRepository
	graph   storage.GraphStore
	mu      sync.RWMutex
	live    map[string]*entry
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) error {
		if logger == nil {
			logger = slog.Default()
		}
		t.logger = logger
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		t.now = now
		return nil
	}
}

// NewTracker creates a Tracker persisting through the given repositories.
// The graph store is only read, to compute knowledge base totals.
func NewTracker(runs storage.RunRepository, cursors storage.CursorRepository, graph storage.GraphStore, opts ...Option) (*Tracker, error) {
	if runs == nil {
		return nil, ErrRunRepositoryRequired
	}
	if cursors == nil {
		return nil, ErrCursorRepositoryRequired
	}
	if graph == nil {
		return nil, ErrGraphStoreRequired
	}
	t := &Tracker{
		runs:    runs,
		cursors: cursors,
		graph:   graph,
		live:    make(map[string]*entry),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	t.logger = t.logger.With("component", "tracker")
	return t, nil
}

// Start creates a Pending run and returns its id.
func (t *Tracker) Start(ctx context.Context, kbID, sourceID string) (string, error) {
	if kbID == "" {
		return "", core.ErrEmptyKBID
	}
	if sourceID == "" {
		return "", ErrSourceRequired
	}
	e := &entry{run: core.Run{
		ID:        uuid.NewString(),
		KBID:      kbID,
		SourceID:  sourceID,
		StartedAt: t.now(),
		Status:    core.RunPending,
	}}
	if err := t.runs.SaveRun(ctx, e.snapshot()); err != nil {
		return "", err
	}

	t.mu.Lock()
	t.live[e.run.ID] = e
	t.mu.Unlock()

	t.logger.Debug("run started", "run_id", e.run.ID, "kb_id", kbID, "source_id", sourceID)
	return e.run.ID, nil
}

func (t *Tracker) entry(runID string) (*entry, error) {
	t.mu.RLock()
	e, ok := t.live[runID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s is not live", ErrRunNotFound, runID)
	}
	if e.finalized.Load() {
		return nil, fmt.Errorf("%w: %s", ErrRunFinalized, runID)
	}
	return e, nil
}

// MarkRunning moves a Pending run to Running.
func (t *Tracker) MarkRunning(ctx context.Context, runID string) error {
	e, err := t.entry(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.run.Status != core.RunPending {
		status := e.run.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, core.RunRunning)
	}
	e.run.Status = core.RunRunning
	e.mu.Unlock()
	return t.runs.SaveRun(ctx, e.snapshot())
}

// SetCursor records the cursor the next run should resume from. It is only
// persisted for the source when the run completes.
func (t *Tracker) SetCursor(runID, cursor string) error {
	e, err := t.entry(runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.run.Cursor = cursor
	e.mu.Unlock()
	return nil
}

// RecordDocument adds the outcome of one document to a live run.
// Safe for concurrent use.
func (t *Tracker) RecordDocument(runID string, res DocumentResult) error {
	e, err := t.entry(runID)
	if err != nil {
		return err
	}
	e.docs.Add(1)
	e.nodes.Add(int64(res.NodesCreated))
	e.rels.Add(int64(res.RelationshipsCreated))
	if len(res.Errors) > 0 {
		e.mu.Lock()
		e.errs = append(e.errs, res.Errors...)
		e.mu.Unlock()
	}
	return nil
}

// Complete finalizes a run with a terminal status, appending any run-level
// errors. A Completed run with a cursor stores it for its source. Calling
// Complete twice returns ErrRunFinalized.
func (t *Tracker) Complete(ctx context.Context, runID string, status core.RunStatus, errs ...core.ErrorRecord) (*core.Run, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	e, err := t.entry(runID)
	if errors.Is(err, ErrRunNotFound) {
		if run, getErr := t.runs.GetRun(ctx, runID); getErr == nil && run.Status.Terminal() {
			return nil, fmt.Errorf("%w: %s", ErrRunFinalized, runID)
		}
	}
	if err != nil {
		return nil, err
	}
	if !e.finalized.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrRunFinalized, runID)
	}

	e.mu.Lock()
	e.run.Status = status
	e.run.CompletedAt = t.now()
	e.errs = append(e.errs, errs...)
	e.mu.Unlock()
	run := e.snapshot()

	defer func() {
		t.mu.Lock()
		delete(t.live, runID)
		t.mu.Unlock()
	}()

	if err := t.runs.SaveRun(ctx, run); err != nil {
		return run, err
	}
	if status == core.RunCompleted && run.Cursor != "" {
		if err := t.cursors.SaveCursor(ctx, run.KBID, run.SourceID, run.Cursor); err != nil {
			return run, err
		}
	}

	t.logger.Info("run finished",
		"run_id", run.ID,
		"kb_id", run.KBID,
		"source_id", run.SourceID,
		"status", run.Status,
		"documents", run.DocumentsProcessed,
		"nodes_created", run.NodesCreated,
		"relationships_created", run.RelationshipsCreated,
		"errors", len(run.Errors))
	return run, nil
}

// Get returns a run by id. Live runs are read from memory.
func (t *Tracker) Get(ctx context.Context, runID string) (*core.Run, error) {
	t.mu.RLock()
	e, ok := t.live[runID]
	t.mu.RUnlock()
	if ok {
		return e.snapshot(), nil
	}
	run, err := t.runs.GetRun(ctx, runID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// Runs lists the runs of a knowledge base, oldest first. An empty kbID lists
// every run.
func (t *Tracker) Runs(ctx context.Context, kbID string) ([]*core.Run, error) {
	runs, err := t.runs.ListRuns(ctx, kbID)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, run := range runs {
		if e, ok := t.live[run.ID]; ok {
			runs[i] = e.snapshot()
		}
	}
	return runs, nil
}

// LoadCursor returns the cursor stored by the last completed run of a source.
func (t *Tracker) LoadCursor(ctx context.Context, kbID, sourceID string) (string, error) {
	return t.cursors.LoadCursor(ctx, kbID, sourceID)
}

// Status computes the status of a knowledge base from the graph store and run
// history. Sources are reported in the given order, followed by any other
// source with recorded runs.
func (t *Tracker) Status(ctx context.Context, kbID string, sources []string) (*core.KnowledgeBaseStatus, error) {
	nodes, err := t.graph.CountNodes(ctx, kbID)
	if err != nil {
		return nil, err
	}
	rels, err := t.graph.CountRelationships(ctx, kbID)
	if err != nil {
		return nil, err
	}
	runs, err := t.Runs(ctx, kbID)
	if err != nil {
		return nil, err
	}

	bySource := make(map[string][]*core.Run)
	for _, run := range runs {
		bySource[run.SourceID] = append(bySource[run.SourceID], run)
	}
	order := slices.Clone(sources)
	var extra []string
	for id := range bySource {
		if !slices.Contains(order, id) {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	order = append(order, extra...)

	status := &core.KnowledgeBaseStatus{
		KBID:               kbID,
		TotalNodes:         nodes,
		TotalRelationships: rels,
		Sources:            make([]core.SourceStatus, 0, len(order)),
	}
	for _, sourceID := range order {
		ss, err := t.sourceStatus(ctx, kbID, sourceID, bySource[sourceID])
		if err != nil {
			return nil, err
		}
		status.Sources = append(status.Sources, ss)
	}
	return status, nil
}

func (t *Tracker) sourceStatus(ctx context.Context, kbID, sourceID string, runs []*core.Run) (core.SourceStatus, error) {
	ss := core.SourceStatus{SourceID: sourceID, TotalRuns: len(runs)}
	cursor, err := t.cursors.LoadCursor(ctx, kbID, sourceID)
	if err != nil {
		return ss, err
	}
	ss.Cursor = cursor
	if len(runs) == 0 {
		return ss, nil
	}

	last := slices.MaxFunc(runs, func(a, b *core.Run) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	ss.LastRunID = last.ID
	ss.LastSyncStatus = last.Status
	ss.LastSyncAt = last.StartedAt
	if !last.CompletedAt.IsZero() {
		ss.LastSyncAt = last.CompletedAt
	}
	ss.ErrorCount = len(last.Errors)
	return ss, nil
}

// Recover fails every persisted non-terminal run that is not live in this
// process, recording an Interrupted error. It returns the number of runs
// recovered.
func (t *Tracker) Recover(ctx context.Context) (int, error) {
	runs, err := t.runs.ListRuns(ctx, "")
	if err != nil {
		return 0, err
	}
	recovered := 0
	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		t.mu.RLock()
		_, live := t.live[run.ID]
		t.mu.RUnlock()
		if live {
			continue
		}

		now := t.now()
		run.Status = core.RunFailed
		run.CompletedAt = now
		run.Errors = append(run.Errors, core.ErrorRecord{
			Kind:     core.ErrorKindInterrupted,
			Message:  "run was interrupted before it finished",
			Document: -1,
			At:       now,
		})
		if err := t.runs.SaveRun(ctx, run); err != nil {
			return recovered, err
		}
		recovered++
		t.logger.Warn("recovered interrupted run", "run_id", run.ID, "kb_id", run.KBID, "source_id", run.SourceID)
	}
	return recovered, nil
}
