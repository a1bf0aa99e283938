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

// Package metrics exports ingestion activity as Prometheus metrics.
package metrics

import (
	"github.com/poiesic/schemagraph/core"
	"github.com/poiesic/schemagraph/ingestion"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "schemagraph"

// Collector is an ingestion.Monitor that records Prometheus metrics.
type Collector struct {
	runsStarted      *prometheus.CounterVec
	runsFinished     *prometheus.CounterVec
	activeRuns       *prometheus.GaugeVec
	documents        *prometheus.CounterVec
	nodesCreated     *prometheus.CounterVec
	relsCreated      *prometheus.CounterVec
	errors           *prometheus.CounterVec
	documentDuration *prometheus.HistogramVec
}

var _ ingestion.Monitor = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	pair := []string{"kb_id", "source_id"}
	c := &Collector{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Ingestion runs started.",
		}, pair),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Ingestion runs finished, by terminal status.",
		}, append(pair, "status")),
		activeRuns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Ingestion runs currently in progress.",
		}, pair),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_processed_total",
			Help:      "Documents processed.",
		}, pair),
		nodesCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Graph nodes created.",
		}, pair),
		relsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationships_created_total",
			Help:      "Graph relationships created.",
		}, pair),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors recorded on runs, by kind.",
		}, append(pair, "kind")),
		documentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "document_duration_seconds",
			Help:      "Time to map, embed and merge one document.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, pair),
	}

	for _, col := range []prometheus.Collector{
		c.runsStarted, c.runsFinished, c.activeRuns, c.documents,
		c.nodesCreated, c.relsCreated, c.errors, c.documentDuration,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) RunStarted(run *core.Run) {
	c.runsStarted.WithLabelValues(run.KBID, run.SourceID).Inc()
	c.activeRuns.WithLabelValues(run.KBID, run.SourceID).Inc()
}

func (c *Collector) PageFetched(_ *core.Run, _ int) {}

func (c *Collector) DocumentProcessed(_ string, o *ingestion.DocumentOutcome) {
	c.documents.WithLabelValues(o.KBID, o.SourceID).Inc()
	c.nodesCreated.WithLabelValues(o.KBID, o.SourceID).Add(float64(o.NodesCreated))
	c.relsCreated.WithLabelValues(o.KBID, o.SourceID).Add(float64(o.RelationshipsCreated))
	c.documentDuration.WithLabelValues(o.KBID, o.SourceID).Observe(o.Duration.Seconds())
	for _, e := range o.Errors {
		c.errors.WithLabelValues(o.KBID, o.SourceID, string(e.Kind)).Inc()
	}
}

// RunFinished counts the run outcome and its run-level errors; document
// errors were counted as documents were processed.
func (c *Collector) RunFinished(run *core.Run) {
	c.activeRuns.WithLabelValues(run.KBID, run.SourceID).Dec()
	c.runsFinished.WithLabelValues(run.KBID, run.SourceID, run.Status.String()).Inc()
	for _, e := range run.Errors {
		if e.Document < 0 {
			c.errors.WithLabelValues(run.KBID, run.SourceID, string(e.Kind)).Inc()
		}
	}
}
