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
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/poiesic/schemagraph/core"
)

// ProgressMonitor writes run progress to a terminal.
// The total grows as pages are fetched.
type ProgressMonitor struct {
	writer         io.Writer
	total          int
	current        int
	reportInterval int
	lastReported   int
	startTime      time.Time
	started        bool
	mu             sync.Mutex
}

var _ Monitor = (*ProgressMonitor)(nil)

// NewProgressMonitor creates a progress monitor.
// writer: where to write progress output (typically os.Stderr)
// reportInterval: report progress every N documents
func NewProgressMonitor(writer io.Writer, reportInterval int) *ProgressMonitor {
	if reportInterval < 1 {
		reportInterval = 1
	}
	return &ProgressMonitor{
		writer:         writer,
		reportInterval: reportInterval,
	}
}

// RunStarted begins tracking progress.
func (p *ProgressMonitor) RunStarted(run *core.Run) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.startTime = time.Now()
	p.started = true
	p.total = 0
	p.current = 0
	p.lastReported = 0
	fmt.Fprintf(p.writer, "Ingesting %s/%s (run %s)\n", run.KBID, run.SourceID, run.ID)
}

// PageFetched adds the documents of a page to the total.
func (p *ProgressMonitor) PageFetched(_ *core.Run, documents int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.total += documents
}

// DocumentProcessed advances progress by one document.
func (p *ProgressMonitor) DocumentProcessed(_ string, _ *DocumentOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}

	p.current++
	if p.current > p.total {
		p.current = p.total
	}

	if p.current-p.lastReported >= p.reportInterval {
		p.report()
		p.lastReported = p.current
	}
}

// RunFinished prints final progress and the run summary.
func (p *ProgressMonitor) RunFinished(run *core.Run) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return
	}
	p.started = false

	if p.total > 0 {
		p.report()
		fmt.Fprintln(p.writer)
	}
	fmt.Fprintf(p.writer, "Run %s %s: %d documents, %d nodes created, %d relationships created, %d errors\n",
		run.ID, run.Status, run.DocumentsProcessed, run.NodesCreated, run.RelationshipsCreated, len(run.Errors))
}

// Elapsed returns the time elapsed since the run started.
func (p *ProgressMonitor) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.startTime.IsZero() {
		return 0
	}
	return time.Since(p.startTime)
}

// report prints the current progress. Must be called with lock held.
func (p *ProgressMonitor) report() {
	elapsed := time.Since(p.startTime)
	rate := float64(p.current) / elapsed.Seconds()

	percentage := 0.0
	if p.total > 0 {
		percentage = float64(p.current) / float64(p.total) * 100.0
	}

	fmt.Fprintf(p.writer, "\rProgress: %d/%d (%.1f%%) - %.1f documents/s",
		p.current, p.total, percentage, rate)
}
