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
	"time"

	"github.com/poiesic/schemagraph/core"
)

// DocumentOutcome describes one processed document.
type DocumentOutcome struct {
	KBID                 string
	SourceID             string
	Index                int
	Key                  string
	NodesCreated         int
	RelationshipsCreated int
	Errors               []core.ErrorRecord
	Duration             time.Duration
}

// Failed reports whether any write for the document failed.
func (o *DocumentOutcome) Failed() bool {
	for _, e := range o.Errors {
		if e.Kind == core.ErrorKindGraphWrite || e.Kind == core.ErrorKindTimeout {
			return true
		}
	}
	return false
}

// Monitor receives callbacks during ingestion runs.
// Implementations must be safe for concurrent use: DocumentProcessed is
// called from pool workers.
type Monitor interface {
	RunStarted(run *core.Run)
	PageFetched(run *core.Run, documents int)
	DocumentProcessed(runID string, outcome *DocumentOutcome)
	RunFinished(run *core.Run)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) RunStarted(_ *core.Run)                         {}
func (n *noopMonitor) PageFetched(_ *core.Run, _ int)                 {}
func (n *noopMonitor) DocumentProcessed(_ string, _ *DocumentOutcome) {}
func (n *noopMonitor) RunFinished(_ *core.Run)                        {}

type multiMonitor []Monitor

// Monitors fans callbacks out to every monitor in order.
func Monitors(monitors ...Monitor) Monitor {
	var out multiMonitor
	for _, m := range monitors {
		if m != nil {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return &noopMonitor{}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiMonitor) RunStarted(run *core.Run) {
	for _, mon := range m {
		mon.RunStarted(run)
	}
}

func (m multiMonitor) PageFetched(run *core.Run, documents int) {
	for _, mon := range m {
		mon.PageFetched(run, documents)
	}
}

func (m multiMonitor) DocumentProcessed(runID string, outcome *DocumentOutcome) {
	for _, mon := range m {
		mon.DocumentProcessed(runID, outcome)
	}
}

func (m multiMonitor) RunFinished(run *core.Run) {
	for _, mon := range m {
		mon.RunFinished(run)
	}
}
