package ingestion

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/schemagraph/core"
	"github.com/stretchr/testify/assert"
)

func TestProgressMonitor_Basic(t *testing.T) {
	var buf bytes.Buffer
	monitor := NewProgressMonitor(&buf, 10)
	run := &core.Run{ID: "r1", KBID: "kb", SourceID: "docs"}

	monitor.RunStarted(run)
	monitor.PageFetched(run, 50)
	monitor.PageFetched(run, 50)
	for i := 0; i < 100; i++ {
		monitor.DocumentProcessed(run.ID, &DocumentOutcome{Index: i})
	}

	assert.Greater(t, monitor.Elapsed(), time.Duration(0), "elapsed time should be positive")

	output := buf.String()
	assert.Contains(t, output, "Ingesting kb/docs (run r1)")
	assert.Contains(t, output, "100/100", "should show completion")
	assert.Contains(t, output, "100.0%", "should show 100%")
}

func TestProgressMonitor_ReportInterval(t *testing.T) {
	var buf bytes.Buffer
	monitor := NewProgressMonitor(&buf, 5)
	run := &core.Run{ID: "r1"}

	monitor.RunStarted(run)
	monitor.PageFetched(run, 12)
	for i := 0; i < 12; i++ {
		monitor.DocumentProcessed(run.ID, &DocumentOutcome{Index: i})
	}

	assert.Equal(t, 2, strings.Count(buf.String(), "Progress:"), "should report at 5 and 10")
}

func TestProgressMonitor_Finish(t *testing.T) {
	var buf bytes.Buffer
	monitor := NewProgressMonitor(&buf, 100)
	run := &core.Run{ID: "r1"}

	monitor.RunStarted(run)
	monitor.PageFetched(run, 4)
	for i := 0; i < 4; i++ {
		monitor.DocumentProcessed(run.ID, &DocumentOutcome{Index: i})
	}
	finished := &core.Run{ID: "r1", Status: core.RunFailed, DocumentsProcessed: 4, NodesCreated: 3,
		Errors: []core.ErrorRecord{{Kind: core.ErrorKindGraphWrite}}}
	monitor.RunFinished(finished)

	output := buf.String()
	assert.Contains(t, output, "4/4 (100.0%)", "finish should report final progress")
	assert.True(t, strings.HasSuffix(output,
		"\nRun r1 failed: 4 documents, 3 nodes created, 0 relationships created, 1 errors\n"))
}

func TestProgressMonitor_IgnoresCallbacksBeforeStart(t *testing.T) {
	var buf bytes.Buffer
	monitor := NewProgressMonitor(&buf, 1)

	monitor.PageFetched(&core.Run{}, 10)
	monitor.DocumentProcessed("r1", &DocumentOutcome{})
	monitor.RunFinished(&core.Run{})

	assert.Empty(t, buf.String())
	assert.Zero(t, monitor.Elapsed())
}

func TestProgressMonitor_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	monitor := NewProgressMonitor(&buf, 1000)
	run := &core.Run{ID: "r1"}
	monitor.RunStarted(run)
	monitor.PageFetched(run, 200)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			monitor.DocumentProcessed(run.ID, &DocumentOutcome{Index: i})
		}(i)
	}
	wg.Wait()

	monitor.mu.Lock()
	defer monitor.mu.Unlock()
	assert.Equal(t, 200, monitor.current)
}

type eventMonitor struct {
	mu     sync.Mutex
	events []string
}

func (m *eventMonitor) add(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *eventMonitor) RunStarted(run *core.Run)         { m.add("started " + run.ID) }
func (m *eventMonitor) PageFetched(run *core.Run, _ int) { m.add("page " + run.ID) }
func (m *eventMonitor) RunFinished(run *core.Run)        { m.add("finished " + run.ID) }
func (m *eventMonitor) DocumentProcessed(runID string, _ *DocumentOutcome) {
	m.add("document " + runID)
}

func TestMonitorsFanOut(t *testing.T) {
	a, b := &eventMonitor{}, &eventMonitor{}
	m := Monitors(a, nil, b)
	run := &core.Run{ID: "r1"}

	m.RunStarted(run)
	m.PageFetched(run, 1)
	m.DocumentProcessed("r1", &DocumentOutcome{})
	m.RunFinished(run)

	want := []string{"started r1", "page r1", "document r1", "finished r1"}
	assert.Equal(t, want, a.events)
	assert.Equal(t, want, b.events)

	assert.Same(t, a, Monitors(a))
	assert.IsType(t, &noopMonitor{}, Monitors())
}

func TestDocumentOutcomeFailed(t *testing.T) {
	assert.False(t, (&DocumentOutcome{}).Failed())
	assert.False(t, (&DocumentOutcome{Errors: []core.ErrorRecord{{Kind: core.ErrorKindExtractionSkipped}}}).Failed())
	assert.True(t, (&DocumentOutcome{Errors: []core.ErrorRecord{{Kind: core.ErrorKindGraphWrite}}}).Failed())
	assert.True(t, (&DocumentOutcome{Errors: []core.ErrorRecord{{Kind: core.ErrorKindTimeout}}}).Failed())
}
