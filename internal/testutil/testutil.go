// Package testutil provides in-memory fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/registry"
)

// FakeAgent is an agent.Service that never spawns anything. Tests drive
// run outcomes explicitly through the attached registry.
type FakeAgent struct {
	Reg      *registry.Registry
	StartErr error

	mu     sync.Mutex
	starts []agent.StartOptions
	ids    []string
	next   int
}

// Start implements agent.Service. Run IDs are deterministic: run-1, run-2...
func (f *FakeAgent) Start(ctx context.Context, opts agent.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return "", f.StartErr
	}
	f.next++
	id := fmt.Sprintf("run-%d", f.next)
	f.starts = append(f.starts, opts)
	f.ids = append(f.ids, id)
	return id, nil
}

// Starts returns every StartOptions seen so far.
func (f *FakeAgent) Starts() []agent.StartOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.StartOptions(nil), f.starts...)
}

// RunIDs returns the IDs handed out so far.
func (f *FakeAgent) RunIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ids...)
}

// LastRunID returns the most recently started run's ID, or "".
func (f *FakeAgent) LastRunID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.ids) == 0 {
		return ""
	}
	return f.ids[len(f.ids)-1]
}

// Emit streams assistant-visible text for a run and flushes it.
func (f *FakeAgent) Emit(runID, text string) {
	f.Reg.AppendEvent(agent.Event{
		RunID: runID,
		Kind:  agent.EventAssistantText,
		Text:  text,
		At:    time.Now(),
	})
	f.Reg.Flush()
}

// Finish drives a run through running to the given terminal status.
func (f *FakeAgent) Finish(runID string, status agent.Status) {
	f.Reg.SetStatus(runID, agent.StatusRunning)
	f.Reg.SetStatus(runID, status)
}

var _ agent.Service = (*FakeAgent)(nil)
