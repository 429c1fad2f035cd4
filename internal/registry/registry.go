// Package registry tracks concurrently executing external agent runs.
// It has no knowledge of workflow semantics: callers tag runs so they can
// tell their own apart.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/skill-forge/forge/internal/agent"
)

// Tag classifies who owns a run, so the generic completion watcher does not
// misattribute a gate or judge run's terminal status to a workflow step.
type Tag string

const (
	TagStep  Tag = "step"  // Ordinary workflow step run
	TagGate  Tag = "gate"  // Checklist gate evaluator run
	TagJudge Tag = "judge" // A/B comparison judge run
	TagProbe Tag = "probe" // A/B baseline/treatment run
)

// AgentRun is the registry's record of one external run.
type AgentRun struct {
	ID        string
	Model     string
	Tag       Tag
	Status    agent.Status
	Messages  []agent.Event // Append-only, ordered
	TotalCost *float64
	StartedAt time.Time
}

// clone returns a copy safe to hand to callers outside the lock.
func (r *AgentRun) clone() *AgentRun {
	c := *r
	c.Messages = append([]agent.Event(nil), r.Messages...)
	if r.TotalCost != nil {
		v := *r.TotalCost
		c.TotalCost = &v
	}
	return &c
}

// TerminalFunc is invoked once when a run reaches a terminal status.
type TerminalFunc func(run *AgentRun)

// Registry tracks zero or more runs by opaque identifier. Events are
// buffered and applied in batches on a tick cadence to bound update
// overhead under high-frequency token streaming.
type Registry struct {
	mu       sync.Mutex
	runs     map[string]*AgentRun
	pending  []agent.Event
	watchers []TerminalFunc
	logger   *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		runs:   make(map[string]*AgentRun),
		logger: logger,
	}
}

// OnTerminal registers a watcher called whenever any run reaches a terminal
// status. Watchers run outside the registry lock.
func (r *Registry) OnTerminal(fn TerminalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers = append(r.watchers, fn)
}

// Register creates or merges a run entry. Registration is an upsert: if
// streamed events already arrived for this id (a race with run start), the
// placeholder entry they created is kept and only metadata is filled in.
func (r *Registry) Register(runID, model string, tag Tag) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if run, ok := r.runs[runID]; ok {
		run.Model = model
		run.Tag = tag
		return
	}
	r.runs[runID] = &AgentRun{
		ID:        runID,
		Model:     model,
		Tag:       tag,
		Status:    agent.StatusInitializing,
		StartedAt: time.Now(),
	}
}

// AppendEvent buffers an event for batch application. Events for runs that
// have not been registered yet are not dropped: Flush creates a placeholder
// entry that a later Register merges into.
func (r *Registry) AppendEvent(ev agent.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, ev)
}

// Flush applies all buffered events synchronously. Callers that must
// observe the very latest state (e.g., before computing a final transcript)
// call this directly; otherwise the tick loop does it.
func (r *Registry) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *Registry) flushLocked() {
	for _, ev := range r.pending {
		run, ok := r.runs[ev.RunID]
		if !ok {
			run = &AgentRun{
				ID:        ev.RunID,
				Status:    agent.StatusInitializing,
				StartedAt: time.Now(),
			}
			r.runs[ev.RunID] = run
		}
		run.Messages = append(run.Messages, ev)
	}
	r.pending = r.pending[:0]
}

// Run drives the periodic flush loop until the context is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.Flush()
			return
		case <-ticker.C:
			r.Flush()
		}
	}
}

// SetStatus applies a status transition. Transitions are monotonic per run:
// initializing -> running -> terminal; once terminal, further transitions
// are rejected. Pending events are flushed first so watchers observe a
// complete transcript.
func (r *Registry) SetStatus(runID string, status agent.Status) error {
	r.mu.Lock()

	// Status can race ahead of registration just like events; resolve the
	// race with a placeholder that Register later merges into.
	run, ok := r.runs[runID]
	if !ok {
		run = &AgentRun{
			ID:        runID,
			Status:    agent.StatusInitializing,
			StartedAt: time.Now(),
		}
		r.runs[runID] = run
	}
	if !run.Status.CanTransitionTo(status) {
		r.mu.Unlock()
		if r.logger != nil {
			r.logger.Debug("ignoring non-monotonic status transition",
				"run_id", runID, "from", run.Status, "to", status)
		}
		return nil
	}

	r.flushLocked()
	run.Status = status

	var snapshot *AgentRun
	var watchers []TerminalFunc
	if status.IsTerminal() {
		snapshot = run.clone()
		watchers = append([]TerminalFunc(nil), r.watchers...)
	}
	r.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
	return nil
}

// SetTotalCost records the final cost reported by the host.
func (r *Registry) SetTotalCost(runID string, cost float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[runID]; ok {
		run.TotalCost = &cost
	}
}

// Get returns a snapshot of a run, or nil if untracked.
func (r *Registry) Get(runID string) *AgentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[runID]; ok {
		return run.clone()
	}
	return nil
}

// List returns snapshots of all tracked runs.
func (r *Registry) List() []*AgentRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*AgentRun, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run.clone())
	}
	return out
}

// Transcript flushes pending events and returns the accumulated
// assistant-visible text for a run, including structured clarification
// questions emitted mid-run.
func (r *Registry) Transcript(runID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()

	run, ok := r.runs[runID]
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, ev := range run.Messages {
		if !ev.Visible() {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(ev.Text)
	}
	return sb.String()
}

// Clear drops all runs and buffered events. Used when switching skills or
// starting a fresh batch, so stale completed runs from a previous context
// are never mistaken for current ones.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = make(map[string]*AgentRun)
	r.pending = nil
}
