// Package agent defines the contract with the external agent execution
// service. The runtime that actually spawns a reasoning-model process is an
// opaque collaborator; forge only starts runs and consumes their event
// stream and terminal status.
package agent

import (
	"context"
	"time"
)

// Status is the lifecycle state of one external run.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusShutdown     Status = "shutdown"
)

// Valid returns true if this is a recognized run status.
func (s Status) Valid() bool {
	switch s {
	case StatusInitializing, StatusRunning, StatusCompleted, StatusError, StatusShutdown:
		return true
	}
	return false
}

// IsTerminal returns true if no further transitions are accepted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusShutdown
}

// rank orders statuses for monotonic transition checks.
func (s Status) rank() int {
	switch s {
	case StatusInitializing:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusError, StatusShutdown:
		return 2
	}
	return -1
}

// CanTransitionTo returns true if moving from s to target is monotonic.
func (s Status) CanTransitionTo(target Status) bool {
	if s.IsTerminal() {
		return false
	}
	return target.rank() > s.rank()
}

// EventKind classifies streamed run events.
type EventKind string

const (
	EventAssistantText EventKind = "assistant_text" // Assistant-visible output text
	EventQuestion      EventKind = "question"       // Structured clarification question
	EventToolUse       EventKind = "tool_use"       // Tool invocation notice
	EventSystem        EventKind = "system"         // Host bookkeeping
)

// Event is one streamed payload from a run.
type Event struct {
	RunID string    `yaml:"run_id"`
	Kind  EventKind `yaml:"kind"`
	Text  string    `yaml:"text"`
	At    time.Time `yaml:"at"`
}

// Visible reports whether the event contributes to the assistant-visible
// transcript. Clarification questions count: they are evaluatively relevant.
func (e Event) Visible() bool {
	return e.Kind == EventAssistantText || e.Kind == EventQuestion
}

// StartOptions configures one run.
type StartOptions struct {
	Prompt      string
	Model       string
	ContextDir  string   // Execution context the run operates in
	Attachments []string // Extra artifact paths supplied to the run
	Resume      bool     // Resume a prior session if the host supports it
	Extra       map[string]string
}

// Service starts external agent runs. The service reports events and the
// terminal status asynchronously to whatever sink the host wired up
// (in forge, the run registry).
type Service interface {
	Start(ctx context.Context, opts StartOptions) (runID string, err error)
}
