package types

import (
	"fmt"
	"time"
)

// StepKind determines who performs a step and how it completes.
type StepKind string

const (
	// StepKindAgent runs an external agent process against a prompt artifact.
	StepKindAgent StepKind = "agent"
	// StepKindHuman waits for the user to fill in or review an artifact.
	StepKindHuman StepKind = "human"
	// StepKindReasoning runs an external agent with an extended-reasoning model.
	StepKindReasoning StepKind = "reasoning"
	// StepKindPackage performs the terminal packaging action synchronously.
	StepKindPackage StepKind = "package"
)

// Valid returns true if this is a recognized step kind.
func (k StepKind) Valid() bool {
	switch k {
	case StepKindAgent, StepKindHuman, StepKindReasoning, StepKindPackage:
		return true
	}
	return false
}

// IsAgentBacked returns true if the step is performed by an external run.
func (k StepKind) IsAgentBacked() bool {
	return k == StepKindAgent || k == StepKindReasoning
}

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending        StepStatus = "pending"          // Not yet started
	StepStatusWaitingForUser StepStatus = "waiting_for_user" // Human step awaiting input
	StepStatusInProgress     StepStatus = "in_progress"      // Currently executing
	StepStatusCompleted      StepStatus = "completed"        // Finished, outputs verified
	StepStatusError          StepStatus = "error"            // Run failed or outputs missing
)

// Valid returns true if this is a recognized status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusWaitingForUser, StepStatusInProgress,
		StepStatusCompleted, StepStatusError:
		return true
	}
	return false
}

// IsTerminal returns true if this status is final for a single run of the step.
// Error is retryable, so only completed is terminal for advancement purposes.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	switch s {
	case StepStatusPending:
		return target == StepStatusInProgress || target == StepStatusWaitingForUser ||
			target == StepStatusCompleted // Human skip, gate skip-forward
	case StepStatusWaitingForUser:
		return target == StepStatusCompleted || target == StepStatusPending
	case StepStatusInProgress:
		return target == StepStatusCompleted || target == StepStatusError ||
			target == StepStatusPending // Reset on cancel/close
	case StepStatusError:
		return target == StepStatusPending || target == StepStatusInProgress // Reset or retry
	case StepStatusCompleted:
		return target == StepStatusPending // Reset of a later step cascades back
	}
	return false
}

// StepError captures failure information for a step.
type StepError struct {
	Message string `yaml:"message"`
	RunID   string `yaml:"run_id,omitempty"`
}

// Step is one stage of a skill's workflow.
type Step struct {
	Index  int        `yaml:"index"`
	Kind   StepKind   `yaml:"kind"`
	Name   string     `yaml:"name"`
	Status StepStatus `yaml:"status"`

	// OutputPaths are artifact paths, relative to the skill dir, that must
	// exist before the step may be marked completed.
	OutputPaths []string `yaml:"output_paths,omitempty"`

	StartedAt *time.Time `yaml:"started_at,omitempty"`
	DoneAt    *time.Time `yaml:"done_at,omitempty"`
	Error     *StepError `yaml:"error,omitempty"`
}

// Transition moves the step to target, enforcing the transition table.
func (s *Step) Transition(target StepStatus) error {
	if !s.Status.CanTransitionTo(target) {
		return fmt.Errorf("cannot transition step %d from %s to %s", s.Index, s.Status, target)
	}
	now := time.Now()
	switch target {
	case StepStatusInProgress:
		s.StartedAt = &now
		s.DoneAt = nil
		s.Error = nil
	case StepStatusCompleted:
		s.DoneAt = &now
		s.Error = nil
	case StepStatusPending:
		s.StartedAt = nil
		s.DoneAt = nil
		s.Error = nil
	}
	s.Status = target
	return nil
}

// FailWith moves the step to error with failure context.
func (s *Step) FailWith(msg, runID string) error {
	if !s.Status.CanTransitionTo(StepStatusError) {
		return fmt.Errorf("cannot fail step %d in status %s", s.Index, s.Status)
	}
	now := time.Now()
	s.Status = StepStatusError
	s.DoneAt = &now
	s.Error = &StepError{Message: msg, RunID: runID}
	return nil
}
