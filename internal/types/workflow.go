package types

import (
	"fmt"
	"sort"
)

// WorkflowStatus is the derived overall state of a skill's workflow.
// It is never stored independently of the steps it is derived from.
type WorkflowStatus string

const (
	WorkflowStatusNotStarted WorkflowStatus = "not_started" // All steps pending
	WorkflowStatusInProgress WorkflowStatus = "in_progress" // Some work done or running
	WorkflowStatusError      WorkflowStatus = "error"       // Current step errored
	WorkflowStatusDone       WorkflowStatus = "done"        // All steps completed
)

// WorkflowRun is the per-skill aggregate the state machine operates on.
type WorkflowRun struct {
	SkillID     string       `yaml:"skill_id"`
	Purpose     string       `yaml:"purpose,omitempty"`
	CurrentStep int          `yaml:"current_step"`
	Steps       []*Step      `yaml:"steps"`
	Running     bool         `yaml:"-"` // A step's external work is in flight
	Disabled    map[int]bool `yaml:"disabled_steps,omitempty"`
	SessionID   string       `yaml:"session_id,omitempty"`
}

// NewWorkflowRun creates a workflow with all steps pending.
func NewWorkflowRun(skillID string, steps []*Step) *WorkflowRun {
	return &WorkflowRun{
		SkillID:  skillID,
		Steps:    steps,
		Disabled: make(map[int]bool),
	}
}

// Step returns the step at index i.
func (w *WorkflowRun) Step(i int) (*Step, bool) {
	if i < 0 || i >= len(w.Steps) {
		return nil, false
	}
	return w.Steps[i], true
}

// Current returns the step at the current pointer.
func (w *WorkflowRun) Current() *Step {
	s, _ := w.Step(w.CurrentStep)
	return s
}

// ActiveStep returns the step currently in progress, or nil.
func (w *WorkflowRun) ActiveStep() *Step {
	for _, s := range w.Steps {
		if s.Status == StepStatusInProgress {
			return s
		}
	}
	return nil
}

// CheckSingleActive verifies the at-most-one-in-progress invariant.
func (w *WorkflowRun) CheckSingleActive() error {
	var active []int
	for _, s := range w.Steps {
		if s.Status == StepStatusInProgress {
			active = append(active, s.Index)
		}
	}
	if len(active) > 1 {
		sort.Ints(active)
		return fmt.Errorf("multiple steps in progress: %v", active)
	}
	return nil
}

// FirstIncomplete returns the index of the first step that is not completed,
// or len(Steps) if every step is completed.
func (w *WorkflowRun) FirstIncomplete() int {
	for _, s := range w.Steps {
		if s.Status != StepStatusCompleted {
			return s.Index
		}
	}
	return len(w.Steps)
}

// AllDone returns true if every step is completed.
func (w *WorkflowRun) AllDone() bool {
	return w.FirstIncomplete() == len(w.Steps)
}

// IsDisabled reports whether a step was disabled by a scope determination.
func (w *WorkflowRun) IsDisabled(i int) bool {
	return w.Disabled[i]
}

// Disable marks steps as off-limits for auto-advancement.
func (w *WorkflowRun) Disable(steps ...int) {
	if w.Disabled == nil {
		w.Disabled = make(map[int]bool)
	}
	for _, i := range steps {
		w.Disabled[i] = true
	}
}

// OverallStatus derives the workflow status from its steps.
func (w *WorkflowRun) OverallStatus() WorkflowStatus {
	if w.AllDone() {
		return WorkflowStatusDone
	}
	if cur := w.Current(); cur != nil && cur.Status == StepStatusError {
		return WorkflowStatusError
	}
	for _, s := range w.Steps {
		if s.Status != StepStatusPending {
			return WorkflowStatusInProgress
		}
	}
	return WorkflowStatusNotStarted
}
