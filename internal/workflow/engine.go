// Package workflow owns the per-skill step state machine and its
// persistence. All transitions go through the Engine; collaborators
// (agent service, artifact store, lock coordinator) are injected.
package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/artifacts"
	"github.com/skill-forge/forge/internal/config"
	forgeerr "github.com/skill-forge/forge/internal/errors"
	"github.com/skill-forge/forge/internal/lock"
	"github.com/skill-forge/forge/internal/registry"
	"github.com/skill-forge/forge/internal/steps"
	"github.com/skill-forge/forge/internal/types"
)

// Packager performs the terminal packaging action for a skill.
type Packager interface {
	Package(ctx context.Context, skillID string) error
}

// SessionEnder ends an external execution session. Best-effort.
type SessionEnder interface {
	End(ctx context.Context, sessionID string) error
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Config    *config.Config
	Table     steps.Table
	Store     StateStore
	Artifacts artifacts.Store
	Registry  *registry.Registry
	Agents    agent.Service
	Locks     *lock.Coordinator
	Sessions  SessionEnder
	Packager  Packager
	Logger    *slog.Logger
}

// Engine is the workflow state machine for one skill.
type Engine struct {
	deps Deps

	mu       sync.Mutex
	ctx      context.Context
	run      *types.WorkflowRun
	stepRuns map[string]int // run ID -> step index, for tagged step runs
	persist  *debouncer
	closed   bool
}

// New creates an Engine. Initialize must be called before any transition.
func New(deps Deps) *Engine {
	e := &Engine{
		deps:     deps,
		stepRuns: make(map[string]int),
	}
	e.persist = newDebouncer(deps.Config.Orchestrator.PersistDebounce, e.writeState)
	deps.Registry.OnTerminal(e.handleRunTerminal)
	return e
}

// Initialize acquires the skill lock and loads or creates workflow state.
// Lock acquisition failure is fatal: the caller must not enter the workflow.
func (e *Engine) Initialize(ctx context.Context, skillID string) error {
	if err := e.deps.Locks.Acquire(skillID); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.ctx = ctx
	e.closed = false

	run := types.NewWorkflowRun(skillID, e.deps.Table.Steps())
	run.SessionID = uuid.NewString()

	prior, err := e.deps.Store.Load(skillID)
	if err != nil {
		e.deps.Locks.Release(skillID)
		return err
	}
	if prior != nil {
		for _, snap := range prior.Steps {
			step, ok := run.Step(snap.Index)
			if !ok {
				continue
			}
			step.Status = snap.Status
			// A persisted in_progress step cannot have a live run behind it
			// after a restart; reconcile it back to pending.
			if step.Status == types.StepStatusInProgress {
				step.Status = types.StepStatusPending
			}
		}
		run.Disable(prior.Disabled...)
		run.Purpose = prior.Purpose
	}

	run.CurrentStep = run.FirstIncomplete()
	if run.CurrentStep >= len(run.Steps) {
		run.CurrentStep = len(run.Steps) - 1
	}

	e.run = run
	e.deps.Logger.Info("workflow initialized",
		"skill_id", skillID, "current_step", run.CurrentStep, "resumed", prior != nil)
	e.schedulePersistLocked()
	return nil
}

// State returns a display snapshot of the workflow.
func (e *Engine) State() *SavedState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.snapshotLocked()
}

// StartStep begins executing a step. The step must be pending or error and
// no other step may be in flight.
func (e *Engine) StartStep(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startStepLocked(ctx, index)
}

func (e *Engine) startStepLocked(ctx context.Context, index int) error {
	step, ok := e.run.Step(index)
	if !ok {
		return forgeerr.StepNotFound(e.run.SkillID, index)
	}
	if active := e.run.ActiveStep(); active != nil {
		return forgeerr.WorkflowBusy(e.run.SkillID, active.Index)
	}
	if step.Status != types.StepStatusPending && step.Status != types.StepStatusError {
		return forgeerr.InvalidTransition(e.run.SkillID, index,
			string(step.Status), string(types.StepStatusInProgress))
	}

	def := e.deps.Table[index]

	if def.Kind == types.StepKindHuman {
		// Human steps are not "started"; they wait for the user.
		if err := step.Transition(types.StepStatusWaitingForUser); err != nil {
			return forgeerr.InvalidTransition(e.run.SkillID, index,
				string(step.Status), string(types.StepStatusWaitingForUser)).WithCause(err)
		}
		e.schedulePersistLocked()
		return nil
	}

	if err := step.Transition(types.StepStatusInProgress); err != nil {
		return forgeerr.InvalidTransition(e.run.SkillID, index,
			string(step.Status), string(types.StepStatusInProgress)).WithCause(err)
	}
	e.run.Running = true
	e.schedulePersistLocked()

	switch def.Kind {
	case types.StepKindAgent, types.StepKindReasoning:
		return e.startAgentStepLocked(ctx, step, def)
	case types.StepKindPackage:
		return e.runPackageStepLocked(ctx, step)
	}
	return nil
}

func (e *Engine) startAgentStepLocked(ctx context.Context, step *types.Step, def steps.Def) error {
	prompt, err := e.deps.Artifacts.Read(e.run.SkillID, def.PromptPath)
	if err != nil {
		e.failStepLocked(step, "prompt artifact missing: "+def.PromptPath, "")
		return err
	}

	opts := agent.StartOptions{
		Prompt:     string(prompt),
		Model:      e.deps.Config.Models.Step,
		ContextDir: e.deps.Artifacts.SkillDir(e.run.SkillID),
	}
	if def.Kind == types.StepKindReasoning {
		opts.Extra = map[string]string{"reasoning": "high"}
	}

	runID, err := e.deps.Agents.Start(ctx, opts)
	if err != nil {
		e.failStepLocked(step, "agent start failed: "+err.Error(), "")
		return err
	}

	e.deps.Registry.Register(runID, opts.Model, registry.TagStep)
	e.stepRuns[runID] = step.Index
	e.deps.Logger.Info("step run started",
		"skill_id", e.run.SkillID, "step", step.Index, "run_id", runID)

	// A short-lived run can reach a terminal status before Register tags
	// it; the terminal watcher then saw an untagged snapshot and dropped
	// it, and no further notification will come. Reconcile that case here.
	if run := e.deps.Registry.Get(runID); run != nil && run.Status.IsTerminal() {
		e.reconcileRunLocked(run)
	}
	return nil
}

func (e *Engine) runPackageStepLocked(ctx context.Context, step *types.Step) error {
	// Packaging is a synchronous external call; completion still goes
	// through output verification like every other step.
	if err := e.deps.Packager.Package(ctx, e.run.SkillID); err != nil {
		e.failStepLocked(step, "packaging failed: "+err.Error(), "")
		return err
	}
	return e.completeStepLocked(step.Index, "")
}

// CompleteStep marks a step completed after verifying every expected output
// artifact exists. Verification failure converts the completion into an
// error status; it is never silently treated as success.
func (e *Engine) CompleteStep(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completeStepLocked(index, "")
}

func (e *Engine) completeStepLocked(index int, runID string) error {
	step, ok := e.run.Step(index)
	if !ok {
		return forgeerr.StepNotFound(e.run.SkillID, index)
	}
	if step.Status != types.StepStatusInProgress && step.Status != types.StepStatusWaitingForUser {
		return forgeerr.InvalidTransition(e.run.SkillID, index,
			string(step.Status), string(types.StepStatusCompleted))
	}

	var missing []string
	for _, rel := range step.OutputPaths {
		if !e.deps.Artifacts.Exists(e.run.SkillID, rel) {
			missing = append(missing, rel)
		}
	}
	if len(missing) > 0 {
		verr := forgeerr.VerificationFailed(e.run.SkillID, index, missing)
		e.failStepLocked(step, verr.Message, runID)
		return verr
	}

	if err := step.Transition(types.StepStatusCompleted); err != nil {
		return forgeerr.InvalidTransition(e.run.SkillID, index,
			string(step.Status), string(types.StepStatusCompleted)).WithCause(err)
	}
	e.run.Running = false
	e.deps.Logger.Info("step completed", "skill_id", e.run.SkillID, "step", index)
	e.schedulePersistLocked()
	if rel := e.deps.Table[index].ScopePath; rel != "" {
		e.applyScopeLocked(rel)
	}
	if index == e.run.CurrentStep {
		return e.advanceLocked()
	}
	return nil
}

// scopeDetermination is the optional artifact a scope-check step writes
// when parts of the pipeline are out of scope for this skill.
type scopeDetermination struct {
	OutOfScopeSteps []int  `yaml:"out_of_scope_steps"`
	Reason          string `yaml:"reason,omitempty"`
}

// applyScopeLocked reads the step's scope determination, if one was
// written, and disables the steps it rules out.
func (e *Engine) applyScopeLocked(rel string) {
	data, err := e.deps.Artifacts.Read(e.run.SkillID, rel)
	if err != nil {
		return // No determination written; everything stays in scope
	}
	var det scopeDetermination
	if err := yaml.Unmarshal(data, &det); err != nil {
		e.deps.Logger.Warn("scope determination does not parse",
			"skill_id", e.run.SkillID, "path", rel, "error", err)
		return
	}
	if len(det.OutOfScopeSteps) == 0 {
		return
	}
	e.run.Disable(det.OutOfScopeSteps...)
	e.deps.Logger.Info("scope determination disabled steps",
		"skill_id", e.run.SkillID, "steps", det.OutOfScopeSteps, "reason", det.Reason)
	e.schedulePersistLocked()
}

func (e *Engine) failStepLocked(step *types.Step, msg, runID string) {
	if err := step.FailWith(msg, runID); err != nil {
		e.deps.Logger.Error("cannot record step failure",
			"skill_id", e.run.SkillID, "step", step.Index, "error", err)
		return
	}
	e.run.Running = false
	e.deps.Logger.Warn("step failed",
		"skill_id", e.run.SkillID, "step", step.Index, "reason", msg)
	e.schedulePersistLocked()
}

// Advance moves the current-step pointer past the completed current step.
func (e *Engine) Advance(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advanceLocked()
}

func (e *Engine) advanceLocked() error {
	next := e.run.CurrentStep + 1
	if next >= len(e.run.Steps) {
		e.deps.Logger.Info("workflow done", "skill_id", e.run.SkillID)
		e.schedulePersistLocked()
		return nil
	}
	if e.run.IsDisabled(next) {
		// A scope determination ruled the remaining steps out; halting
		// here is not an error.
		e.deps.Logger.Info("advance halted at disabled step",
			"skill_id", e.run.SkillID, "step", next)
		e.schedulePersistLocked()
		return nil
	}

	e.run.CurrentStep = next
	e.schedulePersistLocked()

	step := e.run.Steps[next]
	if step.Status != types.StepStatusPending {
		return nil
	}

	switch e.deps.Table[next].Kind {
	case types.StepKindHuman:
		if err := step.Transition(types.StepStatusWaitingForUser); err != nil {
			return err
		}
		e.schedulePersistLocked()
	case types.StepKindAgent, types.StepKindReasoning:
		return e.startStepLocked(e.ctx, next)
	case types.StepKindPackage:
		// Packaging is destructive-ish and terminal; the user triggers it.
	}
	return nil
}

// JumpTo marks steps between the current pointer and target completed and
// enters target. Used by the gate protocol's skip paths.
func (e *Engine) JumpTo(ctx context.Context, target int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.run.Step(target); !ok {
		return forgeerr.StepNotFound(e.run.SkillID, target)
	}
	for i := e.run.CurrentStep; i < target; i++ {
		step := e.run.Steps[i]
		if step.Status == types.StepStatusCompleted {
			continue
		}
		if err := step.Transition(types.StepStatusCompleted); err != nil {
			return forgeerr.InvalidTransition(e.run.SkillID, i,
				string(step.Status), string(types.StepStatusCompleted)).WithCause(err)
		}
	}
	e.run.CurrentStep = target - 1
	return e.advanceLocked()
}

// ResetStep clears a step's on-disk artifacts and reverts it and every
// later step to pending. Destructive; callers confirm with the user first
// when partial artifacts exist.
func (e *Engine) ResetStep(ctx context.Context, index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.run.Step(index); !ok {
		return forgeerr.StepNotFound(e.run.SkillID, index)
	}

	if err := e.deps.Artifacts.ResetStep(e.run.SkillID, e.deps.Table[index].OutputPaths); err != nil {
		return err
	}

	for i := index; i < len(e.run.Steps); i++ {
		step := e.run.Steps[i]
		if step.Status == types.StepStatusPending {
			continue
		}
		if err := step.Transition(types.StepStatusPending); err != nil {
			return forgeerr.InvalidTransition(e.run.SkillID, i,
				string(step.Status), string(types.StepStatusPending)).WithCause(err)
		}
	}

	// Drop run attributions for the reset range so a late terminal event
	// cannot complete a step that no longer owns it.
	for runID, idx := range e.stepRuns {
		if idx >= index {
			delete(e.stepRuns, runID)
		}
	}

	e.run.CurrentStep = index
	e.run.Running = false
	e.deps.Logger.Info("steps reset", "skill_id", e.run.SkillID, "from", index)
	e.schedulePersistLocked()
	return nil
}

// SetPurpose records the user's one-line statement of what the skill is for.
func (e *Engine) SetPurpose(purpose string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.Purpose = purpose
	e.schedulePersistLocked()
}

// MarkDisabled records steps a scope determination ruled out. Advance will
// never cross into them.
func (e *Engine) MarkDisabled(stepIDs ...int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run.Disable(stepIDs...)
	e.deps.Logger.Info("steps disabled", "skill_id", e.run.SkillID, "steps", stepIDs)
	e.schedulePersistLocked()
}

// handleRunTerminal reconciles a terminal run status with workflow state.
// It re-reads current state rather than trusting anything captured when the
// run was started: the active step can change while a run is in flight.
func (e *Engine) handleRunTerminal(run *registry.AgentRun) {
	if run.Tag != registry.TagStep {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.reconcileRunLocked(run)
}

func (e *Engine) reconcileRunLocked(run *registry.AgentRun) {
	if e.run == nil || e.closed {
		return
	}
	index, ok := e.stepRuns[run.ID]
	if !ok {
		return // Step was reset or run belongs to a previous session
	}
	delete(e.stepRuns, run.ID)

	step, ok := e.run.Step(index)
	if !ok || step.Status != types.StepStatusInProgress {
		return
	}

	switch run.Status {
	case agent.StatusCompleted:
		if err := e.completeStepLocked(index, run.ID); err != nil {
			e.deps.Logger.Warn("run completion rejected",
				"skill_id", e.run.SkillID, "step", index, "run_id", run.ID, "error", err)
		}
	case agent.StatusError:
		e.failStepLocked(step, forgeerr.RunFailed(run.ID).Message, run.ID)
	case agent.StatusShutdown:
		e.failStepLocked(step, forgeerr.RunShutdown(run.ID).Message, run.ID)
	}
}

// Close tears down the session: the in-progress step reverts to pending so
// persisted state never claims false progress, tracked runs are cleared,
// the execution session is ended, and the skill lock is released. Safe to
// invoke from multiple guard paths.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.run == nil {
		e.mu.Unlock()
		return nil
	}
	skillID := e.run.SkillID
	sessionID := e.run.SessionID
	e.closed = true

	if active := e.run.ActiveStep(); active != nil {
		if err := active.Transition(types.StepStatusPending); err != nil {
			e.deps.Logger.Error("cannot revert active step",
				"skill_id", skillID, "step", active.Index, "error", err)
		}
		e.run.Running = false
	}
	state := e.snapshotLocked()
	e.mu.Unlock()

	e.persist.Stop()
	if err := e.deps.Store.Save(state); err != nil {
		e.deps.Logger.Error("final state write failed", "skill_id", skillID, "error", err)
	}

	e.deps.Registry.Clear()

	if sessionID != "" && e.deps.Sessions != nil {
		if err := e.deps.Sessions.End(ctx, sessionID); err != nil {
			e.deps.Logger.Warn("ending session failed",
				"skill_id", skillID, "session_id", sessionID, "error", err)
		}
	}

	// The lock is released last and unconditionally: an orphaned lock
	// blocks all future work on the skill.
	return e.deps.Locks.Release(skillID)
}

// --- persistence ---

func (e *Engine) snapshotLocked() *SavedState {
	snaps := make([]StepSnapshot, len(e.run.Steps))
	for i, s := range e.run.Steps {
		snaps[i] = StepSnapshot{Index: i, Status: s.Status}
	}
	var disabled []int
	for i := range e.run.Steps {
		if e.run.IsDisabled(i) {
			disabled = append(disabled, i)
		}
	}
	return &SavedState{
		SkillID:       e.run.SkillID,
		CurrentStep:   e.run.CurrentStep,
		OverallStatus: e.run.OverallStatus(),
		Steps:         snaps,
		Disabled:      disabled,
		Purpose:       e.run.Purpose,
	}
}

func (e *Engine) schedulePersistLocked() {
	e.persist.Trigger()
}

// writeState is the debounce target: it snapshots under the lock and
// writes outside it.
func (e *Engine) writeState() {
	e.mu.Lock()
	if e.run == nil {
		e.mu.Unlock()
		return
	}
	state := e.snapshotLocked()
	e.mu.Unlock()

	if err := e.deps.Store.Save(state); err != nil {
		e.deps.Logger.Error("state write failed", "skill_id", state.SkillID, "error", err)
	}
}
