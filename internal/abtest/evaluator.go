// Package abtest runs the A/B skill evaluation: two agent executions of
// the same task, one with the skill available and one without, diffed by a
// third judge run whose output parses into a verdict model.
package abtest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skill-forge/forge/internal/agent"
	forgeerr "github.com/skill-forge/forge/internal/errors"
	"github.com/skill-forge/forge/internal/registry"
)

// Phase is the evaluator's explicit state. Phase is never inferred from
// field presence.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"    // Baseline + treatment in flight
	PhaseEvaluating Phase = "evaluating" // Judge run in flight
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// ExecContext is one isolated execution context for a probe run.
type ExecContext struct {
	Dir     string
	Cleanup func() error
}

// ContextManager prepares isolated execution contexts: one with the target
// skill installed, one without.
type ContextManager interface {
	Prepare(ctx context.Context, skillID string, withSkill bool) (*ExecContext, error)
}

// RunOutcome captures one probe run's terminal state.
type RunOutcome struct {
	RunID      string
	Status     agent.Status
	Transcript string
}

// Failed reports whether the run terminated unsuccessfully.
func (o RunOutcome) Failed() bool {
	return o.Status != agent.StatusCompleted
}

// Result is the completed evaluation.
type Result struct {
	Baseline        RunOutcome
	Treatment       RunOutcome
	JudgeRunID      string
	Lines           []Line
	Recommendations string
}

// Evaluator orchestrates the A/B pipeline.
type Evaluator struct {
	agents     agent.Service
	registry   *registry.Registry
	contexts   ContextManager
	logger     *slog.Logger
	probeModel string
	judgeModel string
	poll       time.Duration

	mu    sync.Mutex
	phase Phase
}

// NewEvaluator creates an idle evaluator.
func NewEvaluator(agents agent.Service, reg *registry.Registry, contexts ContextManager,
	probeModel, judgeModel string, poll time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		agents:     agents,
		registry:   reg,
		contexts:   contexts,
		logger:     logger,
		probeModel: probeModel,
		judgeModel: judgeModel,
		poll:       poll,
		phase:      PhaseIdle,
	}
}

// Phase returns the current phase.
func (e *Evaluator) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *Evaluator) setPhase(p Phase) {
	e.mu.Lock()
	e.phase = p
	e.mu.Unlock()
}

// Run executes the full evaluation. A single failed probe does not abort
// the comparison; only a double failure does. Execution contexts are
// cleaned up on every path.
func (e *Evaluator) Run(ctx context.Context, skillID, taskPrompt string) (*Result, error) {
	e.mu.Lock()
	if e.phase == PhaseRunning || e.phase == PhaseEvaluating {
		e.mu.Unlock()
		return nil, fmt.Errorf("evaluation already in phase %s", e.phase)
	}
	e.phase = PhaseRunning
	e.mu.Unlock()

	baseCtx, err := e.contexts.Prepare(ctx, skillID, false)
	if err != nil {
		e.setPhase(PhaseError)
		return nil, fmt.Errorf("preparing baseline context: %w", err)
	}
	defer e.cleanup("baseline", baseCtx)

	treatCtx, err := e.contexts.Prepare(ctx, skillID, true)
	if err != nil {
		e.setPhase(PhaseError)
		return nil, fmt.Errorf("preparing treatment context: %w", err)
	}
	defer e.cleanup("treatment", treatCtx)

	// Start both probes concurrently against the identical prompt.
	var baseID, treatID string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		baseID, err = e.startProbe(gctx, taskPrompt, baseCtx.Dir)
		return err
	})
	g.Go(func() error {
		var err error
		treatID, err = e.startProbe(gctx, taskPrompt, treatCtx.Dir)
		return err
	})
	if err := g.Wait(); err != nil {
		e.setPhase(PhaseError)
		return nil, fmt.Errorf("starting probe runs: %w", err)
	}

	// Wait for both to reach a terminal status; arrival order is not
	// assumed, only the explicit both-terminal condition matters.
	statuses, err := e.awaitTerminal(ctx, baseID, treatID)
	if err != nil {
		e.setPhase(PhaseError)
		return nil, err
	}

	result := &Result{
		Baseline:  RunOutcome{RunID: baseID, Status: statuses[baseID]},
		Treatment: RunOutcome{RunID: treatID, Status: statuses[treatID]},
	}

	if result.Baseline.Failed() && result.Treatment.Failed() {
		e.setPhase(PhaseError)
		return result, forgeerr.EvaluationAborted(
			string(result.Baseline.Status), string(result.Treatment.Status))
	}

	// Transcript flushes buffered events, so mid-run clarification
	// questions are included.
	result.Baseline.Transcript = e.registry.Transcript(baseID)
	result.Treatment.Transcript = e.registry.Transcript(treatID)

	e.setPhase(PhaseEvaluating)

	judgeID, err := e.agents.Start(ctx, agent.StartOptions{
		Prompt: judgePrompt(taskPrompt, result.Baseline.Transcript, result.Treatment.Transcript),
		Model:  e.judgeModel,
	})
	if err != nil {
		e.setPhase(PhaseError)
		return result, fmt.Errorf("starting judge run: %w", err)
	}
	e.registry.Register(judgeID, e.judgeModel, registry.TagJudge)
	result.JudgeRunID = judgeID

	judgeStatuses, err := e.awaitTerminal(ctx, judgeID)
	if err != nil {
		e.setPhase(PhaseError)
		return result, err
	}
	if judgeStatuses[judgeID] != agent.StatusCompleted {
		e.setPhase(PhaseError)
		return result, forgeerr.RunFailed(judgeID)
	}

	result.Lines, result.Recommendations = ParseJudgeOutput(e.registry.Transcript(judgeID))
	e.setPhase(PhaseDone)
	e.logger.Info("evaluation done",
		"skill_id", skillID, "verdict_lines", len(result.Lines))
	return result, nil
}

func (e *Evaluator) startProbe(ctx context.Context, prompt, dir string) (string, error) {
	runID, err := e.agents.Start(ctx, agent.StartOptions{
		Prompt:     prompt,
		Model:      e.probeModel,
		ContextDir: dir,
	})
	if err != nil {
		return "", err
	}
	e.registry.Register(runID, e.probeModel, registry.TagProbe)
	return runID, nil
}

// awaitTerminal polls until every listed run is terminal.
func (e *Evaluator) awaitTerminal(ctx context.Context, runIDs ...string) (map[string]agent.Status, error) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	statuses := make(map[string]agent.Status, len(runIDs))
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			done := true
			for _, id := range runIDs {
				run := e.registry.Get(id)
				if run == nil {
					return nil, forgeerr.RunNotFound(id)
				}
				if !run.Status.IsTerminal() {
					done = false
					continue
				}
				statuses[id] = run.Status
			}
			if done {
				return statuses, nil
			}
		}
	}
}

func (e *Evaluator) cleanup(label string, ec *ExecContext) {
	if ec == nil || ec.Cleanup == nil {
		return
	}
	if err := ec.Cleanup(); err != nil {
		e.logger.Warn("context cleanup failed", "context", label, "error", err)
	}
}

func judgePrompt(task, baseline, treatment string) string {
	var sb strings.Builder
	sb.WriteString("Compare two attempts at the same task. For each dimension emit a ")
	sb.WriteString("bullet starting with ↑ if attempt B is better, ↓ if attempt A is ")
	sb.WriteString("better, or → if there is no meaningful difference, followed by a ")
	sb.WriteString("short explanation. End with an optional \"## Recommendations\" ")
	sb.WriteString("section of concrete improvements.\n\n")
	sb.WriteString("## Task\n")
	sb.WriteString(task)
	sb.WriteString("\n\n## Attempt A (baseline)\n")
	sb.WriteString(baseline)
	sb.WriteString("\n\n## Attempt B (treatment)\n")
	sb.WriteString(treatment)
	return sb.String()
}
