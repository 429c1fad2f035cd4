package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/artifacts"
	"github.com/skill-forge/forge/internal/audit"
	"github.com/skill-forge/forge/internal/registry"
)

// Workflow is the slice of the state machine the gate drives.
type Workflow interface {
	CompleteStep(index int) error
	JumpTo(ctx context.Context, target int) error
}

// ChecklistItem is one entry of the structured Q&A artifact.
type ChecklistItem struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Answer   string `yaml:"answer"`
}

// Outcome is what one gate invocation produced.
type Outcome struct {
	Verdict    Verdict
	Evaluation *Evaluation // nil when the gate failed open
	FailedOpen bool
	RunID      string
}

// Evaluator runs the gate protocol: one fast-model run over the Q&A
// artifact, parsed into an Evaluation. Evaluator infrastructure failures
// and malformed output fail open as sufficient: the gate is an
// optimization, not a correctness gate, and must never block the user.
type Evaluator struct {
	agents    agent.Service
	registry  *registry.Registry
	artifacts artifacts.Store
	audit     *audit.Log
	logger    *slog.Logger
	model     string
	poll      time.Duration
}

// NewEvaluator creates a gate evaluator.
func NewEvaluator(agents agent.Service, reg *registry.Registry, store artifacts.Store,
	auditLog *audit.Log, model string, poll time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		agents:    agents,
		registry:  reg,
		artifacts: store,
		audit:     auditLog,
		logger:    logger,
		model:     model,
		poll:      poll,
	}
}

// Evaluate runs the gate over the Q&A artifact and returns its verdict.
// The returned error is never fatal to the workflow; it explains why the
// gate failed open, if it did.
func (g *Evaluator) Evaluate(ctx context.Context, skillID, qaPath string) *Outcome {
	qa, err := g.artifacts.Read(skillID, qaPath)
	if err != nil {
		return g.failOpen("reading Q&A artifact", err)
	}

	runID, err := g.agents.Start(ctx, agent.StartOptions{
		Prompt:     evaluationPrompt(string(qa)),
		Model:      g.model,
		ContextDir: g.artifacts.SkillDir(skillID),
	})
	if err != nil {
		return g.failOpen("starting gate run", err)
	}
	// Tagged so the generic step-completion watcher ignores this run.
	g.registry.Register(runID, g.model, registry.TagGate)

	status, err := g.awaitTerminal(ctx, runID)
	if err != nil {
		return g.failOpen("waiting for gate run", err)
	}
	if status != agent.StatusCompleted {
		return g.failOpen("gate run ended "+string(status), nil)
	}

	// Flush before reading the transcript so late-buffered events count.
	text := g.registry.Transcript(runID)
	eval, err := ParseEvaluation([]byte(text))
	if err != nil {
		return g.failOpen("parsing gate output", err)
	}

	return &Outcome{Verdict: eval.Verdict, Evaluation: eval, RunID: runID}
}

func (g *Evaluator) failOpen(stage string, err error) *Outcome {
	g.logger.Warn("gate failed open", "stage", stage, "error", err)
	return &Outcome{Verdict: VerdictSufficient, FailedOpen: true}
}

func (g *Evaluator) awaitTerminal(ctx context.Context, runID string) (agent.Status, error) {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			run := g.registry.Get(runID)
			if run == nil {
				return "", fmt.Errorf("gate run %s disappeared", runID)
			}
			if run.Status.IsTerminal() {
				return run.Status, nil
			}
		}
	}
}

// Apply records the decision and then executes it against the workflow.
// The audit record is written before the transition so a crash mid-apply
// still leaves the decision visible.
func (g *Evaluator) Apply(ctx context.Context, wf Workflow, outcome *Outcome,
	skillID, qaPath string, reviewStep, decisionStep int, decision Decision) error {

	if !outcome.Verdict.Allows(decision) {
		return fmt.Errorf("decision %s not available for verdict %s", decision, outcome.Verdict)
	}
	if err := g.audit.Append(skillID, string(outcome.Verdict), string(decision)); err != nil {
		return fmt.Errorf("recording gate decision: %w", err)
	}

	switch decision {
	case DecisionSkip:
		return wf.JumpTo(ctx, decisionStep)
	case DecisionResearchAnyway:
		return wf.CompleteStep(reviewStep)
	case DecisionAutofillAndResearch:
		if err := g.Autofill(skillID, qaPath, outcome.Evaluation); err != nil {
			return err
		}
		return wf.CompleteStep(reviewStep)
	case DecisionAutofillAndSkip:
		if err := g.Autofill(skillID, qaPath, outcome.Evaluation); err != nil {
			return err
		}
		return wf.JumpTo(ctx, decisionStep)
	case DecisionManual:
		return nil // Review step stays as-is
	}
	return fmt.Errorf("unknown decision %s", decision)
}

// Autofill rewrites the checklist, marking every empty or vague answer as
// delegated to the research step. The research agent treats the marker as
// "infer this yourself".
func (g *Evaluator) Autofill(skillID, qaPath string, eval *Evaluation) error {
	if eval == nil {
		return nil // Failed-open gates have nothing to fill
	}

	data, err := g.artifacts.Read(skillID, qaPath)
	if err != nil {
		return err
	}
	var items []ChecklistItem
	if err := yaml.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("parsing checklist: %w", err)
	}

	unresolved := make(map[string]bool)
	for _, id := range eval.UnresolvedQuestions() {
		unresolved[id] = true
	}

	filled := 0
	for i := range items {
		if !unresolved[items[i].ID] {
			continue
		}
		items[i].Answer = autofillMarker(items[i].Answer)
		filled++
	}

	out, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling checklist: %w", err)
	}
	if err := g.artifacts.Write(skillID, qaPath, out); err != nil {
		return err
	}
	g.logger.Info("checklist autofilled", "skill_id", skillID, "filled", filled)
	return nil
}

func autofillMarker(prior string) string {
	prior = strings.TrimSpace(prior)
	if prior == "" {
		return "(autofill) infer from exploration context"
	}
	return prior + " (autofill: refine during research)"
}

func evaluationPrompt(qa string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate whether the following answered checklist is sufficient ")
	sb.WriteString("to proceed. Respond with YAML: verdict (sufficient|mixed|insufficient), ")
	sb.WriteString("answered_count, empty_count, vague_count, total_count, and per_question ")
	sb.WriteString("entries of {question_id, verdict: clear|needs_refinement|not_answered|vague}.\n\n")
	sb.WriteString(qa)
	return sb.String()
}
