package gate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/artifacts"
	"github.com/skill-forge/forge/internal/audit"
	"github.com/skill-forge/forge/internal/logging"
	"github.com/skill-forge/forge/internal/registry"
	"github.com/skill-forge/forge/internal/testutil"
)

type fakeWorkflow struct {
	completed   []int
	jumped      []int
	completeErr error
}

func (w *fakeWorkflow) CompleteStep(index int) error {
	if w.completeErr != nil {
		return w.completeErr
	}
	w.completed = append(w.completed, index)
	return nil
}

func (w *fakeWorkflow) JumpTo(ctx context.Context, target int) error {
	w.jumped = append(w.jumped, target)
	return nil
}

type gateFixture struct {
	ev       *Evaluator
	agents   *testutil.FakeAgent
	store    *artifacts.FSStore
	auditLog *audit.Log
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	dir := t.TempDir()
	logger := logging.NewForTest()
	reg := registry.New(logger)
	agents := &testutil.FakeAgent{Reg: reg}
	store := artifacts.NewFSStore(filepath.Join(dir, "skills"))
	auditLog := audit.NewLog(filepath.Join(dir, "decisions.jsonl"))

	return &gateFixture{
		ev:       NewEvaluator(agents, reg, store, auditLog, "fast-model", 2*time.Millisecond, logger),
		agents:   agents,
		store:    store,
		auditLog: auditLog,
	}
}

func awaitRun(t *testing.T, agents *testutil.FakeAgent) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if id := agents.LastRunID(); id != "" {
			return id
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("agent run never started")
	return ""
}

func (f *gateFixture) evaluate(t *testing.T, emit string, status agent.Status) *Outcome {
	t.Helper()
	done := make(chan *Outcome, 1)
	go func() {
		done <- f.ev.Evaluate(context.Background(), "skill-a", "checklist.yaml")
	}()

	runID := awaitRun(t, f.agents)
	if emit != "" {
		f.agents.Emit(runID, emit)
	}
	f.agents.Finish(runID, status)

	select {
	case outcome := <-done:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("Evaluate did not return")
		return nil
	}
}

func TestEvaluateParsesVerdict(t *testing.T) {
	f := newGateFixture(t)
	require.NoError(t, f.store.Write("skill-a", "checklist.yaml", []byte("- {id: q1, question: scope?, answer: narrow}")))

	outcome := f.evaluate(t, mixedEvaluation, agent.StatusCompleted)

	assert.False(t, outcome.FailedOpen)
	assert.Equal(t, VerdictMixed, outcome.Verdict)
	require.NotNil(t, outcome.Evaluation)
	assert.Equal(t, 3, outcome.Evaluation.UnresolvedCount())
	assert.NotEmpty(t, outcome.RunID)

	starts := f.agents.Starts()
	require.Len(t, starts, 1)
	assert.Equal(t, "fast-model", starts[0].Model)
	assert.Contains(t, starts[0].Prompt, "q1")
	assert.Equal(t, f.store.SkillDir("skill-a"), starts[0].ContextDir)
}

func TestEvaluateFailsOpenOnMalformedOutput(t *testing.T) {
	f := newGateFixture(t)
	require.NoError(t, f.store.Write("skill-a", "checklist.yaml", []byte("- {id: q1}")))

	outcome := f.evaluate(t, "I could not evaluate this.", agent.StatusCompleted)

	assert.True(t, outcome.FailedOpen)
	assert.Equal(t, VerdictSufficient, outcome.Verdict)
	assert.Nil(t, outcome.Evaluation)
}

func TestEvaluateFailsOpenWhenRunFails(t *testing.T) {
	f := newGateFixture(t)
	require.NoError(t, f.store.Write("skill-a", "checklist.yaml", []byte("- {id: q1}")))

	outcome := f.evaluate(t, "", agent.StatusError)

	assert.True(t, outcome.FailedOpen)
	assert.Equal(t, VerdictSufficient, outcome.Verdict)
}

func TestEvaluateFailsOpenWhenChecklistMissing(t *testing.T) {
	f := newGateFixture(t)

	outcome := f.ev.Evaluate(context.Background(), "skill-a", "checklist.yaml")

	assert.True(t, outcome.FailedOpen)
	assert.Empty(t, f.agents.RunIDs(), "no run should start without a checklist")
}

func TestApplySkipJumpsForward(t *testing.T) {
	f := newGateFixture(t)
	wf := &fakeWorkflow{}
	outcome := &Outcome{Verdict: VerdictSufficient}

	err := f.ev.Apply(context.Background(), wf, outcome, "skill-a", "checklist.yaml", 1, 3, DecisionSkip)
	require.NoError(t, err)

	assert.Equal(t, []int{3}, wf.jumped)
	assert.Empty(t, wf.completed)

	records, err := f.auditLog.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "skip", records[0].Decision)
	assert.Equal(t, "sufficient", records[0].Verdict)
}

func TestApplyRejectsDisallowedDecision(t *testing.T) {
	f := newGateFixture(t)
	wf := &fakeWorkflow{}
	outcome := &Outcome{Verdict: VerdictMixed}

	err := f.ev.Apply(context.Background(), wf, outcome, "skill-a", "checklist.yaml", 1, 3, DecisionSkip)
	require.Error(t, err)

	assert.Empty(t, wf.jumped)
	assert.Empty(t, wf.completed)
	records, _ := f.auditLog.ReadAll()
	assert.Empty(t, records, "rejected decisions must not be audited")
}

func TestApplyAuditsBeforeTransition(t *testing.T) {
	f := newGateFixture(t)
	wf := &fakeWorkflow{completeErr: errors.New("engine unavailable")}
	outcome := &Outcome{Verdict: VerdictSufficient}

	err := f.ev.Apply(context.Background(), wf, outcome, "skill-a", "checklist.yaml", 1, 3, DecisionResearchAnyway)
	require.Error(t, err)

	// The decision is on record even though applying it failed.
	records, rerr := f.auditLog.ReadAll()
	require.NoError(t, rerr)
	assert.Len(t, records, 1)
}

func TestApplyAutofillAndResearch(t *testing.T) {
	f := newGateFixture(t)

	checklist := []ChecklistItem{
		{ID: "q1", Question: "scope?", Answer: "narrow"},
		{ID: "q2", Question: "users?", Answer: "internal teams"},
		{ID: "q3", Question: "inputs?", Answer: ""},
		{ID: "q4", Question: "outputs?", Answer: ""},
		{ID: "q5", Question: "limits?", Answer: "maybe some"},
	}
	data, err := yaml.Marshal(checklist)
	require.NoError(t, err)
	require.NoError(t, f.store.Write("skill-a", "checklist.yaml", data))

	eval, err := ParseEvaluation([]byte(mixedEvaluation))
	require.NoError(t, err)
	outcome := &Outcome{Verdict: VerdictMixed, Evaluation: eval}

	wf := &fakeWorkflow{}
	err = f.ev.Apply(context.Background(), wf, outcome, "skill-a", "checklist.yaml", 1, 3, DecisionAutofillAndResearch)
	require.NoError(t, err)

	// The checklist is rewritten before the workflow advances.
	assert.Equal(t, []int{1}, wf.completed)

	raw, err := f.store.Read("skill-a", "checklist.yaml")
	require.NoError(t, err)
	var filled []ChecklistItem
	require.NoError(t, yaml.Unmarshal(raw, &filled))

	byID := make(map[string]ChecklistItem)
	for _, item := range filled {
		byID[item.ID] = item
	}
	assert.Equal(t, "narrow", byID["q1"].Answer, "clear answers untouched")
	assert.Contains(t, byID["q3"].Answer, "(autofill)")
	assert.Contains(t, byID["q4"].Answer, "(autofill)")
	assert.True(t, strings.HasPrefix(byID["q5"].Answer, "maybe some"), "vague answers keep the user's text")
	assert.Contains(t, byID["q5"].Answer, "autofill")
}
