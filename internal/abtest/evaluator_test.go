package abtest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/artifacts"
	forgeerr "github.com/skill-forge/forge/internal/errors"
	"github.com/skill-forge/forge/internal/logging"
	"github.com/skill-forge/forge/internal/registry"
	"github.com/skill-forge/forge/internal/testutil"
)

type fakeContexts struct {
	mu       sync.Mutex
	prepared []bool // withSkill flag per Prepare call
	cleaned  int
}

func (c *fakeContexts) Prepare(ctx context.Context, skillID string, withSkill bool) (*ExecContext, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepared = append(c.prepared, withSkill)
	dir := "ctx-bare"
	if withSkill {
		dir = "ctx-skill"
	}
	return &ExecContext{
		Dir: dir,
		Cleanup: func() error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.cleaned++
			return nil
		},
	}, nil
}

func (c *fakeContexts) cleanups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleaned
}

type abFixture struct {
	ev       *Evaluator
	agents   *testutil.FakeAgent
	reg      *registry.Registry
	contexts *fakeContexts
}

func newABFixture(t *testing.T) *abFixture {
	t.Helper()
	logger := logging.NewForTest()
	reg := registry.New(logger)
	agents := &testutil.FakeAgent{Reg: reg}
	contexts := &fakeContexts{}
	return &abFixture{
		ev:       NewEvaluator(agents, reg, contexts, "probe-model", "judge-model", 2*time.Millisecond, logger),
		agents:   agents,
		reg:      reg,
		contexts: contexts,
	}
}

func awaitRunCount(t *testing.T, agents *testutil.FakeAgent, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ids := agents.RunIDs(); len(ids) >= n {
			return ids
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("never reached %d runs (have %d)", n, len(agents.RunIDs()))
	return nil
}

type runResult struct {
	result *Result
	err    error
}

func TestRunComparesAndJudges(t *testing.T) {
	f := newABFixture(t)

	done := make(chan runResult, 1)
	go func() {
		res, err := f.ev.Run(context.Background(), "skill-a", "summarize the report")
		done <- runResult{res, err}
	}()

	probes := awaitRunCount(t, f.agents, 2)
	f.agents.Emit(probes[0], "baseline answer")
	f.agents.Emit(probes[1], "treatment answer")
	f.agents.Finish(probes[0], agent.StatusCompleted)
	f.agents.Finish(probes[1], agent.StatusCompleted)

	ids := awaitRunCount(t, f.agents, 3)
	judgeID := ids[2]
	assert.Equal(t, PhaseEvaluating, f.ev.Phase())
	f.agents.Emit(judgeID, "- ↑ clearer answer\n\n## Recommendations\nshorten the intro")
	f.agents.Finish(judgeID, agent.StatusCompleted)

	out := <-done
	require.NoError(t, out.err)
	result := out.result

	assert.Equal(t, PhaseDone, f.ev.Phase())
	assert.False(t, result.Baseline.Failed())
	assert.False(t, result.Treatment.Failed())
	require.Len(t, result.Lines, 1)
	assert.Equal(t, DirectionUp, result.Lines[0].Direction)
	assert.Equal(t, "shorten the intro", result.Recommendations)

	// One context of each flavor, both cleaned up.
	assert.ElementsMatch(t, []bool{false, true}, f.contexts.prepared)
	assert.Equal(t, 2, f.contexts.cleanups())

	// Both probes ran the identical prompt in their own context.
	starts := f.agents.Starts()
	assert.Equal(t, starts[0].Prompt, starts[1].Prompt)
	assert.NotEqual(t, starts[0].ContextDir, starts[1].ContextDir)

	// The judge saw both transcripts.
	assert.Contains(t, starts[2].Prompt, "baseline answer")
	assert.Contains(t, starts[2].Prompt, "treatment answer")
	assert.Equal(t, "judge-model", starts[2].Model)
	assert.Equal(t, registry.TagJudge, f.reg.Get(judgeID).Tag)
}

func TestRunSurvivesSingleProbeFailure(t *testing.T) {
	f := newABFixture(t)

	done := make(chan runResult, 1)
	go func() {
		res, err := f.ev.Run(context.Background(), "skill-a", "task")
		done <- runResult{res, err}
	}()

	probes := awaitRunCount(t, f.agents, 2)
	baseID, treatID := probes[0], probes[1]
	if f.agents.Starts()[0].ContextDir != "ctx-bare" {
		baseID, treatID = treatID, baseID
	}
	f.agents.Finish(baseID, agent.StatusError)
	f.agents.Emit(treatID, "treatment answer")
	f.agents.Finish(treatID, agent.StatusCompleted)

	ids := awaitRunCount(t, f.agents, 3)
	f.agents.Emit(ids[2], "- → hard to compare against a failed run")
	f.agents.Finish(ids[2], agent.StatusCompleted)

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.result.Baseline.Failed())
	assert.False(t, out.result.Treatment.Failed())
	assert.Equal(t, PhaseDone, f.ev.Phase())
}

func TestRunAbortsWhenBothProbesFail(t *testing.T) {
	f := newABFixture(t)

	done := make(chan runResult, 1)
	go func() {
		res, err := f.ev.Run(context.Background(), "skill-a", "task")
		done <- runResult{res, err}
	}()

	probes := awaitRunCount(t, f.agents, 2)
	f.agents.Finish(probes[0], agent.StatusError)
	f.agents.Finish(probes[1], agent.StatusShutdown)

	out := <-done
	require.Error(t, out.err)
	assert.True(t, forgeerr.HasCode(out.err, forgeerr.CodeEvaluationAborted), "got %v", out.err)
	assert.Equal(t, PhaseError, f.ev.Phase())

	// No judge run was started, and contexts were still cleaned up.
	assert.Len(t, f.agents.RunIDs(), 2)
	assert.Equal(t, 2, f.contexts.cleanups())
}

func TestRunRejectsConcurrentEvaluation(t *testing.T) {
	f := newABFixture(t)
	f.ev.mu.Lock()
	f.ev.phase = PhaseRunning
	f.ev.mu.Unlock()

	_, err := f.ev.Run(context.Background(), "skill-a", "task")
	require.Error(t, err)
	assert.Empty(t, f.agents.RunIDs())
}

func TestFSContextManager(t *testing.T) {
	root := t.TempDir()
	store := artifacts.NewFSStore(root)
	require.NoError(t, store.Write("skill-a", "SKILL.md", []byte("# the skill")))

	m := NewFSContextManager(store)

	treatment, err := m.Prepare(context.Background(), "skill-a", true)
	require.NoError(t, err)
	installed := filepath.Join(treatment.Dir, "skills", "skill-a", "SKILL.md")
	data, err := os.ReadFile(installed)
	require.NoError(t, err)
	assert.Equal(t, "# the skill", string(data))

	baseline, err := m.Prepare(context.Background(), "skill-a", false)
	require.NoError(t, err)
	entries, err := os.ReadDir(baseline.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "baseline context must be bare")

	require.NoError(t, treatment.Cleanup())
	require.NoError(t, baseline.Cleanup())
	_, err = os.Stat(treatment.Dir)
	assert.True(t, os.IsNotExist(err), "cleanup should remove the context dir")
}

func TestFSContextManagerMissingSkill(t *testing.T) {
	store := artifacts.NewFSStore(t.TempDir())
	m := NewFSContextManager(store)

	_, err := m.Prepare(context.Background(), "skill-a", true)
	require.Error(t, err)
}
