package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/skill-forge/forge/internal/agent"
	"github.com/skill-forge/forge/internal/logging"
)

func newTestRegistry() *Registry {
	return New(logging.NewForTest())
}

func event(runID, text string) agent.Event {
	return agent.Event{RunID: runID, Kind: agent.EventAssistantText, Text: text, At: time.Now()}
}

func TestEventsAreBufferedUntilFlush(t *testing.T) {
	r := newTestRegistry()
	r.Register("run-1", "fast", TagStep)

	r.AppendEvent(event("run-1", "hello"))
	if got := r.Get("run-1"); len(got.Messages) != 0 {
		t.Fatalf("event applied before flush: %d messages", len(got.Messages))
	}

	r.Flush()
	if got := r.Get("run-1"); len(got.Messages) != 1 {
		t.Fatalf("after flush got %d messages, want 1", len(got.Messages))
	}
}

func TestEventsBeforeRegisterCreatePlaceholder(t *testing.T) {
	r := newTestRegistry()

	// Streamed output can land before the caller registers the run.
	r.AppendEvent(event("run-1", "early"))
	r.Flush()

	got := r.Get("run-1")
	if got == nil {
		t.Fatal("placeholder run not created")
	}
	if got.Status != agent.StatusInitializing {
		t.Errorf("placeholder status = %s, want initializing", got.Status)
	}

	// Registration merges into the placeholder, keeping the events.
	r.Register("run-1", "fast", TagGate)
	got = r.Get("run-1")
	if got.Model != "fast" || got.Tag != TagGate {
		t.Errorf("registration did not fill metadata: %+v", got)
	}
	if len(got.Messages) != 1 {
		t.Errorf("registration dropped buffered events: %d messages", len(got.Messages))
	}
}

func TestStatusBeforeRegisterCreatesPlaceholder(t *testing.T) {
	r := newTestRegistry()

	if err := r.SetStatus("run-1", agent.StatusRunning); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got := r.Get("run-1")
	if got == nil || got.Status != agent.StatusRunning {
		t.Fatalf("status update before registration lost: %+v", got)
	}
}

func TestStatusTransitionsAreMonotonic(t *testing.T) {
	r := newTestRegistry()
	r.Register("run-1", "m", TagStep)

	if err := r.SetStatus("run-1", agent.StatusRunning); err != nil {
		t.Fatalf("to running: %v", err)
	}
	if err := r.SetStatus("run-1", agent.StatusCompleted); err != nil {
		t.Fatalf("to completed: %v", err)
	}

	// A late error report must not overwrite the terminal status.
	if err := r.SetStatus("run-1", agent.StatusError); err != nil {
		t.Fatalf("late transition should be ignored, not fail: %v", err)
	}
	if got := r.Get("run-1").Status; got != agent.StatusCompleted {
		t.Errorf("terminal status overwritten: %s", got)
	}

	// Going backwards is ignored too.
	r.Register("run-2", "m", TagStep)
	r.SetStatus("run-2", agent.StatusRunning)
	r.SetStatus("run-2", agent.StatusInitializing)
	if got := r.Get("run-2").Status; got != agent.StatusRunning {
		t.Errorf("backward transition applied: %s", got)
	}
}

func TestTerminalWatcherSeesFullTranscript(t *testing.T) {
	r := newTestRegistry()

	var mu sync.Mutex
	var seen []*AgentRun
	r.OnTerminal(func(run *AgentRun) {
		mu.Lock()
		seen = append(seen, run)
		mu.Unlock()
	})

	r.Register("run-1", "m", TagStep)
	r.SetStatus("run-1", agent.StatusRunning)
	r.AppendEvent(event("run-1", "final answer"))
	r.SetStatus("run-1", agent.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 {
		t.Fatalf("watcher called %d times, want 1", len(seen))
	}
	if seen[0].Status != agent.StatusCompleted {
		t.Errorf("watcher saw status %s", seen[0].Status)
	}
	// The buffered event must be flushed before the watcher fires.
	if len(seen[0].Messages) != 1 || seen[0].Messages[0].Text != "final answer" {
		t.Errorf("watcher saw incomplete transcript: %+v", seen[0].Messages)
	}
}

func TestTranscriptFiltersInvisibleEvents(t *testing.T) {
	r := newTestRegistry()
	r.Register("run-1", "m", TagStep)

	r.AppendEvent(event("run-1", "line one"))
	r.AppendEvent(agent.Event{RunID: "run-1", Kind: agent.EventToolUse, Text: "grep foo"})
	r.AppendEvent(agent.Event{RunID: "run-1", Kind: agent.EventQuestion, Text: "which file?"})
	r.AppendEvent(agent.Event{RunID: "run-1", Kind: agent.EventSystem, Text: "tick"})

	// Transcript flushes on its own; no explicit Flush needed.
	want := "line one\nwhich file?"
	if got := r.Transcript("run-1"); got != want {
		t.Errorf("Transcript() = %q, want %q", got, want)
	}
}

func TestClearDropsRunsAndPending(t *testing.T) {
	r := newTestRegistry()
	r.Register("run-1", "m", TagStep)
	r.AppendEvent(event("run-1", "x"))

	r.Clear()
	if got := r.Get("run-1"); got != nil {
		t.Error("run survived Clear")
	}
	r.Flush()
	if got := r.Get("run-1"); got != nil {
		t.Error("pending event recreated a cleared run")
	}
}

func TestSetTotalCost(t *testing.T) {
	r := newTestRegistry()
	r.Register("run-1", "m", TagStep)

	r.SetTotalCost("run-1", 0.42)
	got := r.Get("run-1")
	if got.TotalCost == nil || *got.TotalCost != 0.42 {
		t.Errorf("TotalCost = %v", got.TotalCost)
	}

	// Unknown runs are ignored; cost without a run is meaningless.
	r.SetTotalCost("ghost", 1.0)
	if r.Get("ghost") != nil {
		t.Error("cost report created a run")
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	r := newTestRegistry()
	r.Register("run-1", "m", TagStep)
	r.AppendEvent(event("run-1", "x"))
	r.Flush()

	snap := r.Get("run-1")
	snap.Messages[0].Text = "tampered"
	if got := r.Get("run-1").Messages[0].Text; got != "x" {
		t.Errorf("snapshot shares storage with registry: %q", got)
	}
}
