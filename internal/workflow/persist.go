package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skill-forge/forge/internal/types"
)

// StepSnapshot is one step's persisted status.
type StepSnapshot struct {
	Index  int              `yaml:"index" json:"index"`
	Status types.StepStatus `yaml:"status" json:"status"`
}

// SavedState is the persisted form of a workflow. OverallStatus is derived
// from the steps at save time and stored only for display by external
// readers; load always re-derives it. The json tags serve the status
// command's machine-readable output.
type SavedState struct {
	SkillID       string               `yaml:"skill_id" json:"skill_id"`
	CurrentStep   int                  `yaml:"current_step" json:"current_step"`
	OverallStatus types.WorkflowStatus `yaml:"overall_status" json:"overall_status"`
	Steps         []StepSnapshot       `yaml:"steps" json:"steps"`
	Disabled      []int                `yaml:"disabled_steps,omitempty" json:"disabled_steps,omitempty"`
	Purpose       string               `yaml:"purpose,omitempty" json:"purpose,omitempty"`
}

// StateStore persists workflow state per skill.
type StateStore interface {
	// Load returns the saved state, or (nil, nil) when none exists.
	Load(skillID string) (*SavedState, error)

	// Save persists state atomically.
	Save(state *SavedState) error
}

// YAMLStateStore stores one YAML file per skill with write-then-rename.
type YAMLStateStore struct {
	dir string
}

// NewYAMLStateStore creates the store, recovering any interrupted writes.
func NewYAMLStateStore(dir string) (*YAMLStateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	if err := recoverInterruptedWrites(dir); err != nil {
		return nil, fmt.Errorf("recovering interrupted writes: %w", err)
	}
	return &YAMLStateStore{dir: dir}, nil
}

func (s *YAMLStateStore) path(skillID string) string {
	return filepath.Join(s.dir, skillID+".yaml")
}

// Load implements StateStore.
func (s *YAMLStateStore) Load(skillID string) (*SavedState, error) {
	data, err := os.ReadFile(s.path(skillID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var state SavedState
	if err := yaml.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parsing state for %s: %w", skillID, err)
	}
	return &state, nil
}

// Save implements StateStore.
func (s *YAMLStateStore) Save(state *SavedState) error {
	data, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	mainPath := s.path(state.SkillID)
	tmpPath := mainPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, mainPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// recoverInterruptedWrites handles .tmp files left from crashed writes.
func recoverInterruptedWrites(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".yaml.tmp") {
			continue
		}
		tmpPath := filepath.Join(dir, entry.Name())
		mainPath := strings.TrimSuffix(tmpPath, ".tmp")

		if _, err := os.Stat(mainPath); err == nil {
			os.Remove(tmpPath)
		} else {
			os.Rename(tmpPath, mainPath)
		}
	}
	return nil
}

var _ StateStore = (*YAMLStateStore)(nil)

// debouncer coalesces rapid persist requests into one write. Each Trigger
// resets the timer; it never stacks, so concurrent writers for the same
// skill cannot interleave. runMu serializes fn invocations: Flush and Stop
// wait out a write already in flight before returning.
type debouncer struct {
	mu    sync.Mutex
	runMu sync.Mutex
	timer *time.Timer
	delay time.Duration
	fn    func()
	armed bool
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

// Trigger schedules fn after the debounce window, resetting any pending timer.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, d.fire)
		return
	}
	d.timer.Reset(d.delay)
}

func (d *debouncer) fire() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	// Re-check under runMu: a Flush or Stop that won the race already
	// consumed or cancelled this write.
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	d.armed = false
	d.mu.Unlock()
	d.fn()
}

// Flush runs fn immediately if a write is pending, after any in-flight
// write finishes.
func (d *debouncer) Flush() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	pending := d.armed
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()
	if pending {
		d.fn()
	}
}

// Stop cancels any pending write and waits for one already in flight.
func (d *debouncer) Stop() {
	d.mu.Lock()
	d.armed = false
	if d.timer != nil {
		d.timer.Stop()
	}
	d.mu.Unlock()

	d.runMu.Lock()
	d.runMu.Unlock()
}
