package abtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/skill-forge/forge/internal/artifacts"
)

// FSContextManager prepares throwaway working directories for probe runs.
// The treatment context gets the skill's draft installed; the baseline
// context is bare.
type FSContextManager struct {
	store *artifacts.FSStore
	// SkillFile is the artifact installed into treatment contexts.
	SkillFile string
}

// NewFSContextManager creates a manager reading skills from store.
func NewFSContextManager(store *artifacts.FSStore) *FSContextManager {
	return &FSContextManager{store: store, SkillFile: "SKILL.md"}
}

// Prepare implements ContextManager.
func (m *FSContextManager) Prepare(ctx context.Context, skillID string, withSkill bool) (*ExecContext, error) {
	dir, err := os.MkdirTemp("", "forge-ab-*")
	if err != nil {
		return nil, fmt.Errorf("creating probe context: %w", err)
	}
	cleanup := func() error { return os.RemoveAll(dir) }

	if withSkill {
		content, err := m.store.Read(skillID, m.SkillFile)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("reading skill draft: %w", err)
		}
		skillDir := filepath.Join(dir, "skills", skillID)
		if err := os.MkdirAll(skillDir, 0755); err != nil {
			cleanup()
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(skillDir, m.SkillFile), content, 0644); err != nil {
			cleanup()
			return nil, err
		}
	}

	return &ExecContext{Dir: dir, Cleanup: cleanup}, nil
}

var _ ContextManager = (*FSContextManager)(nil)
