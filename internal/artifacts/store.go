// Package artifacts reads and writes per-skill generated artifacts.
package artifacts

import (
	"os"
	"path/filepath"

	forgeerr "github.com/skill-forge/forge/internal/errors"
)

// Store is the artifact collaborator consumed by the workflow core.
type Store interface {
	// Read returns artifact content, falling back to a raw file read when a
	// structured capture has not been taken yet.
	Read(skillID, rel string) ([]byte, error)

	// Write stores artifact content, creating parent directories.
	Write(skillID, rel string, content []byte) error

	// Exists reports whether the artifact is present.
	Exists(skillID, rel string) bool

	// ResetStep removes the given artifacts. Missing files are not an error.
	ResetStep(skillID string, paths []string) error

	// SkillDir returns the directory holding a skill's artifacts. Runs
	// executed on the skill's behalf use it as their working directory.
	SkillDir(skillID string) string
}

// FSStore keeps artifacts on disk under root/<skillID>/. Structured
// captures live under a "captured" subtree; Read prefers those and falls
// back to the raw path.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem-backed store.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// SkillDir returns the directory holding a skill's artifacts.
func (s *FSStore) SkillDir(skillID string) string {
	return filepath.Join(s.root, skillID)
}

func (s *FSStore) capturedPath(skillID, rel string) string {
	return filepath.Join(s.root, skillID, "captured", rel)
}

func (s *FSStore) rawPath(skillID, rel string) string {
	return filepath.Join(s.root, skillID, rel)
}

// Read implements Store.
func (s *FSStore) Read(skillID, rel string) ([]byte, error) {
	if data, err := os.ReadFile(s.capturedPath(skillID, rel)); err == nil {
		return data, nil
	}
	data, err := os.ReadFile(s.rawPath(skillID, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, forgeerr.IOFileNotFound(rel)
		}
		return nil, forgeerr.IOReadError(rel, err)
	}
	return data, nil
}

// Write implements Store.
func (s *FSStore) Write(skillID, rel string, content []byte) error {
	path := s.rawPath(skillID, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return forgeerr.IOWriteError(rel, err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return forgeerr.IOWriteError(rel, err)
	}
	return nil
}

// Exists implements Store.
func (s *FSStore) Exists(skillID, rel string) bool {
	if _, err := os.Stat(s.capturedPath(skillID, rel)); err == nil {
		return true
	}
	_, err := os.Stat(s.rawPath(skillID, rel))
	return err == nil
}

// ResetStep implements Store. Both the raw artifact and any structured
// capture are removed.
func (s *FSStore) ResetStep(skillID string, paths []string) error {
	for _, rel := range paths {
		for _, path := range []string{s.rawPath(skillID, rel), s.capturedPath(skillID, rel)} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return forgeerr.IOWriteError(rel, err)
			}
		}
	}
	return nil
}

var _ Store = (*FSStore)(nil)
