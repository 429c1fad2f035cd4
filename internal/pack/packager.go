// Package pack assembles a skill's reviewed artifacts into its dist tree.
package pack

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/skill-forge/forge/internal/artifacts"
)

// ManifestEntry describes one packaged file.
type ManifestEntry struct {
	Path string `yaml:"path"`
	Size int64  `yaml:"size"`
}

// Manifest is the dist/manifest.yaml the package step must produce.
type Manifest struct {
	SkillID   string          `yaml:"skill_id"`
	CreatedAt time.Time       `yaml:"created_at"`
	Files     []ManifestEntry `yaml:"files"`
}

// DirPackager copies a skill's artifacts into <skill>/dist and writes a
// manifest. It skips working subtrees (dist itself, structured captures,
// prompts).
type DirPackager struct {
	store *artifacts.FSStore
}

// NewDirPackager creates a packager over the artifact store.
func NewDirPackager(store *artifacts.FSStore) *DirPackager {
	return &DirPackager{store: store}
}

// Package implements workflow.Packager.
func (p *DirPackager) Package(ctx context.Context, skillID string) error {
	skillDir := p.store.SkillDir(skillID)
	distDir := filepath.Join(skillDir, "dist")
	if err := os.MkdirAll(distDir, 0755); err != nil {
		return fmt.Errorf("creating dist dir: %w", err)
	}

	manifest := Manifest{
		SkillID:   skillID,
		CreatedAt: time.Now().UTC(),
	}

	err := filepath.WalkDir(skillDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(skillDir, path)
		if rerr != nil {
			return rerr
		}
		if d.IsDir() {
			switch {
			case rel == "dist", rel == "captured", rel == "prompts":
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(rel, ".") {
			return nil
		}

		dst := filepath.Join(distDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		size, err := copyFile(path, dst)
		if err != nil {
			return err
		}
		manifest.Files = append(manifest.Files, ManifestEntry{Path: rel, Size: size})
		return nil
	})
	if err != nil {
		return fmt.Errorf("packaging %s: %w", skillID, err)
	}
	if len(manifest.Files) == 0 {
		return fmt.Errorf("packaging %s: no artifacts to package", skillID)
	}

	data, err := yaml.Marshal(&manifest)
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(distDir, "manifest.yaml"), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, err
	}
	return n, out.Sync()
}
