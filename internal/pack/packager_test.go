package pack

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/skill-forge/forge/internal/artifacts"
)

func TestPackageCopiesArtifactsAndWritesManifest(t *testing.T) {
	store := artifacts.NewFSStore(t.TempDir())
	store.Write("skill-a", "SKILL.md", []byte("# skill"))
	store.Write("skill-a", "exploration.md", []byte("notes"))
	store.Write("skill-a", "prompts/explore.md", []byte("prompt"))

	p := NewDirPackager(store)
	if err := p.Package(context.Background(), "skill-a"); err != nil {
		t.Fatalf("Package: %v", err)
	}

	distDir := filepath.Join(store.SkillDir("skill-a"), "dist")
	data, err := os.ReadFile(filepath.Join(distDir, "manifest.yaml"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("parsing manifest: %v", err)
	}

	if manifest.SkillID != "skill-a" {
		t.Errorf("manifest skill id = %q", manifest.SkillID)
	}
	paths := make(map[string]bool)
	for _, entry := range manifest.Files {
		paths[entry.Path] = true
	}
	if !paths["SKILL.md"] || !paths["exploration.md"] {
		t.Errorf("manifest missing artifacts: %+v", manifest.Files)
	}
	// Prompts are working material, not deliverables.
	if paths["prompts/explore.md"] {
		t.Error("manifest includes the prompts subtree")
	}

	if _, err := os.Stat(filepath.Join(distDir, "SKILL.md")); err != nil {
		t.Errorf("SKILL.md not copied into dist: %v", err)
	}
}

func TestPackageIsRerunnable(t *testing.T) {
	store := artifacts.NewFSStore(t.TempDir())
	store.Write("skill-a", "SKILL.md", []byte("# v1"))

	p := NewDirPackager(store)
	if err := p.Package(context.Background(), "skill-a"); err != nil {
		t.Fatal(err)
	}

	// Repackaging after a change must not pick up the previous dist tree.
	store.Write("skill-a", "SKILL.md", []byte("# v2"))
	if err := p.Package(context.Background(), "skill-a"); err != nil {
		t.Fatalf("second Package: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(store.SkillDir("skill-a"), "dist", "SKILL.md"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "# v2" {
		t.Errorf("dist holds %q, want the repackaged content", data)
	}

	var manifest Manifest
	raw, _ := os.ReadFile(filepath.Join(store.SkillDir("skill-a"), "dist", "manifest.yaml"))
	yaml.Unmarshal(raw, &manifest)
	for _, entry := range manifest.Files {
		if strings.HasPrefix(entry.Path, "dist") {
			t.Errorf("manifest recursed into dist: %s", entry.Path)
		}
	}
}

func TestPackageEmptySkillFails(t *testing.T) {
	store := artifacts.NewFSStore(t.TempDir())
	os.MkdirAll(store.SkillDir("skill-a"), 0755)

	p := NewDirPackager(store)
	if err := p.Package(context.Background(), "skill-a"); err == nil {
		t.Error("packaging an empty skill should fail")
	}
}
