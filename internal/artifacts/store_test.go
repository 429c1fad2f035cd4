package artifacts

import (
	"os"
	"path/filepath"
	"testing"

	forgeerr "github.com/skill-forge/forge/internal/errors"
)

func TestReadPrefersCapturedOverRaw(t *testing.T) {
	store := NewFSStore(t.TempDir())

	if err := store.Write("skill-a", "checklist.yaml", []byte("raw")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	captured := filepath.Join(store.SkillDir("skill-a"), "captured", "checklist.yaml")
	if err := os.MkdirAll(filepath.Dir(captured), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(captured, []byte("captured"), 0644); err != nil {
		t.Fatal(err)
	}

	data, err := store.Read("skill-a", "checklist.yaml")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "captured" {
		t.Errorf("Read returned %q, want the captured copy", data)
	}
}

func TestReadFallsBackToRaw(t *testing.T) {
	store := NewFSStore(t.TempDir())
	if err := store.Write("skill-a", "notes/exploration.md", []byte("findings")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := store.Read("skill-a", "notes/exploration.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "findings" {
		t.Errorf("Read returned %q", data)
	}
}

func TestReadMissingArtifact(t *testing.T) {
	store := NewFSStore(t.TempDir())
	_, err := store.Read("skill-a", "nope.md")
	if !forgeerr.HasCode(err, forgeerr.CodeIOFileNotFound) {
		t.Errorf("expected file-not-found code, got %v", err)
	}
}

func TestExists(t *testing.T) {
	store := NewFSStore(t.TempDir())
	if store.Exists("skill-a", "x.md") {
		t.Error("Exists true for missing artifact")
	}
	store.Write("skill-a", "x.md", []byte("y"))
	if !store.Exists("skill-a", "x.md") {
		t.Error("Exists false for written artifact")
	}
}

func TestResetStepRemovesRawAndCaptured(t *testing.T) {
	store := NewFSStore(t.TempDir())
	store.Write("skill-a", "a.md", []byte("1"))
	captured := filepath.Join(store.SkillDir("skill-a"), "captured", "a.md")
	os.MkdirAll(filepath.Dir(captured), 0755)
	os.WriteFile(captured, []byte("2"), 0644)

	if err := store.ResetStep("skill-a", []string{"a.md", "never-existed.md"}); err != nil {
		t.Fatalf("ResetStep: %v", err)
	}
	if store.Exists("skill-a", "a.md") {
		t.Error("artifact survived reset")
	}
}
