package agentloader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToBuiltinWhenMissing(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, nil)
	manifest, err := l.Load("nope")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.Name != "default" {
		t.Fatalf("expected builtin default agent, got %+v", manifest)
	}
}

func TestLoadPrefersWorkspaceOverUser(t *testing.T) {
	workspaceDir := t.TempDir()
	userDir := t.TempDir()

	writeManifest(t, filepath.Join(workspaceDir, workspaceAgentDir), "demo.json", map[string]any{"description": "workspace"})
	writeManifest(t, userDir, "demo.json", map[string]any{"description": "user"})

	l := New(workspaceDir, nil)
	l.UserDir = userDir

	manifest, err := l.Load("demo")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.Name != "demo" {
		t.Fatalf("expected name overridden by filename, got %q", manifest.Name)
	}
	if manifest.Description != "workspace" {
		t.Fatalf("expected workspace manifest to win, got %q", manifest.Description)
	}
}

func TestLoadRejectsMalformedManifest(t *testing.T) {
	workspaceDir := t.TempDir()
	dir := filepath.Join(workspaceDir, workspaceAgentDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(workspaceDir, nil)
	if _, err := l.Load("broken"); err == nil {
		t.Fatal("expected error for malformed manifest")
	}
}

func TestMigrateLegacyOnce(t *testing.T) {
	workspaceDir := t.TempDir()
	legacyDir := filepath.Join(workspaceDir, legacyAgentDir)
	writeManifest(t, legacyDir, "old.json", map[string]any{"description": "legacy"})

	l := New(workspaceDir, nil)
	manifest, err := l.Load("old")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if manifest.Description != "legacy" {
		t.Fatalf("expected migrated legacy manifest, got %+v", manifest)
	}

	markerPath := filepath.Join(workspaceDir, workspaceAgentDir, migratedMarker)
	if !fileExists(markerPath) {
		t.Fatal("expected .migrated marker to be written")
	}
}

func writeManifest(t *testing.T, dir, filename string, fields map[string]any) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
