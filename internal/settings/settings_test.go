package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Model != defaults().Model || s.DefaultAgent != "default" {
		t.Fatalf("expected defaults, got %+v", s)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	want := Settings{DefaultAgent: "reviewer", Model: "gpt-4o", LogLevel: "debug", Backend: "alternative"}
	if err := Save(dir, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DefaultAgent != want.DefaultAgent || got.Model != want.Model || got.Backend != want.Backend {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestFlagOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Settings{Model: "from-file"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(dir, &Settings{Model: "from-flag"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Model != "from-flag" {
		t.Fatalf("expected flag override to win, got %q", got.Model)
	}
}

func TestEnvLogLevelOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, Settings{LogLevel: "from-file"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Setenv("Q_LOG_LEVEL", "from-env")
	got, err := Load(dir, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LogLevel != "from-env" {
		t.Fatalf("expected env override to win over file, got %q", got.LogLevel)
	}
}

func TestConfigDirRespectsEnvOverride(t *testing.T) {
	t.Setenv("Q_CONFIG_DIR", filepath.Join(os.TempDir(), "qcore-test-config"))
	if ConfigDir() != filepath.Join(os.TempDir(), "qcore-test-config") {
		t.Fatalf("expected Q_CONFIG_DIR to be honored, got %q", ConfigDir())
	}
}
