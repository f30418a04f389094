// Package settings implements the layered configuration system described in
// SPEC_FULL.md's Ambient Stack: CLI flag > environment variable > settings
// file > built-in default, with the on-disk file parsed as YAML via
// gopkg.in/yaml.v3, mirroring the teacher's internal/config conventions.
package settings

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the effective, merged configuration for one session.
type Settings struct {
	DefaultAgent string `yaml:"default_agent"`
	Model        string `yaml:"model"`
	LogLevel     string `yaml:"log_level"`
	Backend      string `yaml:"backend"` // "primary" | "alternative"
	NoColor      bool   `yaml:"no_color"`
}

// defaults are the built-in, lowest-precedence values.
func defaults() Settings {
	return Settings{
		DefaultAgent: "default",
		Model:        "claude-sonnet-4-20250514",
		LogLevel:     "info",
		Backend:      "primary",
		NoColor:      false,
	}
}

// ConfigDir resolves $Q_CONFIG_DIR, defaulting to the platform config dir's
// "qcore" subdirectory.
func ConfigDir() string {
	if v := os.Getenv("Q_CONFIG_DIR"); v != "" {
		return v
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "qcore")
}

func settingsFilePath(configDir string) string { return filepath.Join(configDir, "settings.yaml") }

// Load merges built-in defaults, the on-disk settings file, and environment
// variables, in ascending precedence. A missing settings file is not an
// error. flagOverrides, if non-nil, take the highest precedence of all
// (typically populated from parsed CLI flags by the cmd/qcore layer).
func Load(configDir string, flagOverrides *Settings) (Settings, error) {
	s := defaults()

	path := settingsFilePath(configDir)
	if data, err := os.ReadFile(path); err == nil {
		var fromFile Settings
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return Settings{}, fmt.Errorf("settings: parse %s: %w", path, err)
		}
		mergeNonZero(&s, fromFile)
	} else if !os.IsNotExist(err) {
		return Settings{}, fmt.Errorf("settings: read %s: %w", path, err)
	}

	applyEnv(&s)

	if flagOverrides != nil {
		mergeNonZero(&s, *flagOverrides)
	}
	return s, nil
}

func applyEnv(s *Settings) {
	if v := os.Getenv("Q_LOG_LEVEL"); v != "" {
		s.LogLevel = v
	}
	if v := os.Getenv("NO_COLOR"); v != "" {
		s.NoColor = true
	}
}

// mergeNonZero overlays every non-zero-valued field of override onto base.
func mergeNonZero(base *Settings, override Settings) {
	if override.DefaultAgent != "" {
		base.DefaultAgent = override.DefaultAgent
	}
	if override.Model != "" {
		base.Model = override.Model
	}
	if override.LogLevel != "" {
		base.LogLevel = override.LogLevel
	}
	if override.Backend != "" {
		base.Backend = override.Backend
	}
	if override.NoColor {
		base.NoColor = true
	}
}

// Save writes s to configDir/settings.yaml, creating the directory if
// needed.
func Save(configDir string, s Settings) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("settings: create config dir: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	if err := os.WriteFile(settingsFilePath(configDir), data, 0o644); err != nil {
		return fmt.Errorf("settings: write: %w", err)
	}
	return nil
}
