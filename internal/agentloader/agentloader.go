// Package agentloader implements the Agent Loader (C8): it resolves the
// active AgentManifest by workspace > user > built-in precedence, handles
// the one-time legacy-path migration, and offers Watch to report manifest
// edits in the agent directories to a callback. The chat command does not
// call Watch, so a running session keeps the manifest it loaded at start.
//
// Grounded on the teacher's internal/skills/discovery.go DiscoverySource /
// priority-override DiscoverAll() pattern, reworked around spec.md §4.8's
// exact three-tier resolution and single-named-manifest (not multi-skill
// aggregate) semantics.
package agentloader

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"

	"github.com/fsnotify/fsnotify"

	"github.com/corvid-labs/qcore/internal/models"
)

const (
	workspaceAgentDir = ".amazonq/cli-agents"
	legacyAgentDir    = ".aws/amazonq/agents"
	migratedMarker    = ".migrated"
)

// Loader resolves agent manifests for one session.
type Loader struct {
	WorkspaceDir string // repo root; "" disables workspace-scoped lookup
	UserDir      string // defaults to $HOME/.aws/amazonq/cli-agents if empty
	Logger       *slog.Logger
}

// New constructs a Loader rooted at workspaceDir, defaulting UserDir to
// ~/.aws/amazonq/cli-agents.
func New(workspaceDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	home, _ := os.UserHomeDir()
	return &Loader{
		WorkspaceDir: workspaceDir,
		UserDir:      filepath.Join(home, ".aws", "amazonq", "cli-agents"),
		Logger:       logger.With("component", "agentloader"),
	}
}

// Load resolves name (or the built-in default, if name is empty) following
// workspace > user > built-in precedence. A name present in both workspace
// and user directories logs a WARNING and prefers workspace.
func (l *Loader) Load(name string) (*models.AgentManifest, error) {
	if err := l.migrateLegacyOnce(); err != nil {
		l.Logger.Warn("legacy_agent_migration_failed", "error", err)
	}

	if name == "" {
		return models.BuiltinDefaultAgent(), nil
	}

	wsPath := filepath.Join(l.WorkspaceDir, workspaceAgentDir, name+".json")
	userPath := filepath.Join(l.UserDir, name+".json")

	wsExists := fileExists(wsPath)
	userExists := fileExists(userPath)
	if wsExists && userExists {
		l.Logger.Warn("agent_name_collision", "name", name, "preferring", wsPath, "shadowed", userPath)
	}

	switch {
	case wsExists:
		return l.parse(wsPath, name)
	case userExists:
		return l.parse(userPath, name)
	default:
		l.Logger.Info("agent_not_found_using_builtin", "name", name)
		return models.BuiltinDefaultAgent(), nil
	}
}

// parse decodes one manifest file, overriding its `name` field with the
// filename stem per spec.md §6, and warning on unrecognized top-level keys.
func (l *Loader) parse(path, name string) (*models.AgentManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentloader: read %s: %w", path, err)
	}

	warnUnknownFields(l.Logger, path, data)

	var manifest models.AgentManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("agentloader: malformed manifest %s: %w", path, err)
	}
	manifest.Name = name
	manifest.SourcePath = path
	return &manifest, nil
}

var knownManifestFields = collectJSONTags(models.AgentManifest{})

func collectJSONTags(v any) map[string]bool {
	out := map[string]bool{}
	t := reflect.TypeOf(v)
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := tag
		if idx := indexComma(tag); idx >= 0 {
			name = tag[:idx]
		}
		out[name] = true
	}
	return out
}

func indexComma(s string) int {
	for i, c := range s {
		if c == ',' {
			return i
		}
	}
	return -1
}

func warnUnknownFields(logger *slog.Logger, path string, data []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return
	}
	for key := range raw {
		if !knownManifestFields[key] {
			logger.Warn("unknown_manifest_field", "path", path, "field", key)
		}
	}
}

// migrateLegacyOnce copies any manifests found under the legacy
// .aws/amazonq/agents/ directory into .amazonq/cli-agents/ exactly once,
// tracked by a .migrated marker file, per SPEC_FULL.md §0's resolved open
// question. It never writes to the legacy path again.
func (l *Loader) migrateLegacyOnce() error {
	if l.WorkspaceDir == "" {
		return nil
	}
	legacyDir := filepath.Join(l.WorkspaceDir, legacyAgentDir)
	targetDir := filepath.Join(l.WorkspaceDir, workspaceAgentDir)
	marker := filepath.Join(targetDir, migratedMarker)

	if fileExists(marker) {
		return nil
	}
	entries, err := os.ReadDir(legacyDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		src := filepath.Join(legacyDir, e.Name())
		dst := filepath.Join(targetDir, e.Name())
		if fileExists(dst) {
			continue
		}
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		l.Logger.Info("legacy_agent_migrated", "from", src, "to", dst)
	}
	return os.WriteFile(marker, []byte("1"), 0o644)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Watch watches the workspace and user agent directories for changes and
// invokes onChange with the freshly reloaded manifest whenever name's file
// is created, written or removed (the latter falling back to the built-in
// default). No caller in this module starts a Watch; a running chat session
// does not reload its manifest.
func (l *Loader) Watch(name string, onChange func(*models.AgentManifest, error)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("agentloader: create watcher: %w", err)
	}

	for _, dir := range []string{
		filepath.Join(l.WorkspaceDir, workspaceAgentDir),
		l.UserDir,
	} {
		if dir == "" {
			continue
		}
		_ = os.MkdirAll(dir, 0o755)
		if err := watcher.Add(dir); err != nil {
			l.Logger.Warn("watch_agent_dir_failed", "dir", dir, "error", err)
		}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != name+".json" {
					continue
				}
				manifest, err := l.Load(name)
				onChange(manifest, err)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.Logger.Warn("agent_watch_error", "error", err)
			}
		}
	}()

	return watcher, nil
}
