package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

// WriteOp selects one fs_write operation's behavior.
type WriteOp string

const (
	OpCreate    WriteOp = "Create"
	OpOverwrite WriteOp = "Overwrite"
	OpPatch     WriteOp = "Patch"
	OpAppend    WriteOp = "Append"
)

type writeInput struct {
	Operation  WriteOp `json:"operation"`
	Path       string  `json:"path"`
	Content    string  `json:"content,omitempty"`
	OldStr     string  `json:"old_str,omitempty"`
	NewStr     string  `json:"new_str,omitempty"`
	Occurrence int     `json:"occurrence,omitempty"`
}

// WriteTool implements fs_write: Create/Overwrite/Patch/Append, with atomic
// writes (temp file + rename) per spec.md §4.4. Grounded on
// internal/tools/files/write.go's resolve-then-os.OpenFile shape and
// edit.go's find/replace mechanics, adapted to the exact-match-once Patch
// contract instead of nexus's unified-diff apply_patch and unconditional
// replace-all edit tool.
type WriteTool struct {
	resolver Resolver
}

// NewWriteTool creates an fs_write executor scoped to cfg.Workspace.
func NewWriteTool(cfg Config) *WriteTool { return &WriteTool{resolver: Resolver{Root: cfg.Workspace}} }

func (t *WriteTool) Name() string        { return "fs_write" }
func (t *WriteTool) Description() string { return "Create, overwrite, patch or append to a file in the workspace." }
func (t *WriteTool) ReadOnly() bool      { return false }

func (t *WriteTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation":  map[string]any{"type": "string", "enum": []string{"Create", "Overwrite", "Patch", "Append"}},
			"path":       map[string]any{"type": "string"},
			"content":    map[string]any{"type": "string"},
			"old_str":    map[string]any{"type": "string"},
			"new_str":    map[string]any{"type": "string"},
			"occurrence": map[string]any{"type": "integer"},
		},
		"required": []string{"operation", "path"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *WriteTool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in writeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid fs_write input: %v", err)), nil
	}
	if strings.TrimSpace(in.Path) == "" {
		return tools.Errorf("path is required"), nil
	}
	resolved, err := t.resolver.Resolve(in.Path)
	if err != nil {
		return tools.Errorf(err.Error()), nil
	}

	switch in.Operation {
	case OpCreate:
		if _, statErr := os.Stat(resolved); statErr == nil {
			return tools.Errorf(fmt.Sprintf("file already exists: %s", in.Path)), nil
		}
		return atomicWrite(resolved, in.Content, in.Path)

	case OpOverwrite:
		return atomicWrite(resolved, in.Content, in.Path)

	case OpAppend:
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return tools.Errorf(fmt.Sprintf("create directory: %v", err)), nil
		}
		f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return tools.Errorf(fmt.Sprintf("open file: %v", err)), nil
		}
		defer f.Close()
		if _, err := f.WriteString(in.Content); err != nil {
			return tools.Errorf(fmt.Sprintf("append file: %v", err)), nil
		}
		return tools.Text(fmt.Sprintf("appended %d bytes to %s", len(in.Content), in.Path)), nil

	case OpPatch:
		return patchFile(resolved, in)

	default:
		return tools.Errorf(fmt.Sprintf("unknown operation %q", in.Operation)), nil
	}
}

func atomicWrite(path, content, displayPath string) (*models.ToolResultMsg, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return tools.Errorf(fmt.Sprintf("create directory: %v", err)), nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".qcore-write-*")
	if err != nil {
		return tools.Errorf(fmt.Sprintf("create temp file: %v", err)), nil
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return tools.Errorf(fmt.Sprintf("write temp file: %v", err)), nil
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return tools.Errorf(fmt.Sprintf("close temp file: %v", err)), nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return tools.Errorf(fmt.Sprintf("rename into place: %v", err)), nil
	}
	return tools.Text(fmt.Sprintf("wrote %d bytes to %s", len(content), displayPath)), nil
}

// patchFile replaces in.OldStr with in.NewStr at the single matching
// occurrence. Without in.Occurrence the old string must match exactly once;
// zero matches is PatchNotFound, more than one is PatchAmbiguous.
func patchFile(path string, in writeInput) (*models.ToolResultMsg, error) {
	if in.OldStr == "" {
		return tools.Errorf("old_str is required for Patch"), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tools.Errorf(fmt.Sprintf("read file: %v", err)), nil
	}
	content := string(data)
	count := strings.Count(content, in.OldStr)

	if count == 0 {
		return tools.Errorf(fmt.Sprintf("PatchNotFound: old_str not found in %s", in.Path)), nil
	}

	var patched string
	if in.Occurrence > 0 {
		if in.Occurrence > count {
			return tools.Errorf(fmt.Sprintf("PatchNotFound: occurrence %d exceeds %d matches in %s", in.Occurrence, count, in.Path)), nil
		}
		patched = replaceNth(content, in.OldStr, in.NewStr, in.Occurrence)
	} else {
		if count > 1 {
			return tools.Errorf(fmt.Sprintf("PatchAmbiguous: old_str matches %d times in %s; specify occurrence", count, in.Path)), nil
		}
		patched = strings.Replace(content, in.OldStr, in.NewStr, 1)
	}

	return atomicWrite(path, patched, in.Path)
}

func replaceNth(s, old, new string, n int) string {
	idx := -1
	rest := s
	offset := 0
	for i := 1; i <= n; i++ {
		found := strings.Index(rest, old)
		if found < 0 {
			return s
		}
		idx = offset + found
		offset += found + len(old)
		rest = s[offset:]
	}
	return s[:idx] + new + s[idx+len(old):]
}
