package files

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolverRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolver := Resolver{Root: root}
	_, err := resolver.Resolve("../outside.txt")
	if err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestResolverUnscopedAcceptsAnyPath(t *testing.T) {
	resolver := Resolver{}
	dir := t.TempDir()
	path := filepath.Join(dir, "anywhere.txt")
	resolved, err := resolver.Resolve(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved != filepath.Clean(path) {
		t.Fatalf("expected %s, got %s", path, resolved)
	}
}

func TestWriteCreateThenReadLine(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	writeTool := NewWriteTool(cfg)
	readTool := NewReadTool(cfg)

	createParams, _ := json.Marshal(map[string]any{
		"operation": "Create",
		"path":      "notes.txt",
		"content":   "hello world",
	})
	res, err := writeTool.Invoke(context.Background(), createParams)
	if err != nil || res.IsError() {
		t.Fatalf("create failed: %v %+v", err, res)
	}

	// Create again must fail since the file now exists.
	if res2, _ := writeTool.Invoke(context.Background(), createParams); !res2.IsError() {
		t.Fatal("expected second Create to fail")
	}

	readParams, _ := json.Marshal(map[string]any{
		"operations": []map[string]any{
			{"mode": "Line", "path": "notes.txt"},
		},
	})
	result, err := readTool.Invoke(context.Background(), readParams)
	if err != nil || result.IsError() {
		t.Fatalf("read failed: %v %+v", err, result)
	}
	if !strings.Contains(result.Content[0].Text, "hello") {
		t.Fatalf("expected content, got %s", result.Content[0].Text)
	}
}

func TestPatchSingleOccurrence(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	writeTool := NewWriteTool(cfg)
	patchParams, _ := json.Marshal(map[string]any{
		"operation": "Patch",
		"path":      "notes.txt",
		"old_str":   "world",
		"new_str":   "nexus",
	})
	if res, err := writeTool.Invoke(context.Background(), patchParams); err != nil || res.IsError() {
		t.Fatalf("patch failed: %v %+v", err, res)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "hello nexus" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestPatchAmbiguousWithoutOccurrence(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(path, []byte("a b a"), 0o644); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	writeTool := NewWriteTool(cfg)
	patchParams, _ := json.Marshal(map[string]any{
		"operation": "Patch",
		"path":      "notes.txt",
		"old_str":   "a",
		"new_str":   "z",
	})
	res, err := writeTool.Invoke(context.Background(), patchParams)
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if !res.IsError() || !strings.Contains(res.Content[0].Text, "PatchAmbiguous") {
		t.Fatalf("expected PatchAmbiguous, got %+v", res)
	}
}

func TestPatchWithOccurrenceDisambiguates(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(path, []byte("a b a"), 0o644); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	writeTool := NewWriteTool(cfg)
	patchParams, _ := json.Marshal(map[string]any{
		"operation":  "Patch",
		"path":       "notes.txt",
		"old_str":    "a",
		"new_str":    "z",
		"occurrence": 2,
	})
	if res, err := writeTool.Invoke(context.Background(), patchParams); err != nil || res.IsError() {
		t.Fatalf("patch failed: %v %+v", err, res)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "a b z" {
		t.Fatalf("unexpected content: %s", string(data))
	}
}

func TestPatchNotFound(t *testing.T) {
	root := t.TempDir()
	cfg := Config{Workspace: root}
	path := filepath.Join(root, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("setup write: %v", err)
	}

	writeTool := NewWriteTool(cfg)
	patchParams, _ := json.Marshal(map[string]any{
		"operation": "Patch",
		"path":      "notes.txt",
		"old_str":   "missing",
		"new_str":   "z",
	})
	res, err := writeTool.Invoke(context.Background(), patchParams)
	if err != nil {
		t.Fatalf("invoke error: %v", err)
	}
	if !res.IsError() || !strings.Contains(res.Content[0].Text, "PatchNotFound") {
		t.Fatalf("expected PatchNotFound, got %+v", res)
	}
}

func TestReadDirectoryAndSearch(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("line one\nneedle here\nline three"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg := Config{Workspace: root}
	readTool := NewReadTool(cfg)

	dirParams, _ := json.Marshal(map[string]any{
		"operations": []map[string]any{
			{"mode": "Directory", "path": ".", "depth": 1},
		},
	})
	dirRes, err := readTool.Invoke(context.Background(), dirParams)
	if err != nil || dirRes.IsError() {
		t.Fatalf("directory read failed: %v %+v", err, dirRes)
	}
	if !strings.Contains(dirRes.Content[0].Text, "a.txt") {
		t.Fatalf("expected a.txt in listing, got %s", dirRes.Content[0].Text)
	}

	searchParams, _ := json.Marshal(map[string]any{
		"operations": []map[string]any{
			{"mode": "Search", "path": ".", "pattern": "needle"},
		},
	})
	searchRes, err := readTool.Invoke(context.Background(), searchParams)
	if err != nil || searchRes.IsError() {
		t.Fatalf("search failed: %v %+v", err, searchRes)
	}
	if !strings.Contains(searchRes.Content[0].Text, "needle here") {
		t.Fatalf("expected match context, got %s", searchRes.Content[0].Text)
	}
}
