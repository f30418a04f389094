// Package files implements the fs_read and fs_write built-in tool
// executors (C4). Resolver is kept close to the teacher's
// internal/tools/files/resolver.go; the tools themselves are rebuilt
// around spec.md §4.4's operations-array contract (Line/Directory/
// Search/Image for fs_read; Create/Overwrite/Patch/Append for fs_write)
// instead of the teacher's single-path offset/byte-limit read and
// overwrite-or-append write.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver resolves and validates workspace-relative paths, rejecting any
// path whose canonical form escapes the configured workspace root. An empty
// Root means the agent is not workspace-scoped: any path is accepted as-is.
type Resolver struct {
	Root string
}

// Resolve returns an absolute, cleaned path within the workspace root.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		return filepath.Abs(filepath.Clean(clean))
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes workspace")
	}
	return targetAbs, nil
}
