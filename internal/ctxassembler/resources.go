package ctxassembler

import (
	"fmt"
	"os"
	"path/filepath"
)

// FSResourceLoader resolves `resources` glob patterns against a workspace
// root using filepath.Glob, reading each matched file's contents. Missing
// files and patterns with no matches are silently skipped, matching the
// teacher's tolerant resource-resolution behavior.
type FSResourceLoader struct {
	Root string
}

// Load implements ResourceLoader.
func (l FSResourceLoader) Load(patterns []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pattern := range patterns {
		full := pattern
		if l.Root != "" && !filepath.IsAbs(pattern) {
			full = filepath.Join(l.Root, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("resolve resource pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			data, err := os.ReadFile(m)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("read resource %q: %w", m, err)
			}
			rel := m
			if l.Root != "" {
				if r, err := filepath.Rel(l.Root, m); err == nil {
					rel = r
				}
			}
			out[rel] = string(data)
		}
	}
	return out, nil
}
