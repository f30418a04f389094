package files

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

// ReadMode selects one fs_read operation's behavior.
type ReadMode string

const (
	ModeLine      ReadMode = "Line"
	ModeDirectory ReadMode = "Directory"
	ModeSearch    ReadMode = "Search"
	ModeImage     ReadMode = "Image"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace string
}

type readOperation struct {
	Mode      ReadMode `json:"mode"`
	Path      string   `json:"path"`
	StartLine int      `json:"start_line,omitempty"`
	EndLine   int      `json:"end_line,omitempty"`
	Depth     int      `json:"depth,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
}

type readInput struct {
	Operations []readOperation `json:"operations"`
}

// ReadTool implements fs_read: Line/Directory/Search/Image operations over
// the workspace, grounded on internal/tools/files/read.go's
// resolve-then-os.Open shape.
type ReadTool struct {
	resolver Resolver
}

// NewReadTool creates an fs_read executor scoped to cfg.Workspace.
func NewReadTool(cfg Config) *ReadTool { return &ReadTool{resolver: Resolver{Root: cfg.Workspace}} }

func (t *ReadTool) Name() string        { return "fs_read" }
func (t *ReadTool) Description() string { return "Read files or directories in the workspace." }
func (t *ReadTool) ReadOnly() bool      { return true }

func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"mode":       map[string]any{"type": "string", "enum": []string{"Line", "Directory", "Search", "Image"}},
						"path":       map[string]any{"type": "string"},
						"start_line": map[string]any{"type": "integer"},
						"end_line":   map[string]any{"type": "integer"},
						"depth":      map[string]any{"type": "integer"},
						"pattern":    map[string]any{"type": "string"},
					},
					"required": []string{"mode", "path"},
				},
			},
		},
		"required": []string{"operations"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *ReadTool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in readInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid fs_read input: %v", err)), nil
	}
	if len(in.Operations) == 0 {
		return tools.Errorf("operations is required"), nil
	}

	var blocks []models.ContentBlock
	for _, op := range in.Operations {
		resolved, err := t.resolver.Resolve(op.Path)
		if err != nil {
			return tools.Errorf(err.Error()), nil
		}
		var block models.ContentBlock
		switch op.Mode {
		case ModeLine:
			block, err = readLines(resolved, op.StartLine, op.EndLine)
		case ModeDirectory:
			block, err = readDirectory(resolved, op.Depth)
		case ModeSearch:
			block, err = searchFiles(resolved, op.Pattern)
		case ModeImage:
			block, err = readImage(resolved)
		default:
			err = fmt.Errorf("unknown mode %q", op.Mode)
		}
		if err != nil {
			return tools.Errorf(err.Error()), nil
		}
		blocks = append(blocks, block)
	}

	return &models.ToolResultMsg{Status: models.ToolStatusSuccess, Content: blocks}, nil
}

func readLines(path string, start, end int) (models.ContentBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ContentBlock{}, fmt.Errorf("open file: %w", err)
	}
	if start == 0 && end == 0 {
		return models.ContentBlock{Type: models.ContentText, Text: string(data)}, nil
	}
	lines := strings.Split(string(data), "\n")
	if start < 1 {
		start = 1
	}
	if end < start || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) {
		return models.ContentBlock{Type: models.ContentText, Text: ""}, nil
	}
	return models.ContentBlock{Type: models.ContentText, Text: strings.Join(lines[start-1:end], "\n")}, nil
}

func readDirectory(root string, depth int) (models.ContentBlock, error) {
	if depth <= 0 {
		depth = 1
	}
	baseDepth := strings.Count(filepath.Clean(root), string(filepath.Separator))
	var sb strings.Builder
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		curDepth := strings.Count(filepath.Clean(path), string(filepath.Separator)) - baseDepth
		if curDepth > depth {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			sb.WriteString(rel + "/\n")
		} else {
			sb.WriteString(rel + "\n")
		}
		return nil
	})
	if err != nil {
		return models.ContentBlock{}, fmt.Errorf("list directory: %w", err)
	}
	return models.ContentBlock{Type: models.ContentText, Text: sb.String()}, nil
}

func searchFiles(root, pattern string) (models.ContentBlock, error) {
	if pattern == "" {
		return models.ContentBlock{}, fmt.Errorf("pattern is required for Search mode")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return models.ContentBlock{}, fmt.Errorf("invalid pattern: %w", err)
	}

	var sb strings.Builder
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		lines := strings.Split(string(data), "\n")
		for i, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			rel, _ := filepath.Rel(root, path)
			if rel == "" || rel == "." {
				rel = filepath.Base(path)
			}
			lo := maxInt(0, i-2)
			hi := minInt(len(lines), i+3)
			fmt.Fprintf(&sb, "%s:%d:\n%s\n\n", rel, i+1, strings.Join(lines[lo:hi], "\n"))
		}
		return nil
	})
	if walkErr != nil {
		return models.ContentBlock{}, fmt.Errorf("search: %w", walkErr)
	}
	return models.ContentBlock{Type: models.ContentText, Text: sb.String()}, nil
}

func readImage(path string) (models.ContentBlock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ContentBlock{}, fmt.Errorf("open image: %w", err)
	}
	mime := "image/png"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	}
	return models.ContentBlock{
		Type:      models.ContentImage,
		ImageData: base64.StdEncoding.EncodeToString(data),
		MimeType:  mime,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
