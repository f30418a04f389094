// Package thinking implements the thinking tool executor (C4): it echoes
// the provided text back as a text content block, with no side effects.
package thinking

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

type thinkingInput struct {
	Thought string `json:"thought"`
}

// Tool implements thinking.
type Tool struct{}

// New creates the thinking tool.
func New() *Tool { return &Tool{} }

func (t *Tool) Name() string        { return "thinking" }
func (t *Tool) Description() string { return "Record an intermediate reasoning step; produces no side effects." }
func (t *Tool) ReadOnly() bool      { return true }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type":       "object",
		"properties": map[string]any{"thought": map[string]any{"type": "string"}},
		"required":   []string{"thought"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in thinkingInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid thinking input: %v", err)), nil
	}
	return tools.Text(in.Thought), nil
}
