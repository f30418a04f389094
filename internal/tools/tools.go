// Package tools defines the common Tool Executor contract (C4) shared by
// every built-in tool: invoke(input, cancel) -> ToolOutput, output capped at
// 30 KiB with a truncation marker on overflow, per spec.md §4.4.
//
// Grounded on the shape of internal/tools/files's per-tool Execute methods
// (haasonsaas-nexus), generalized into one Executor interface so C3/C10 can
// dispatch without a type switch per tool.
package tools

import (
	"context"
	"encoding/json"

	"github.com/corvid-labs/qcore/internal/models"
)

// MaxOutputBytes is the per-invocation output cap from spec.md §4.4.
const MaxOutputBytes = 30 * 1024

const truncationMarker = "\n...[truncated]"

// Executor is one built-in tool implementation.
type Executor interface {
	Name() string
	Description() string
	Schema() json.RawMessage
	// ReadOnly reports whether this executor is safe to run concurrently
	// with other read-only executors in the same turn (spec.md §4.10 step 6).
	ReadOnly() bool
	Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error)
}

// Text builds a success ToolResultMsg from plain text, truncating to
// MaxOutputBytes.
func Text(text string) *models.ToolResultMsg {
	return &models.ToolResultMsg{
		Status:  models.ToolStatusSuccess,
		Content: []models.ContentBlock{{Type: models.ContentText, Text: truncate(text)}},
	}
}

// ReadOnlyInput is implemented by executors whose read-only status depends
// on the invocation input rather than being fixed per tool — execute_bash is
// read-only only when every pipeline segment of its command is a recognized
// read-only command (toolspolicy.ClassifyReadOnly). Executors for which this
// doesn't apply just report a fixed ReadOnly().
type ReadOnlyInput interface {
	IsReadOnlyInput(input json.RawMessage) bool
}

// Errorf builds an error ToolResultMsg.
func Errorf(text string) *models.ToolResultMsg {
	return &models.ToolResultMsg{
		Status:  models.ToolStatusError,
		Content: []models.ContentBlock{{Type: models.ContentText, Text: truncate(text)}},
	}
}

func truncate(s string) string {
	if len(s) <= MaxOutputBytes {
		return s
	}
	cut := MaxOutputBytes - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return s[:cut] + truncationMarker
}
