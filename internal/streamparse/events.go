// Package streamparse implements the Stream Parser (C2): it consumes raw,
// provider-specific streaming events from a Backend Transport (C1) and
// demultiplexes them into a normalized, provider-independent event sequence.
//
// This is the part of spec.md §4.2 that the teacher inlines directly inside
// AnthropicProvider.processStream (internal/agent/providers/anthropic.go);
// here it is extracted into its own state machine so both C1 variants
// (Primary, AlternativeProvider) can share one parser instead of duplicating
// the per-id tool-input-buffering logic.
package streamparse

import "encoding/json"

// EventKind tags the variant of a normalized Event.
type EventKind string

const (
	EventAssistantText EventKind = "assistant_text"
	EventToolUseStart  EventKind = "tool_use_start"
	EventToolUseDelta  EventKind = "tool_use_delta"
	EventToolUseStop   EventKind = "tool_use_stop"
	EventStop          EventKind = "stop"
	EventError         EventKind = "error"
)

// Event is the normalized, provider-independent event the parser emits.
type Event struct {
	Kind EventKind

	// AssistantText
	TextChunk string

	// ToolUseStart
	ToolUseID   string
	ToolName    string

	// ToolUseDelta: partial JSON fragment for ToolUseID.
	PartialJSON string

	// ToolUseStop: the fully parsed input, or Err set to MalformedToolInput.
	ToolInput json.RawMessage

	// Stop
	InputTokens  int
	OutputTokens int

	// Error
	Err error
}

// RawEvent is the provider-specific event shape a Backend Transport (C1)
// produces. Providers translate their SSE/stream payloads into RawEvent
// before handing them to the Parser, so the parser itself never imports a
// provider SDK.
type RawEvent struct {
	Type string // e.g. "text_delta", "tool_use_start", "tool_use_delta", "tool_use_stop", "message_stop", "error"

	Text string

	ToolUseID string
	ToolName  string

	PartialJSON string

	InputTokens  int
	OutputTokens int

	Err error
}
