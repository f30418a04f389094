package streamparse

import (
	"encoding/json"
	"fmt"
	"strings"
)

// state is the parser's internal cursor, per spec.md §4.2: Idle →
// StreamingText → BufferingToolInput → Idle.
type state int

const (
	stateIdle state = iota
	stateStreamingText
	stateBufferingToolInput
)

// Parser consumes RawEvents from a Backend Transport and emits normalized
// Events. It is not safe for concurrent use by multiple goroutines; its
// tool-input buffer is owned by one parser task and handed off as an owned
// JSON value at stop. It buffers one tool use at a time (the one opened by
// the latest tool_use_start): deltas are not keyed by tool-use id, so
// interleaved tool uses are not supported.
type Parser struct {
	st state

	curToolID   string
	curToolName string
	curInput    strings.Builder
}

// New creates a Parser in the Idle state.
func New() *Parser { return &Parser{st: stateIdle} }

// Feed processes one RawEvent and returns zero or more normalized Events.
// Most raw events map to exactly one normalized event; ToolUseStop maps to
// zero if the accumulated JSON failed to parse (the error is reported via a
// separate EventError instead, so the caller can decide whether to retain
// the partial assistant text per spec.md §4.2's "Fails with MalformedToolInput"
// rule while keeping history fidelity).
func (p *Parser) Feed(raw RawEvent) []Event {
	switch raw.Type {
	case "text_delta":
		p.st = stateStreamingText
		if raw.Text == "" {
			return nil
		}
		return []Event{{Kind: EventAssistantText, TextChunk: raw.Text}}

	case "tool_use_start":
		p.st = stateBufferingToolInput
		p.curToolID = raw.ToolUseID
		p.curToolName = raw.ToolName
		p.curInput.Reset()
		return []Event{{Kind: EventToolUseStart, ToolUseID: raw.ToolUseID, ToolName: raw.ToolName}}

	case "tool_use_delta":
		if raw.PartialJSON == "" {
			return nil
		}
		p.curInput.WriteString(raw.PartialJSON)
		return []Event{{Kind: EventToolUseDelta, ToolUseID: p.curToolID, PartialJSON: raw.PartialJSON}}

	case "tool_use_stop":
		p.st = stateIdle
		raw := p.curInput.String()
		var parsed json.RawMessage
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			return []Event{{
				Kind: EventError,
				Err:  fmt.Errorf("malformed tool input for %s (%s): %w", p.curToolName, p.curToolID, err),
			}}
		}
		return []Event{{Kind: EventToolUseStop, ToolUseID: p.curToolID, ToolName: p.curToolName, ToolInput: parsed}}

	case "message_stop":
		p.st = stateIdle
		return []Event{{Kind: EventStop, InputTokens: raw.InputTokens, OutputTokens: raw.OutputTokens}}

	case "error":
		p.st = stateIdle
		return []Event{{Kind: EventError, Err: raw.Err}}

	default:
		return nil
	}
}
