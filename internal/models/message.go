// Package models holds the data types shared across the conversation engine:
// messages, conversation state, agent manifests, tool specs and permission
// decisions, as described by the engine's data model.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies which side of the conversation produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ContentBlockType tags the variant of a ContentBlock.
type ContentBlockType string

const (
	ContentText  ContentBlockType = "text"
	ContentJSON  ContentBlockType = "json"
	ContentImage ContentBlockType = "image"
)

// ContentBlock is a tagged union of the content a ToolResult can carry.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`
	Text string           `json:"text,omitempty"`
	JSON json.RawMessage  `json:"json,omitempty"`
	// ImageData is base64-encoded image bytes, present when Type == ContentImage.
	ImageData string `json:"image_data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
}

// ToolUse is a single tool invocation requested by the assistant.
type ToolUse struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultStatus is success or error for a completed tool call.
type ToolResultStatus string

const (
	ToolStatusSuccess ToolResultStatus = "success"
	ToolStatusError   ToolResultStatus = "error"
)

// UserInputContext carries the environment snapshot, declared tool specs and
// prior tool results attached to a User message, per the envelope's
// current_message.context.
type UserInputContext struct {
	EnvState    EnvSnapshot     `json:"env_state"`
	ToolSpecs   []ToolSpec      `json:"tool_specs,omitempty"`
	ToolResults []ToolResultMsg `json:"tool_results,omitempty"`
	Images      []ContentBlock  `json:"images,omitempty"`
	// ContextEntries are resolved `resources` file excerpts, already wrapped
	// in the CONTEXT ENTRY sentinels by the context assembler.
	ContextEntries []string `json:"context_entries,omitempty"`
}

// EnvSnapshot is the {os, cwd, env subset, shell} environment snapshot.
type EnvSnapshot struct {
	OS    string            `json:"os"`
	Cwd   string            `json:"cwd"`
	Shell string            `json:"shell"`
	Env   map[string]string `json:"env,omitempty"`
}

// Message is the tagged-variant {User | Assistant | ToolResult} described by
// the data model. Role selects the variant; only that variant's fields below
// are set.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`

	// User fields (Role == RoleUser).
	Prompt  string            `json:"prompt,omitempty"`
	Context *UserInputContext `json:"context,omitempty"`

	// Assistant fields (Role == RoleAssistant).
	Text     string    `json:"text,omitempty"`
	ToolUses []ToolUse `json:"tool_uses,omitempty"`

	// ToolResult fields (Role == RoleToolResult).
	ToolResult *ToolResultMsg `json:"tool_result,omitempty"`

	// Metadata carries compaction bookkeeping (see convstate summary markers).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ToolResultMsg is the {tool_use_id, status, content} tool result payload.
type ToolResultMsg struct {
	ToolUseID string           `json:"tool_use_id"`
	Status    ToolResultStatus `json:"status"`
	Content   []ContentBlock   `json:"content"`
}

// IsError reports whether this result represents a failed tool call.
func (t ToolResultMsg) IsError() bool { return t.Status == ToolStatusError }

// NewUserMessage constructs a User message.
func NewUserMessage(id, prompt string, ctx *UserInputContext, at time.Time) *Message {
	return &Message{ID: id, Role: RoleUser, Prompt: prompt, Context: ctx, CreatedAt: at}
}

// NewAssistantMessage constructs an Assistant message.
func NewAssistantMessage(id, text string, uses []ToolUse, at time.Time) *Message {
	return &Message{ID: id, Role: RoleAssistant, Text: text, ToolUses: uses, CreatedAt: at}
}

// NewToolResultMessage constructs a ToolResult message.
func NewToolResultMessage(id string, result ToolResultMsg, at time.Time) *Message {
	return &Message{ID: id, Role: RoleToolResult, ToolResult: &result, CreatedAt: at}
}

// IsSummary reports whether this message is a synthetic compaction digest
// produced by ConversationState.compact, which flags it via Metadata["is_summary"].
func (m *Message) IsSummary() bool {
	if m == nil || m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["is_summary"]
	return ok && v == true
}
