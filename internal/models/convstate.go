package models

// ConversationState is the ordered, mutable history described by the engine's
// data model: conversation-id, current-agent-id and the Message sequence.
// The type itself is a plain data holder; push/compact/drop mutators that
// enforce the invariants live in package convstate, which owns the only
// mutable handle to a ConversationState for the lifetime of a session.
type ConversationState struct {
	ConversationID string     `json:"conversation_id"`
	CurrentAgentID string     `json:"current_agent_id"`
	Messages       []*Message `json:"messages"`
}

// Clone returns a deep-enough copy for snapshot reads: the Messages slice and
// its Message pointers are copied, so callers can't mutate convstate's
// internal slice through the returned value, but ContentBlock slices nested
// inside a ToolResultMsg are shared (read-only after construction in
// practice).
func (s ConversationState) Clone() ConversationState {
	out := ConversationState{ConversationID: s.ConversationID, CurrentAgentID: s.CurrentAgentID}
	out.Messages = make([]*Message, len(s.Messages))
	for i, m := range s.Messages {
		cp := *m
		out.Messages[i] = &cp
	}
	return out
}
