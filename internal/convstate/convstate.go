// Package convstate implements the Conversation State (C7): the single
// mutable handle to a models.ConversationState for the lifetime of a
// session. It is owned exclusively by the Engine task (C10); every other
// component only ever sees a Snapshot copy.
//
// Grounded on the teacher's internal/agent/compaction.go (threshold-percent
// trigger shape, reworked here into an idempotent, caller-driven Compact
// call) and internal/agent/context/summarize.go's synthetic
// summary-message-with-metadata-markers pattern, adapted to spec.md §3's
// exact invariants instead of the teacher's external-memory-flush model.
package convstate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/qcore/internal/models"
)

// MaxHistoryMessages is the §3 invariant (ii) ceiling.
const MaxHistoryMessages = 100

// InvariantViolation is returned by a mutator that would break one of
// spec.md §3's invariants.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string { return "invariant violation: " + e.Reason }

// Summarize produces a textual digest of the messages being compacted away.
type Summarize func(ctx context.Context, msgs []*models.Message) (string, error)

// EstimateTokens approximates the token count of a message slice, per
// SPEC_FULL.md's 4-chars-per-token heuristic (the concrete implementation
// lives in ctxassembler so both it and convstate share one estimator).
type EstimateTokens func(msgs []*models.Message) int

// CompactConfig parameterizes one Compact call.
type CompactConfig struct {
	Summarize      Summarize
	KeepLastTurns  int
	EstimateTokens EstimateTokens
	Ceiling        int
}

// State owns one ConversationState and enforces §3's invariants across every
// mutation. Not safe to share across goroutines other than through its
// methods, which take an internal lock.
type State struct {
	mu      sync.Mutex
	data    models.ConversationState
	pending map[string]bool // tool_use_id -> unresolved
}

// New starts a fresh conversation with a freshly generated conversation id.
func New(agentID string) *State {
	return &State{
		data:    models.ConversationState{ConversationID: uuid.NewString(), CurrentAgentID: agentID},
		pending: map[string]bool{},
	}
}

// Restore rehydrates a State from a previously persisted snapshot (e.g.
// /load), recomputing pending tool-uses from the tail of history.
func Restore(snapshot models.ConversationState) *State {
	s := &State{data: snapshot.Clone(), pending: map[string]bool{}}
	s.recomputePendingLocked()
	return s
}

func (s *State) recomputePendingLocked() {
	s.pending = map[string]bool{}
	for _, m := range s.data.Messages {
		switch m.Role {
		case models.RoleAssistant:
			for _, tu := range m.ToolUses {
				s.pending[tu.ID] = true
			}
		case models.RoleToolResult:
			if m.ToolResult != nil {
				delete(s.pending, m.ToolResult.ToolUseID)
			}
		}
	}
}

// ConversationID returns the session's conversation id.
func (s *State) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.ConversationID
}

// PushUser appends a User message. Rejected with InvariantViolation if the
// prior Assistant message still has unresolved tool-uses (invariant i).
func (s *State) PushUser(prompt string, ctx *models.UserInputContext) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		return nil, &InvariantViolation{Reason: "cannot push user message while tool-uses are unresolved"}
	}
	msg := models.NewUserMessage(uuid.NewString(), prompt, ctx, time.Now())
	s.appendLocked(msg)
	return msg, nil
}

// PushAssistant appends an Assistant message carrying zero or more tool-uses.
// Rejected if a previous Assistant message's tool-uses are still unresolved.
func (s *State) PushAssistant(text string, uses []models.ToolUse) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) > 0 {
		return nil, &InvariantViolation{Reason: "cannot push assistant message while previous tool-uses are unresolved"}
	}
	msg := models.NewAssistantMessage(uuid.NewString(), text, uses, time.Now())
	s.appendLocked(msg)
	for _, tu := range uses {
		s.pending[tu.ID] = true
	}
	return msg, nil
}

// PushToolResult appends a ToolResult message answering a pending tool-use.
// Rejected if result.ToolUseID does not match an outstanding tool-use.
func (s *State) PushToolResult(result models.ToolResultMsg) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending[result.ToolUseID] {
		return nil, &InvariantViolation{Reason: fmt.Sprintf("tool_use_id %q is not pending", result.ToolUseID)}
	}
	delete(s.pending, result.ToolUseID)
	msg := models.NewToolResultMessage(uuid.NewString(), result, time.Now())
	s.appendLocked(msg)
	return msg, nil
}

// PendingToolUseCount reports how many tool-uses from the last Assistant
// message are still awaiting a ToolResult.
func (s *State) PendingToolUseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *State) appendLocked(msg *models.Message) {
	s.data.Messages = append(s.data.Messages, msg)
	for len(s.data.Messages) > MaxHistoryMessages {
		if !s.dropOldestPairLocked() {
			break
		}
	}
}

// DropOldestPairPreservingInvariants removes the oldest complete turn (one
// User message through the ToolResults/Assistant messages that precede the
// next User message), never splitting a tool-use/result cluster. Returns
// false if there is no complete turn to drop (the whole history is a single
// turn still in progress).
func (s *State) DropOldestPairPreservingInvariants() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropOldestPairLocked()
}

func (s *State) dropOldestPairLocked() bool {
	if len(s.data.Messages) == 0 {
		return false
	}
	end := len(s.data.Messages)
	for i := 1; i < len(s.data.Messages); i++ {
		if s.data.Messages[i].Role == models.RoleUser {
			end = i
			break
		}
	}
	if end == len(s.data.Messages) {
		// The entire remaining history is one turn; dropping it would not
		// preserve a usable conversation, so refuse.
		return false
	}
	remaining := make([]*models.Message, len(s.data.Messages)-end)
	copy(remaining, s.data.Messages[end:])
	s.data.Messages = remaining
	return true
}

// Compact implements §3 invariant (iii): when the outgoing envelope would
// exceed cfg.Ceiling tokens, summarize every turn older than the last
// cfg.KeepLastTurns into one synthetic User+Assistant digest pair and
// discard the originals. No-op (and idempotent) if the current history
// already fits within the ceiling.
func (s *State) Compact(ctx context.Context, cfg CompactConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		return &InvariantViolation{Reason: "cannot compact while tool-uses are unresolved"}
	}
	if cfg.EstimateTokens(s.data.Messages) <= cfg.Ceiling {
		return nil
	}

	var turnStarts []int
	for i, m := range s.data.Messages {
		if m.Role == models.RoleUser {
			turnStarts = append(turnStarts, i)
		}
	}
	keep := cfg.KeepLastTurns
	if keep < 0 {
		keep = 0
	}
	if len(turnStarts) <= keep {
		return nil
	}
	boundary := turnStarts[len(turnStarts)-keep]
	if keep == 0 {
		boundary = len(s.data.Messages)
	}
	toSummarize := s.data.Messages[:boundary]
	if len(toSummarize) == 0 {
		return nil
	}

	digest, err := cfg.Summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("compact: summarize: %w", err)
	}

	now := time.Now()
	summaryUser := models.NewUserMessage(uuid.NewString(), "[compacted history digest follows]", nil, now)
	summaryUser.Metadata = map[string]any{"is_summary": true}
	summaryAssistant := models.NewAssistantMessage(uuid.NewString(), digest, nil, now)
	summaryAssistant.Metadata = map[string]any{"is_summary": true}

	kept := make([]*models.Message, len(s.data.Messages)-boundary)
	copy(kept, s.data.Messages[boundary:])

	s.data.Messages = append([]*models.Message{summaryUser, summaryAssistant}, kept...)
	return nil
}

// Snapshot returns a deep-enough copy of the current state for readers (C6,
// /save, telemetry) without exposing the mutable internals.
func (s *State) Snapshot() models.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// History returns a copy of the message slice, newest last.
func (s *State) History() []*models.Message {
	return s.Snapshot().Messages
}

// AgentID returns the current-agent-id.
func (s *State) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CurrentAgentID
}
