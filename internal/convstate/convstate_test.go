package convstate

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/corvid-labs/qcore/internal/models"
)

func TestPushAssistantThenMatchingToolResults(t *testing.T) {
	s := New("default")
	if _, err := s.PushUser("read README.md", nil); err != nil {
		t.Fatalf("push user: %v", err)
	}
	uses := []models.ToolUse{
		{ID: "t1", Name: "fs_read", Input: json.RawMessage(`{}`)},
		{ID: "t2", Name: "fs_read", Input: json.RawMessage(`{}`)},
	}
	if _, err := s.PushAssistant("reading", uses); err != nil {
		t.Fatalf("push assistant: %v", err)
	}
	if s.PendingToolUseCount() != 2 {
		t.Fatalf("expected 2 pending tool uses, got %d", s.PendingToolUseCount())
	}
	if _, err := s.PushToolResult(models.ToolResultMsg{ToolUseID: "t1", Status: models.ToolStatusSuccess}); err != nil {
		t.Fatalf("push tool result t1: %v", err)
	}
	// A second assistant message must be rejected while t2 is unresolved.
	if _, err := s.PushAssistant("too soon", nil); err == nil {
		t.Fatal("expected InvariantViolation pushing assistant before all tool-uses resolved")
	}
	if _, err := s.PushToolResult(models.ToolResultMsg{ToolUseID: "t2", Status: models.ToolStatusSuccess}); err != nil {
		t.Fatalf("push tool result t2: %v", err)
	}
	if s.PendingToolUseCount() != 0 {
		t.Fatal("expected no pending tool uses after both resolved")
	}
	// Now a new user message is allowed.
	if _, err := s.PushUser("next", nil); err != nil {
		t.Fatalf("push next user: %v", err)
	}
}

func TestPushToolResultRejectsUnknownID(t *testing.T) {
	s := New("default")
	if _, err := s.PushToolResult(models.ToolResultMsg{ToolUseID: "ghost"}); err == nil {
		t.Fatal("expected InvariantViolation for unknown tool_use_id")
	}
}

func TestHistoryBoundedAt100(t *testing.T) {
	s := New("default")
	for i := 0; i < 80; i++ {
		if _, err := s.PushUser("hi", nil); err != nil {
			t.Fatalf("push user %d: %v", i, err)
		}
		if _, err := s.PushAssistant("hello", nil); err != nil {
			t.Fatalf("push assistant %d: %v", i, err)
		}
	}
	if len(s.History()) > MaxHistoryMessages {
		t.Fatalf("history exceeded cap: %d > %d", len(s.History()), MaxHistoryMessages)
	}
}

func TestDropOldestPairNeverSplitsCluster(t *testing.T) {
	s := New("default")
	if _, err := s.PushUser("first", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushAssistant("doing it", []models.ToolUse{{ID: "a", Name: "fs_read"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushToolResult(models.ToolResultMsg{ToolUseID: "a", Status: models.ToolStatusSuccess}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushUser("second", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushAssistant("done", nil); err != nil {
		t.Fatal(err)
	}

	if !s.DropOldestPairPreservingInvariants() {
		t.Fatal("expected a complete turn to drop")
	}
	history := s.History()
	if len(history) != 2 || history[0].Role != models.RoleUser || history[0].Prompt != "second" {
		t.Fatalf("expected only the second turn to remain, got %+v", history)
	}
}

func TestDropOldestPairRefusesToSplitInProgressTurn(t *testing.T) {
	s := New("default")
	if _, err := s.PushUser("only turn", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushAssistant("working", []models.ToolUse{{ID: "a", Name: "fs_read"}}); err != nil {
		t.Fatal(err)
	}
	if s.DropOldestPairPreservingInvariants() {
		t.Fatal("expected refusal: only one in-progress turn exists")
	}
}

func TestCompactIsNoOpWhenWithinCeiling(t *testing.T) {
	s := New("default")
	if _, err := s.PushUser("hi", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PushAssistant("hello", nil); err != nil {
		t.Fatal(err)
	}
	before := s.History()
	called := false
	err := s.Compact(context.Background(), CompactConfig{
		Summarize:      func(ctx context.Context, msgs []*models.Message) (string, error) { called = true; return "digest", nil },
		KeepLastTurns:  1,
		EstimateTokens: func(msgs []*models.Message) int { return 10 },
		Ceiling:        1000,
	})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if called {
		t.Fatal("summarize should not be called when already within ceiling")
	}
	if len(s.History()) != len(before) {
		t.Fatal("expected no-op compact to leave history unchanged")
	}
}

func TestCompactSummarizesOlderTurnsAndIsIdempotentAfter(t *testing.T) {
	s := New("default")
	for i := 0; i < 5; i++ {
		if _, err := s.PushUser("turn", nil); err != nil {
			t.Fatal(err)
		}
		if _, err := s.PushAssistant("reply", nil); err != nil {
			t.Fatal(err)
		}
	}

	overCeiling := true
	err := s.Compact(context.Background(), CompactConfig{
		Summarize:     func(ctx context.Context, msgs []*models.Message) (string, error) { return "digest of older turns", nil },
		KeepLastTurns: 1,
		EstimateTokens: func(msgs []*models.Message) int {
			if overCeiling {
				return 100000
			}
			return 10
		},
		Ceiling: 1000,
	})
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	history := s.History()
	if len(history) != 4 { // summary user+assistant + last kept turn (user+assistant)
		t.Fatalf("expected 4 messages after compaction, got %d: %+v", len(history), history)
	}
	if !history[0].IsSummary() || !history[1].IsSummary() {
		t.Fatal("expected the first pair to be flagged as a compaction summary")
	}

	// Idempotence: once the heuristic reports the state fits, a second
	// compact call must be a no-op.
	overCeiling = false
	if err := s.Compact(context.Background(), CompactConfig{
		Summarize:     func(ctx context.Context, msgs []*models.Message) (string, error) { return "should not run", nil },
		KeepLastTurns: 1,
		EstimateTokens: func(msgs []*models.Message) int {
			return 10
		},
		Ceiling: 1000,
	}); err != nil {
		t.Fatalf("second compact: %v", err)
	}
	if len(s.History()) != len(history) {
		t.Fatal("expected idempotent compact to leave an already-compacted, in-ceiling history unchanged")
	}
}

func TestRestoreRecomputesPendingToolUses(t *testing.T) {
	now := time.Now()
	snapshot := models.ConversationState{
		ConversationID: "c1",
		CurrentAgentID: "default",
		Messages: []*models.Message{
			models.NewUserMessage("u1", "hi", nil, now),
			models.NewAssistantMessage("a1", "", []models.ToolUse{{ID: "t1", Name: "fs_read"}}, now),
		},
	}
	s := Restore(snapshot)
	if s.PendingToolUseCount() != 1 {
		t.Fatalf("expected 1 pending tool use restored, got %d", s.PendingToolUseCount())
	}
	if _, err := s.PushUser("too soon", nil); err == nil {
		t.Fatal("expected push user to be rejected with a pending tool use")
	}
}
