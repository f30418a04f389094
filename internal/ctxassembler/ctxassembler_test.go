package ctxassembler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/corvid-labs/qcore/internal/convstate"
	"github.com/corvid-labs/qcore/internal/models"
)

type fixedResources struct{ files map[string]string }

func (f fixedResources) Load(patterns []string) (map[string]string, error) { return f.files, nil }

func TestBuildEnvelopeWrapsUserMessageWithSentinels(t *testing.T) {
	manifest := &models.AgentManifest{Name: "default", Description: "test agent"}
	a, err := New(context.Background(), manifest, fixedResources{}, nil)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	state := convstate.New("default")

	env, err := a.BuildEnvelope(context.Background(), state, nil, "read README.md", nil, models.TriggerManual)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if !strings.HasPrefix(env.CurrentMessage.Prompt, userMessageBegin) {
		t.Fatalf("expected USER MESSAGE BEGIN sentinel, got %q", env.CurrentMessage.Prompt)
	}
	if !strings.Contains(env.CurrentMessage.Prompt, "USER MESSAGE END") {
		t.Fatalf("expected USER MESSAGE END sentinel, got %q", env.CurrentMessage.Prompt)
	}
	if env.ConversationID != state.ConversationID() {
		t.Fatalf("expected envelope conversation id to match state, got %q vs %q", env.ConversationID, state.ConversationID())
	}
}

func TestBuildEnvelopeIncludesResourcesInSystemPrompt(t *testing.T) {
	manifest := &models.AgentManifest{Name: "default", Resources: []string{"README.md"}}
	a, err := New(context.Background(), manifest, fixedResources{files: map[string]string{"README.md": "hello world"}}, nil)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	state := convstate.New("default")

	env, err := a.BuildEnvelope(context.Background(), state, nil, "hi", nil, models.TriggerManual)
	if err != nil {
		t.Fatalf("build envelope: %v", err)
	}
	if !strings.Contains(env.SystemPrompt, contextEntryBegin) || !strings.Contains(env.SystemPrompt, "hello world") {
		t.Fatalf("expected resource content wrapped in context entry sentinels, got %q", env.SystemPrompt)
	}
}

func TestEstimateTokensCountsFourCharsPerToken(t *testing.T) {
	msgs := []*models.Message{
		models.NewUserMessage("u1", "abcdefgh", nil, time.Now()),
	}
	if got := EstimateTokens(msgs); got != 2 {
		t.Fatalf("expected 2 tokens for 8 chars, got %d", got)
	}
}
