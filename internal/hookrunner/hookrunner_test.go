package hookrunner

import (
	"context"
	"strings"
	"testing"

	"github.com/corvid-labs/qcore/internal/models"
)

func TestRunAgentSpawnConcatenatesOutputs(t *testing.T) {
	manifest := &models.AgentManifest{
		Hooks: map[models.HookTrigger][]models.HookSpec{
			models.HookAgentSpawn: {
				{Command: "echo one"},
				{Command: "echo two"},
			},
		},
	}
	r := New(manifest, nil)
	defer r.Close()

	out, err := r.RunAgentSpawn(context.Background())
	if err != nil {
		t.Fatalf("run agent spawn: %v", err)
	}
	if !strings.Contains(out, "one") || !strings.Contains(out, "two") {
		t.Fatalf("expected both hook outputs, got %q", out)
	}
}

func TestRunUserPromptSubmitCachesPerPrompt(t *testing.T) {
	manifest := &models.AgentManifest{
		Hooks: map[models.HookTrigger][]models.HookSpec{
			models.HookUserPromptSubmit: {
				{Command: "date +%N", CacheTTLSeconds: 60},
			},
		},
	}
	r := New(manifest, nil)
	defer r.Close()

	first, err := r.RunUserPromptSubmit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.RunUserPromptSubmit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first != second {
		t.Fatalf("expected cached output to match: %q != %q", first, second)
	}
}

func TestRunOneTagsTimeout(t *testing.T) {
	manifest := &models.AgentManifest{}
	r := New(manifest, nil)
	defer r.Close()

	out := r.runOne(context.Background(), models.HookSpec{Command: "sleep 2", TimeoutMs: 10}, "")
	if !strings.Contains(out, "HookTimeout") {
		t.Fatalf("expected HookTimeout tag, got %q", out)
	}
}

func TestMaxOutputSizeTruncates(t *testing.T) {
	manifest := &models.AgentManifest{}
	r := New(manifest, nil)
	defer r.Close()

	out := r.runOne(context.Background(), models.HookSpec{Command: "printf 'abcdefghij'", MaxOutputSize: 4}, "")
	if !strings.Contains(out, "...[truncated]") {
		t.Fatalf("expected truncation marker, got %q", out)
	}
}
