// Package ctxassembler implements the Context Assembler (C6): it builds the
// Envelope the engine sends to a Backend Transport (C1) for each request,
// combining ConversationState (C7) history, the active AgentManifest (C8),
// an environment snapshot, resolved resource files and cached hook outputs
// (C9).
//
// Grounded on the teacher's internal/agent/context/packer.go (budget-bounded
// message selection) and internal/agent/context/summarize.go (synthetic
// digest message shape), reworked around spec.md §4.6's fixed Envelope
// layout and literal sentinel strings instead of the teacher's provider-
// specific packing heuristics.
package ctxassembler

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/corvid-labs/qcore/internal/convstate"
	"github.com/corvid-labs/qcore/internal/hookrunner"
	"github.com/corvid-labs/qcore/internal/models"
)

const (
	userMessageBegin = "--- USER MESSAGE BEGIN ---\n"
	userMessageEnd   = "\n--- USER MESSAGE END ---\n\n"
	contextEntryBegin = "--- CONTEXT ENTRY BEGIN ---\n"
	contextEntryEnd   = "\n--- CONTEXT ENTRY END ---"
)

// CharsPerToken is SPEC_FULL.md's resolved token-estimation heuristic: 4
// characters approximate 1 token, applied uniformly to history, system
// prompt, tool specs and tool results.
const CharsPerToken = 4

// baseSystemPrompt is the fixed preamble every agent's system prompt starts
// from, before the agent description, resources and hooks sections.
const baseSystemPrompt = "You are qcore, a terminal coding agent. Use the available tools to read and modify the local workspace on the user's behalf."

// Assembler builds envelopes for one agent manifest.
type Assembler struct {
	manifest  *models.AgentManifest
	resources ResourceLoader
	hooks     *hookrunner.Runner

	// agentSpawnOutput is captured once at session start (New) and
	// baked permanently into every system prompt thereafter, per spec.md §4.9.
	agentSpawnOutput string
}

// ResourceLoader resolves an AgentManifest's `resources` glob entries into
// file contents. A real implementation globs against the workspace root;
// tests can substitute a fixed map.
type ResourceLoader interface {
	Load(patterns []string) (map[string]string, error)
}

// New constructs an Assembler bound to manifest, running AgentSpawn hooks
// once immediately so their output is available for every envelope this
// session builds.
func New(ctx context.Context, manifest *models.AgentManifest, resources ResourceLoader, hooks *hookrunner.Runner) (*Assembler, error) {
	a := &Assembler{manifest: manifest, resources: resources, hooks: hooks}
	if hooks != nil {
		out, err := hooks.RunAgentSpawn(ctx)
		if err != nil {
			return nil, fmt.Errorf("ctxassembler: agent_spawn hooks: %w", err)
		}
		a.agentSpawnOutput = out
	}
	return a, nil
}

// BuildEnvelope assembles the Envelope for one outgoing request. prompt is
// empty for the Auto-triggered follow-up request sent after tool results.
func (a *Assembler) BuildEnvelope(ctx context.Context, state *convstate.State, toolSpecs []models.ToolSpec, prompt string, priorResults []models.ToolResultMsg, trigger models.ChatTriggerType) (models.Envelope, error) {
	systemPrompt, err := a.buildSystemPrompt(ctx, prompt)
	if err != nil {
		return models.Envelope{}, err
	}

	snap := state.Snapshot()

	var current *models.Message
	if prompt != "" {
		wrapped := userMessageBegin + prompt + userMessageEnd
		resourceEntries, err := a.resourceEntries()
		if err != nil {
			return models.Envelope{}, err
		}
		current = &models.Message{
			Role:   models.RoleUser,
			Prompt: wrapped,
			Context: &models.UserInputContext{
				EnvState:       SnapshotEnvironment(ctx),
				ToolSpecs:      toolSpecs,
				ToolResults:    priorResults,
				ContextEntries: resourceEntries,
			},
		}
	}

	return models.Envelope{
		ConversationID: snap.ConversationID,
		AgentName:      a.manifest.Name,
		SystemPrompt:   systemPrompt,
		ToolSpecs:      toolSpecs,
		History:        snap.Messages,
		CurrentMessage: current,
		Trigger:        trigger,
	}, nil
}

func (a *Assembler) buildSystemPrompt(ctx context.Context, prompt string) (string, error) {
	var sb strings.Builder
	sb.WriteString(baseSystemPrompt)
	if a.manifest.Description != "" {
		sb.WriteString("\n\n## Agent\n")
		sb.WriteString(a.manifest.Description)
	}

	if entries, err := a.resourceSection(); err != nil {
		return "", err
	} else if entries != "" {
		sb.WriteString("\n\n## Resources\n")
		sb.WriteString(entries)
	}

	if a.agentSpawnOutput != "" {
		sb.WriteString("\n\n## Session context\n")
		sb.WriteString(a.agentSpawnOutput)
	}

	if a.hooks != nil && prompt != "" {
		out, err := a.hooks.RunUserPromptSubmit(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("user_prompt_submit hooks: %w", err)
		}
		if out != "" {
			sb.WriteString("\n\n## Prompt context\n")
			sb.WriteString(out)
		}
	}

	return sb.String(), nil
}

func (a *Assembler) resourceSection() (string, error) {
	entries, err := a.resourceEntries()
	if err != nil {
		return "", err
	}
	return strings.Join(entries, "\n"), nil
}

func (a *Assembler) resourceEntries() ([]string, error) {
	if a.resources == nil || len(a.manifest.Resources) == 0 {
		return nil, nil
	}
	files, err := a.resources.Load(a.manifest.Resources)
	if err != nil {
		return nil, fmt.Errorf("resolve resources: %w", err)
	}
	entries := make([]string, 0, len(files))
	for path, content := range files {
		entries = append(entries, contextEntryBegin+path+"\n"+content+contextEntryEnd)
	}
	return entries, nil
}

// SnapshotEnvironment captures the {os, cwd, env subset, shell} triple for
// the current process, resolving AWS_REGION/AWS_PROFILE the same way the aws
// CLI would so use_aws's effective configuration matches what the model sees.
func SnapshotEnvironment(ctx context.Context) models.EnvSnapshot {
	cwd, _ := os.Getwd()
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}

	env := map[string]string{}
	if cfg, err := awsconfig.LoadDefaultConfig(ctx); err == nil {
		if cfg.Region != "" {
			env["AWS_REGION"] = cfg.Region
		}
	}
	if v := os.Getenv("AWS_PROFILE"); v != "" {
		env["AWS_PROFILE"] = v
	}
	for _, k := range []string{"Q_LOG_LEVEL", "Q_CONFIG_DIR", "NO_COLOR"} {
		if v := os.Getenv(k); v != "" {
			env[k] = v
		}
	}

	return models.EnvSnapshot{OS: runtime.GOOS, Cwd: cwd, Shell: shell, Env: env}
}

// EstimateTokens implements the 4-chars-per-token heuristic over a message
// slice, shared by convstate.CompactConfig and the engine's overflow check.
func EstimateTokens(msgs []*models.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Prompt) + len(m.Text)
		if m.ToolResult != nil {
			for _, b := range m.ToolResult.Content {
				total += len(b.Text) + len(b.JSON)
			}
		}
		for _, tu := range m.ToolUses {
			total += len(tu.Input)
		}
	}
	return total / CharsPerToken
}

// EstimateEnvelopeTokens extends EstimateTokens to the full outgoing
// envelope: history, system prompt and tool specs all count toward
// MODEL_CONTEXT_CEILING per SPEC_FULL.md §0.
func EstimateEnvelopeTokens(env models.Envelope) int {
	total := EstimateTokens(env.History)
	total += len(env.SystemPrompt) / CharsPerToken
	for _, spec := range env.ToolSpecs {
		total += (len(spec.Description) + len(spec.InputSchema)) / CharsPerToken
	}
	if env.CurrentMessage != nil {
		total += EstimateTokens([]*models.Message{env.CurrentMessage})
	}
	return total
}
