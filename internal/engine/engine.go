// Package engine implements the Agent Conversation Engine (C10): the single
// driver loop that ties the Backend Transport (C1), Stream Parser (C2), Tool
// Permission Policy (C3), Tool Executors (C4), MCP Registry (C5), Context
// Assembler (C6), Conversation State (C7), Agent Loader (C8) and Hook Runner
// (C9) together into one user turn, per spec.md §4.10.
//
// Grounded on the teacher's internal/agent/loop.go (the turn-loop shape:
// stream, buffer tool calls, execute, append, repeat), internal/agent/
// tool_exec.go (concurrent-vs-sequential tool dispatch) and
// internal/agent/approval.go (the interactive y/n gate before a mutating
// tool runs), reworked around spec.md's exact 8-step turn algorithm and
// invariant-enforcing C7 instead of the teacher's best-effort history slice.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/corvid-labs/qcore/internal/backend"
	"github.com/corvid-labs/qcore/internal/convstate"
	"github.com/corvid-labs/qcore/internal/ctxassembler"
	"github.com/corvid-labs/qcore/internal/mcpclient"
	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/telemetry"
	"github.com/corvid-labs/qcore/internal/tools"
	"github.com/corvid-labs/qcore/internal/toolspolicy"
)

// retryBase/retryJitter/maxRetryAttempts (with a backoff multiplier of 2
// passed inline) implement spec.md §4.10 step 3's transient-transport-error
// retry: base 500ms, factor 2, ±20% jitter, 3 attempts.
const (
	retryBase        = 500 * time.Millisecond
	retryJitter      = 0.2
	maxRetryAttempts = 3
)

// CompactionCeiling is the default MODEL_CONTEXT_CEILING (in estimated
// tokens) beyond which the engine compacts history before sending, per
// SPEC_FULL.md §0.
const CompactionCeiling = 150_000

// KeepLastTurns bounds how many recent turns Compact preserves verbatim.
const KeepLastTurns = 4

// Engine drives one agent's conversation for the lifetime of a session.
type Engine struct {
	State     *convstate.State
	Assembler *ctxassembler.Assembler
	Backend   backend.Provider
	Policy    *toolspolicy.Engine
	MCP       *mcpclient.Registry // nil if the agent declares no MCP servers

	Executors map[string]tools.Executor // builtin tool name -> Executor
	Confirmer Confirmer

	Telemetry *telemetry.Recorder
	Logger    *slog.Logger
}

// onEvent is an optional render callback the CLI layer supplies to stream
// assistant text to the terminal as it arrives; nil is valid (silent run,
// e.g. tests).
type onEvent func(chunk string)

// RunTurn implements spec.md §4.10's 8-step loop for one user-submitted
// prompt. It blocks until the turn completes (no more pending tool calls),
// the context is cancelled, or an unretryable error occurs. On cancellation
// any already-accumulated assistant text and tool results remain in State.
func (e *Engine) RunTurn(ctx context.Context, prompt string, onText onEvent) error {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "engine.RunTurn")
	defer span.End()

	trigger := models.TriggerManual
	nextPrompt := prompt
	var priorResults []models.ToolResultMsg

	for {
		if err := ctx.Err(); err != nil {
			e.recordOutcome("cancelled", start)
			return err
		}

		if nextPrompt != "" {
			if _, err := e.State.PushUser(nextPrompt, nil); err != nil {
				e.recordOutcome("error", start)
				return fmt.Errorf("engine: push user message: %w", err)
			}
		}

		if err := e.maybeCompact(ctx); err != nil {
			e.Logger.Warn("compaction failed, continuing with uncompacted history", "error", err)
		}

		toolSpecs := e.Policy.List()
		env, err := e.Assembler.BuildEnvelope(ctx, e.State, toolSpecs, nextPrompt, priorResults, trigger)
		if err != nil {
			e.recordOutcome("error", start)
			return fmt.Errorf("engine: build envelope: %w", err)
		}

		text, toolUses, streamErr := e.streamOneResponse(ctx, env, onText)
		if streamErr != nil {
			e.recordOutcome("error", start)
			return streamErr
		}

		if _, err := e.State.PushAssistant(text, toolUses); err != nil {
			e.recordOutcome("error", start)
			return fmt.Errorf("engine: push assistant message: %w", err)
		}

		if len(toolUses) == 0 {
			e.recordOutcome("ok", start)
			return nil
		}

		results := e.executeToolUses(ctx, toolUses)
		for _, r := range results {
			if _, err := e.State.PushToolResult(r); err != nil {
				e.recordOutcome("error", start)
				return fmt.Errorf("engine: push tool result: %w", err)
			}
		}

		// Loop again with an Auto trigger and an empty prompt, replaying
		// updated state, per spec.md §4.10 step 8.
		trigger = models.TriggerAuto
		nextPrompt = ""
		priorResults = results
	}
}

func (e *Engine) recordOutcome(outcome string, start time.Time) {
	if e.Telemetry != nil {
		e.Telemetry.RecordUserTurnCompletion(outcome, time.Since(start))
	}
}

func (e *Engine) maybeCompact(ctx context.Context) error {
	cfg := convstate.CompactConfig{
		Summarize:      e.summarizeForCompaction,
		KeepLastTurns:  KeepLastTurns,
		EstimateTokens: ctxassembler.EstimateTokens,
		Ceiling:        CompactionCeiling,
	}
	before := len(e.State.History())
	if err := e.State.Compact(ctx, cfg); err != nil {
		return err
	}
	if after := len(e.State.History()); after < before && e.Telemetry != nil {
		e.Telemetry.RecordCompaction()
	}
	return nil
}

// summarizeForCompaction asks the backend itself to digest the messages
// being dropped, since qcore has no separate summarization model.
func (e *Engine) summarizeForCompaction(ctx context.Context, msgs []*models.Message) (string, error) {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case models.RoleUser:
			sb.WriteString("User: " + m.Prompt + "\n")
		case models.RoleAssistant:
			sb.WriteString("Assistant: " + m.Text + "\n")
		}
	}
	env := models.Envelope{
		SystemPrompt: "Summarize the following conversation excerpt in a few sentences, preserving facts and decisions a later turn would need.",
		CurrentMessage: &models.Message{
			Role:   models.RoleUser,
			Prompt: sb.String(),
		},
	}
	text, _, err := e.streamOneResponse(ctx, env, nil)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return text, nil
}

// streamOneResponse sends env and drains the resulting event stream into
// accumulated assistant text and staged tool-uses, retrying transient
// transport errors with exponential backoff per spec.md §4.10 step 3.
func (e *Engine) streamOneResponse(ctx context.Context, env models.Envelope, onText onEvent) (string, []models.ToolUse, error) {
	op := func() (struct {
		text string
		uses []models.ToolUse
	}, error) {
		text, uses, err := e.streamOnceNoRetry(ctx, env, onText)
		if err != nil {
			if te, ok := err.(*backend.TransportError); ok {
				if e.Telemetry != nil {
					e.Telemetry.RecordRetry(string(te.Mode))
				}
				if te.Retryable() {
					return struct {
						text string
						uses []models.ToolUse
					}{}, err
				}
			}
			return struct {
				text string
				uses []models.ToolUse
			}{}, backoff.Permanent(err)
		}
		return struct {
			text string
			uses []models.ToolUse
		}{text, uses}, nil
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(retryBase),
			backoff.WithMultiplier(2),
			backoff.WithRandomizationFactor(retryJitter),
		)),
		backoff.WithMaxTries(uint(maxRetryAttempts)),
	)
	if err != nil {
		return "", nil, err
	}
	return result.text, result.uses, nil
}

func (e *Engine) streamOnceNoRetry(ctx context.Context, env models.Envelope, onText onEvent) (string, []models.ToolUse, error) {
	events, err := e.Backend.SendAndStream(ctx, env)
	if err != nil {
		return "", nil, err
	}

	var textBuilder strings.Builder
	var uses []models.ToolUse
	pendingByID := map[string]*models.ToolUse{}
	pendingJSON := map[string]*strings.Builder{}

	for rawEvent := range events {
		switch rawEvent.Type {
		case "text_delta":
			textBuilder.WriteString(rawEvent.Text)
			if onText != nil {
				onText(rawEvent.Text)
			}
		case "tool_use_start":
			tu := &models.ToolUse{ID: rawEvent.ToolUseID, Name: rawEvent.ToolName}
			pendingByID[tu.ID] = tu
			pendingJSON[tu.ID] = &strings.Builder{}
			uses = append(uses, *tu)
		case "tool_use_delta":
			if b, ok := pendingJSON[rawEvent.ToolUseID]; ok {
				b.WriteString(rawEvent.PartialJSON)
			}
		case "tool_use_stop":
			if tu, ok := pendingByID[rawEvent.ToolUseID]; ok {
				tu.Input = json.RawMessage(pendingJSON[rawEvent.ToolUseID].String())
				for i := range uses {
					if uses[i].ID == tu.ID {
						uses[i].Input = tu.Input
					}
				}
			}
		case "message_stop":
			// handled by channel close below
		case "error":
			if rawEvent.Err != nil {
				return "", nil, rawEvent.Err
			}
			return "", nil, fmt.Errorf("engine: stream error event with no cause")
		}
	}

	return textBuilder.String(), uses, nil
}

// executeToolUses runs every staged tool call: concurrently if every call
// resolves to a read-only executor, sequentially in declaration order
// otherwise, per spec.md §4.10 step 6. Calls auto-denied or not confirmed
// produce a synthesized error ToolResult instead of executing.
func (e *Engine) executeToolUses(ctx context.Context, uses []models.ToolUse) []models.ToolResultMsg {
	allReadOnly := true
	for _, tu := range uses {
		if !e.isReadOnly(tu) {
			allReadOnly = false
			break
		}
	}

	results := make([]models.ToolResultMsg, len(uses))
	run := func(i int) {
		results[i] = e.executeOne(ctx, uses[i])
	}

	if allReadOnly {
		var wg sync.WaitGroup
		for i := range uses {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				run(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range uses {
			run(i)
		}
	}
	return results
}

func (e *Engine) isReadOnly(tu models.ToolUse) bool {
	if strings.HasPrefix(tu.Name, "@") {
		// MCP-origin tools carry no read-only declaration; treat as mutating
		// so they never run concurrently with anything else.
		return false
	}
	ex, ok := e.Executors[tu.Name]
	if !ok {
		return false
	}
	if roi, ok := ex.(tools.ReadOnlyInput); ok {
		return roi.IsReadOnlyInput(tu.Input)
	}
	return ex.ReadOnly()
}

func (e *Engine) executeOne(ctx context.Context, tu models.ToolUse) models.ToolResultMsg {
	decision := e.Policy.Decide(tu.Name, tu.Input)

	switch decision {
	case models.AutoDeny:
		return *tools.Errorf(fmt.Sprintf("tool %q denied by policy", tu.Name))
	case models.PromptUser:
		allowed, err := e.confirm(ctx, tu)
		if err != nil {
			return *tools.Errorf(fmt.Sprintf("tool %q: confirmation failed: %v", tu.Name, err))
		}
		if !allowed {
			return *tools.Errorf(fmt.Sprintf("tool %q denied by user", tu.Name))
		}
	}

	start := time.Now()
	result := e.dispatch(ctx, tu)
	if e.Telemetry != nil {
		e.Telemetry.RecordToolLatency(tu.Name, time.Since(start))
	}
	result.ToolUseID = tu.ID
	return result
}

func (e *Engine) confirm(ctx context.Context, tu models.ToolUse) (bool, error) {
	if e.Confirmer == nil {
		return false, nil
	}
	return e.Confirmer.Confirm(ctx, tu.Name, tu.Input)
}

func (e *Engine) dispatch(ctx context.Context, tu models.ToolUse) models.ToolResultMsg {
	if strings.HasPrefix(tu.Name, "@") {
		return e.dispatchMCP(ctx, tu)
	}
	ex, ok := e.Executors[tu.Name]
	if !ok {
		return *tools.Errorf(fmt.Sprintf("unknown tool %q", tu.Name))
	}
	result, err := ex.Invoke(ctx, tu.Input)
	if err != nil {
		return *tools.Errorf(fmt.Sprintf("tool %q failed: %v", tu.Name, err))
	}
	return *result
}

func (e *Engine) dispatchMCP(ctx context.Context, tu models.ToolUse) models.ToolResultMsg {
	if e.MCP == nil {
		return *tools.Errorf(fmt.Sprintf("mcp tool %q called but no MCP registry is configured", tu.Name))
	}
	res, err := e.MCP.CallTool(ctx, tu.Name, tu.Input)
	if err != nil {
		return *tools.Errorf(fmt.Sprintf("mcp tool %q failed: %v", tu.Name, err))
	}
	return mcpResultToToolResult(res)
}

// mcpResultToToolResult converts an MCP tools/call result into the engine's
// internal ToolResultMsg shape, per spec.md §4.5.
func mcpResultToToolResult(res *mcpclient.ToolCallResult) models.ToolResultMsg {
	status := models.ToolStatusSuccess
	if res.IsError {
		status = models.ToolStatusError
	}
	blocks := make([]models.ContentBlock, 0, len(res.Content))
	for _, c := range res.Content {
		switch c.Type {
		case "image":
			blocks = append(blocks, models.ContentBlock{Type: models.ContentImage, ImageData: c.Data, MimeType: c.MimeType})
		default:
			blocks = append(blocks, models.ContentBlock{Type: models.ContentText, Text: c.Text})
		}
	}
	return models.ToolResultMsg{Status: status, Content: blocks}
}
