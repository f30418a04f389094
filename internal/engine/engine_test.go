package engine

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/corvid-labs/qcore/internal/backend"
	"github.com/corvid-labs/qcore/internal/convstate"
	"github.com/corvid-labs/qcore/internal/ctxassembler"
	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/streamparse"
	"github.com/corvid-labs/qcore/internal/tools"
	"github.com/corvid-labs/qcore/internal/toolspolicy"
)

// scriptedProvider replays one RawEvent sequence per call, in order, to
// exercise C10's multi-round tool-call loop deterministically.
type scriptedProvider struct {
	rounds [][]streamparse.RawEvent
	call   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendAndStream(ctx context.Context, env models.Envelope) (<-chan streamparse.RawEvent, error) {
	if p.call >= len(p.rounds) {
		return nil, &backend.TransportError{Mode: backend.FailureTransport, Cause: io.ErrUnexpectedEOF}
	}
	round := p.rounds[p.call]
	p.call++
	ch := make(chan streamparse.RawEvent, len(round))
	for _, e := range round {
		ch <- e
	}
	close(ch)
	return ch, nil
}

// echoTool is a read-only tool that reports its input back as its result.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes input" }
func (echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (echoTool) ReadOnly() bool           { return true }
func (echoTool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	return tools.Text(string(input)), nil
}

func newTestEngine(t *testing.T, provider backend.Provider) *Engine {
	t.Helper()
	manifest := models.BuiltinDefaultAgent()
	manifest.AllowedTools = []string{"echo", "fs_read"}

	assembler, err := ctxassembler.New(context.Background(), manifest, nil, nil)
	if err != nil {
		t.Fatalf("new assembler: %v", err)
	}
	toolSpec := models.ToolSpec{Name: "echo", Origin: models.OriginBuiltin, Description: "echoes input", InputSchema: json.RawMessage(`{}`), DefaultPermission: models.AutoAllow}
	pol, err := toolspolicy.New(manifest, []models.ToolSpec{toolSpec}, nil)
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}

	return &Engine{
		State:     convstate.New(manifest.Name),
		Assembler: assembler,
		Backend:   provider,
		Policy:    pol,
		Executors: map[string]tools.Executor{"echo": echoTool{}},
		Confirmer: AutoDenyConfirmer{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestRunTurnNoToolCallsCompletesImmediately(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]streamparse.RawEvent{
		{{Type: "text_delta", Text: "hello"}, {Type: "message_stop"}},
	}}
	e := newTestEngine(t, provider)

	var rendered string
	if err := e.RunTurn(context.Background(), "hi", func(chunk string) { rendered += chunk }); err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if rendered != "hello" {
		t.Fatalf("expected rendered text %q, got %q", "hello", rendered)
	}
	if got := len(e.State.History()); got != 2 {
		t.Fatalf("expected user+assistant history, got %d messages", got)
	}
}

func TestRunTurnExecutesToolAndLoopsUntilDone(t *testing.T) {
	toolInput := json.RawMessage(`{"msg":"ping"}`)
	provider := &scriptedProvider{rounds: [][]streamparse.RawEvent{
		{
			{Type: "tool_use_start", ToolUseID: "t1", ToolName: "echo"},
			{Type: "tool_use_delta", ToolUseID: "t1", PartialJSON: string(toolInput)},
			{Type: "tool_use_stop", ToolUseID: "t1"},
			{Type: "message_stop"},
		},
		{
			{Type: "text_delta", Text: "done"},
			{Type: "message_stop"},
		},
	}}
	e := newTestEngine(t, provider)

	if err := e.RunTurn(context.Background(), "please ping", nil); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	history := e.State.History()
	// user, assistant(tool_use), tool_result, assistant(final text)
	if len(history) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(history), history)
	}
	if history[2].Role != models.RoleToolResult {
		t.Fatalf("expected third message to be a tool result, got %s", history[2].Role)
	}
	if history[2].ToolResult.Content[0].Text != string(toolInput) {
		t.Fatalf("expected echoed input, got %q", history[2].ToolResult.Content[0].Text)
	}
	if history[3].Text != "done" {
		t.Fatalf("expected final assistant text %q, got %q", "done", history[3].Text)
	}
}

func TestRunTurnDeniedToolProducesErrorResultWithoutExecuting(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]streamparse.RawEvent{
		{
			{Type: "tool_use_start", ToolUseID: "t1", ToolName: "execute_bash"},
			{Type: "tool_use_delta", ToolUseID: "t1", PartialJSON: `{"command":"rm -rf /"}`},
			{Type: "tool_use_stop", ToolUseID: "t1"},
			{Type: "message_stop"},
		},
		{
			{Type: "text_delta", Text: "ok"},
			{Type: "message_stop"},
		},
	}}
	e := newTestEngine(t, provider)
	// execute_bash is neither in AllowedTools nor fs_read/report_issue, so
	// Decide falls through to PromptUser, and AutoDenyConfirmer declines.

	if err := e.RunTurn(context.Background(), "rm everything", nil); err != nil {
		t.Fatalf("run turn: %v", err)
	}

	history := e.State.History()
	toolResult := history[2]
	if toolResult.Role != models.RoleToolResult || !toolResult.ToolResult.IsError() {
		t.Fatalf("expected denied tool to produce an error result, got %+v", toolResult)
	}
}

func TestRunTurnPropagatesTransportErrorAfterRetriesExhausted(t *testing.T) {
	provider := &scriptedProvider{rounds: nil}
	e := newTestEngine(t, provider)

	err := e.RunTurn(context.Background(), "hi", nil)
	if err == nil {
		t.Fatal("expected an error from an exhausted provider")
	}
}

func TestRunTurnRespectsCancellation(t *testing.T) {
	provider := &scriptedProvider{rounds: [][]streamparse.RawEvent{
		{{Type: "text_delta", Text: "hello"}, {Type: "message_stop"}},
	}}
	e := newTestEngine(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.RunTurn(ctx, "hi", nil); err == nil {
		t.Fatal("expected cancellation error")
	}
}
