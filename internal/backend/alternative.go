package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/streamparse"
)

// toolCallOpenTag/toolCallCloseTag delimit the textual tool-call protocol the
// AlternativeProvider asks the model to emit, since it never registers native
// function-calling tools with the endpoint (spec.md §4.1: tool specs travel
// as JSON schemas inside the system prompt, not as API-level tool defs).
const (
	toolCallOpenTag  = "<<TOOL_CALL>>"
	toolCallCloseTag = "<<END_TOOL_CALL>>"
)

// AlternativeConfig configures the AlternativeProvider variant.
type AlternativeConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// AlternativeProvider targets any OpenAI-compatible chat completion endpoint.
// Per spec.md §4.1 it SHALL NOT discard envelope fields: tool specs,
// environment state and prior tool results that the Primary variant sends as
// structured fields are instead serialized into the system prompt, and
// message history maps one-for-one onto chat messages.
//
// Grounded on internal/agent/providers/openai.go's OpenAIProvider (retry
// loop, stream-to-chunk translation), generalized to the textual tool-call
// protocol spec.md requires instead of go-openai's native Tools field.
type AlternativeProvider struct {
	client       *openai.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

// NewAlternativeProvider constructs the AlternativeProvider backend.
func NewAlternativeProvider(cfg AlternativeConfig) (*AlternativeProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("backend: alternative provider requires an API key")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &AlternativeProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		retryDelay:   time.Second,
	}, nil
}

func (p *AlternativeProvider) Name() string { return "alternative" }

// SendAndStream implements Provider.
func (p *AlternativeProvider) SendAndStream(ctx context.Context, env models.Envelope) (<-chan streamparse.RawEvent, error) {
	out := make(chan streamparse.RawEvent)

	chatReq := openai.ChatCompletionRequest{
		Model:    p.defaultModel,
		Messages: buildChatMessages(env),
		Stream:   true,
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryableOpenAIError(lastErr) {
			return nil, &TransportError{Mode: FailureTransport, Cause: lastErr}
		}
	}
	if lastErr != nil {
		return nil, &TransportError{Mode: FailureTransport, Cause: fmt.Errorf("max retries exceeded: %w", lastErr)}
	}

	go func() {
		defer close(out)
		p.pump(ctx, stream, out)
	}()

	return out, nil
}

// buildChatMessages converts the envelope's system prompt, tool specs,
// environment snapshot and message history into the 1:1 chat message
// sequence the alternative endpoint receives. Nothing from env is dropped:
// tool specs and environment state that the Primary variant would send as
// distinct structured fields are folded into the system message text.
func buildChatMessages(env models.Envelope) []openai.ChatCompletionMessage {
	var sb strings.Builder
	sb.WriteString(env.SystemPrompt)

	if len(env.ToolSpecs) > 0 {
		sb.WriteString("\n\n## Available tools\n")
		sb.WriteString("You may call a tool by emitting a line of the form:\n")
		sb.WriteString(toolCallOpenTag + `{"id":"<uuid>","name":"<tool name>","input":{...}}` + toolCallCloseTag + "\n")
		sb.WriteString("Tool schemas (JSON Schema, keyed by tool name):\n")
		for _, spec := range env.ToolSpecs {
			fmt.Fprintf(&sb, "### %s\n%s\nschema: %s\n", spec.Name, spec.Description, string(spec.InputSchema))
		}
	}

	if cur := env.CurrentMessage; cur != nil && cur.Context != nil {
		ctx := cur.Context
		envJSON, _ := json.Marshal(ctx.EnvState)
		fmt.Fprintf(&sb, "\n\n## Environment\n%s\n", envJSON)
		for _, entry := range ctx.ContextEntries {
			sb.WriteString("\n" + entry)
		}
		for _, tr := range ctx.ToolResults {
			var content strings.Builder
			for _, b := range tr.Content {
				if b.Type == models.ContentText {
					content.WriteString(b.Text)
				}
			}
			fmt.Fprintf(&sb, "\n## Prior tool result (%s, %s)\n%s\n", tr.ToolUseID, tr.Status, content.String())
		}
	}

	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: sb.String()}}

	all := append(append([]*models.Message{}, env.History...), env.CurrentMessage)
	for _, m := range all {
		if m == nil {
			continue
		}
		messages = append(messages, toChatMessage(m))
	}
	return messages
}

// toChatMessage maps one internal Message onto exactly one chat message,
// per spec.md §4.1's "maps message history 1:1" requirement.
func toChatMessage(m *models.Message) openai.ChatCompletionMessage {
	switch m.Role {
	case models.RoleUser:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Prompt}
	case models.RoleAssistant:
		var sb strings.Builder
		sb.WriteString(m.Text)
		for _, tu := range m.ToolUses {
			fmt.Fprintf(&sb, "\n%s{\"id\":%q,\"name\":%q,\"input\":%s}%s",
				toolCallOpenTag, tu.ID, tu.Name, string(tu.Input), toolCallCloseTag)
		}
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: sb.String()}
	case models.RoleToolResult:
		if m.ToolResult == nil {
			return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ""}
		}
		var content strings.Builder
		for _, b := range m.ToolResult.Content {
			if b.Type == models.ContentText {
				content.WriteString(b.Text)
			}
		}
		return openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("Tool result (%s): %s", m.ToolResult.ToolUseID, content.String()),
		}
	default:
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Prompt}
	}
}

// pump reads the chat completion stream, detects the textual tool-call
// protocol inline with assistant text, and emits normalized RawEvents.
// Grounded on OpenAIProvider.processStream, adapted to parse the
// <<TOOL_CALL>>...<<END_TOOL_CALL>> convention instead of go-openai's native
// delta.ToolCalls (never populated here, since no tools are registered on
// the request itself).
func (p *AlternativeProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- streamparse.RawEvent) {
	defer stream.Close()

	var buf strings.Builder
	inTool := false
	var inputTokens, outputTokens int

	flushText := func(s string) {
		if s != "" {
			out <- streamparse.RawEvent{Type: "text_delta", Text: s}
		}
	}

	for {
		select {
		case <-ctx.Done():
			out <- streamparse.RawEvent{Type: "error", Err: &TransportError{Mode: FailureTransport, Cause: ctx.Err()}}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				out <- streamparse.RawEvent{Type: "message_stop", InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			out <- streamparse.RawEvent{Type: "error", Err: classifyOpenAIErr(err)}
			return
		}
		if resp.Usage != nil {
			inputTokens, outputTokens = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}

		buf.WriteString(resp.Choices[0].Delta.Content)

		for {
			s := buf.String()
			if !inTool {
				if idx := strings.Index(s, toolCallOpenTag); idx >= 0 {
					flushText(s[:idx])
					buf.Reset()
					buf.WriteString(s[idx+len(toolCallOpenTag):])
					inTool = true
					continue
				}
				// Hold back a tail as long as the open tag in case it is split
				// across chunks; flush the rest immediately.
				if safe := len(s) - len(toolCallOpenTag); safe > 0 {
					flushText(s[:safe])
					buf.Reset()
					buf.WriteString(s[safe:])
				}
				break
			}

			idx := strings.Index(s, toolCallCloseTag)
			if idx < 0 {
				break
			}
			raw := s[:idx]
			buf.Reset()
			buf.WriteString(s[idx+len(toolCallCloseTag):])
			inTool = false
			emitToolCall(raw, out)
		}
	}
}

type toolCallEnvelope struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func emitToolCall(raw string, out chan<- streamparse.RawEvent) {
	var tc toolCallEnvelope
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		out <- streamparse.RawEvent{Type: "error", Err: fmt.Errorf("alternative provider: malformed tool call payload: %w", err)}
		return
	}
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}
	out <- streamparse.RawEvent{Type: "tool_use_start", ToolUseID: tc.ID, ToolName: tc.Name}
	out <- streamparse.RawEvent{Type: "tool_use_delta", ToolUseID: tc.ID, PartialJSON: string(tc.Input)}
	out <- streamparse.RawEvent{Type: "tool_use_stop", ToolUseID: tc.ID, ToolName: tc.Name}
}

func isRetryableOpenAIError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, needle := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return &TransportError{Mode: FailureUnauthenticated, Cause: err}
		case 429:
			return &TransportError{Mode: FailureQuotaExceeded, Cause: err}
		case 413:
			return &TransportError{Mode: FailureContextOverflow, Cause: err}
		}
	}
	if isRetryableOpenAIError(err) {
		return &TransportError{Mode: FailureTransport, Cause: err}
	}
	return &TransportError{Mode: FailureTransport, Cause: err}
}
