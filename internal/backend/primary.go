package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/streamparse"
)

var tracer = otel.Tracer("github.com/corvid-labs/qcore/internal/backend")

// PrimaryConfig configures the Primary backend variant.
type PrimaryConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// Primary streams completions from the hosted Claude service. It is the
// "Primary" variant of spec.md §4.1; grounded on
// internal/agent/providers/anthropic.go's AnthropicProvider, trimmed to the
// engine's envelope/event contract and with retry delegated to
// cenkalti/backoff instead of a hand-rolled loop.
type Primary struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	logger       *slog.Logger
}

// NewPrimary constructs the Primary backend.
func NewPrimary(cfg PrimaryConfig, logger *slog.Logger) (*Primary, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("backend: primary requires an API key")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Primary{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
		logger:       logger.With("component", "backend.primary"),
	}, nil
}

func (p *Primary) Name() string { return "primary" }

// SendAndStream implements Provider.
func (p *Primary) SendAndStream(ctx context.Context, env models.Envelope) (<-chan streamparse.RawEvent, error) {
	out := make(chan streamparse.RawEvent)

	go func() {
		defer close(out)

		ctx, span := tracer.Start(ctx, "backend.primary.send_and_stream")
		defer span.End()

		params, err := p.buildParams(env)
		if err != nil {
			out <- streamparse.RawEvent{Type: "error", Err: fmt.Errorf("primary: build request: %w", err)}
			return
		}

		stream, err := backoff.Retry(ctx, func() (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			s := p.client.Messages.NewStreaming(ctx, params)
			if s.Err() != nil {
				cerr := classifyAnthropicErr(s.Err())
				if te, ok := cerr.(*TransportError); ok && !te.Retryable() {
					return nil, backoff.Permanent(cerr)
				}
				return nil, cerr
			}
			return s, nil
		}, backoff.WithMaxTries(uint(p.maxRetries)+1))
		if err != nil {
			var te *TransportError
			if !errors.As(err, &te) {
				te = &TransportError{Mode: FailureTransport, Cause: err}
			}
			out <- streamparse.RawEvent{Type: "error", Err: te}
			return
		}

		p.pump(stream, out)
	}()

	return out, nil
}

func (p *Primary) buildParams(env models.Envelope) (anthropic.MessageNewParams, error) {
	messages, err := toAnthropicMessages(env)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.defaultModel),
		Messages:  messages,
		MaxTokens: 4096,
	}
	if env.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: env.SystemPrompt}}
	}
	if len(env.ToolSpecs) > 0 {
		tools, err := toAnthropicTools(env.ToolSpecs)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	return params, nil
}

func toAnthropicMessages(env models.Envelope) ([]anthropic.MessageParam, error) {
	var out []anthropic.MessageParam
	all := append(append([]*models.Message{}, env.History...), env.CurrentMessage)
	for _, m := range all {
		if m == nil {
			continue
		}
		switch m.Role {
		case models.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Prompt)))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Text))
			}
			for _, tu := range m.ToolUses {
				var input map[string]any
				if len(tu.Input) > 0 {
					if err := json.Unmarshal(tu.Input, &input); err != nil {
						return nil, fmt.Errorf("invalid tool-use input for %s: %w", tu.Name, err)
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tu.ID, input, tu.Name))
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleToolResult:
			if m.ToolResult == nil {
				continue
			}
			text := joinTextBlocks(m.ToolResult.Content)
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolResult.ToolUseID, text, m.ToolResult.IsError())))
		}
	}
	return out, nil
}

func joinTextBlocks(blocks []models.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == models.ContentText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func toAnthropicTools(specs []models.ToolSpec) ([]anthropic.ToolUnionParam, error) {
	var out []anthropic.ToolUnionParam
	for _, spec := range specs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(spec.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for %s: %w", spec.Name, err)
		}
		tp := anthropic.ToolUnionParamOfTool(schema, spec.Name)
		if tp.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for %s", spec.Name)
		}
		tp.OfTool.Description = anthropic.String(spec.Description)
		out = append(out, tp)
	}
	return out, nil
}

// pump reads the SSE stream and emits normalized RawEvents. Grounded on
// AnthropicProvider.processStream, trimmed to the fields the engine needs.
func (p *Primary) pump(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- streamparse.RawEvent) {
	var curToolID, curToolName string
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			if u := event.AsMessageStart().Message.Usage.InputTokens; u > 0 {
				inputTokens = int(u)
			}
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				curToolID, curToolName = tu.ID, tu.Name
				out <- streamparse.RawEvent{Type: "tool_use_start", ToolUseID: curToolID, ToolName: curToolName}
			}
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- streamparse.RawEvent{Type: "text_delta", Text: delta.Text}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					out <- streamparse.RawEvent{Type: "tool_use_delta", ToolUseID: curToolID, PartialJSON: delta.PartialJSON}
				}
			}
		case "content_block_stop":
			if curToolID != "" {
				out <- streamparse.RawEvent{Type: "tool_use_stop", ToolUseID: curToolID, ToolName: curToolName}
				curToolID, curToolName = "", ""
			}
		case "message_delta":
			if u := event.AsMessageDelta().Usage.OutputTokens; u > 0 {
				outputTokens = int(u)
			}
		case "message_stop":
			out <- streamparse.RawEvent{Type: "message_stop", InputTokens: inputTokens, OutputTokens: outputTokens}
			return
		case "error":
			out <- streamparse.RawEvent{Type: "error", Err: &TransportError{Mode: FailureTransport, Cause: errors.New("stream error")}}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- streamparse.RawEvent{Type: "error", Err: classifyAnthropicErr(err)}
	}
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &TransportError{Mode: FailureUnauthenticated, Cause: err}
		case 429:
			return &TransportError{Mode: FailureQuotaExceeded, Cause: err}
		case 413:
			return &TransportError{Mode: FailureContextOverflow, Cause: err}
		}
	}
	return &TransportError{Mode: FailureTransport, Cause: err}
}
