package mcpclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/corvid-labs/qcore/internal/models"
)

func TestSplitToolName(t *testing.T) {
	server, tool, err := splitToolName("@filesystem/read_file")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if server != "filesystem" || tool != "read_file" {
		t.Fatalf("got server=%q tool=%q", server, tool)
	}

	if _, _, err := splitToolName("read_file"); err == nil {
		t.Fatal("expected error for unprefixed name")
	}
	if _, _, err := splitToolName("@filesystem"); err == nil {
		t.Fatal("expected error for missing tool segment")
	}
}

func TestRegistryToolSpecsAndStatus(t *testing.T) {
	r := &Registry{clients: map[string]*Client{
		"filesystem": {
			name: "filesystem",
			tools: []*MCPTool{
				{Name: "read_file", Description: "Read a file", InputSchema: json.RawMessage(`{}`)},
			},
		},
		"flaky": {
			name:      "flaky",
			Unhealthy: true,
			LastError: "connection refused",
		},
	}}

	specs := r.ToolSpecs()
	if len(specs) != 1 {
		t.Fatalf("expected 1 tool spec, got %d", len(specs))
	}
	spec := specs[0]
	if spec.Name != "@filesystem/read_file" {
		t.Fatalf("unexpected tool name: %s", spec.Name)
	}
	if spec.Origin != models.OriginMCP || spec.OriginServer != "filesystem" {
		t.Fatalf("unexpected origin fields: %+v", spec)
	}
	if spec.DefaultPermission != models.PromptUser {
		t.Fatalf("expected mcp tools to default to prompt_user, got %s", spec.DefaultPermission)
	}

	status := r.Status()
	if status["filesystem"].Unhealthy {
		t.Fatal("expected filesystem healthy")
	}
	if !status["flaky"].Unhealthy || status["flaky"].LastError != "connection refused" {
		t.Fatalf("unexpected flaky status: %+v", status["flaky"])
	}
}

func TestRegistryCallToolUnknownServer(t *testing.T) {
	r := &Registry{clients: map[string]*Client{}}
	_, err := r.CallTool(context.Background(), "@missing/tool", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unconfigured server")
	}
}

func TestStdioTransportRoundTrip(t *testing.T) {
	spec := models.McpServerSpec{
		Command:   "cat",
		Transport: models.TransportStdio,
		TimeoutMs: 2000,
	}
	tr := newStdioTransport(spec)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tr.connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.close()

	result, err := tr.call(ctx, "ping", map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	// cat echoes the request verbatim, so the decoded "response" carries no
	// result/error — this exercises the request/response plumbing without a
	// real MCP server.
	if result != nil {
		var echoed map[string]any
		if err := json.Unmarshal(result, &echoed); err != nil {
			t.Fatalf("unexpected result payload: %v", err)
		}
	}
}

func TestEffectiveTimeoutDefault(t *testing.T) {
	spec := models.McpServerSpec{}
	if spec.EffectiveTimeoutMs() != 120_000 {
		t.Fatalf("expected 120s default, got %d", spec.EffectiveTimeoutMs())
	}
}
