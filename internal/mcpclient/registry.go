package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/corvid-labs/qcore/internal/models"
)

// Registry holds one Client per configured MCP server and exposes their
// combined tools under "@<server>/<tool>" names for toolspolicy.Build's
// mcpTools parameter. Grounded on internal/mcp/manager.go's Manager, trimmed
// to the tools-only surface C5 needs (no resources/prompts aggregation).
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry connects to every configured server. A server that fails to
// connect is still added to the registry (Unhealthy, with LastError set) so
// its failure is visible via Status and it can self-heal on a later call,
// rather than being silently dropped.
func NewRegistry(ctx context.Context, servers map[string]models.McpServerSpec) *Registry {
	r := &Registry{clients: make(map[string]*Client, len(servers))}
	for name, spec := range servers {
		client := NewClient(name, spec)
		if err := client.Connect(ctx); err != nil {
			slog.Warn("mcp_server_init", "server", name, "status", "failed", "error", err)
		} else {
			slog.Info("mcp_server_init", "server", name, "status", "ok", "tools", len(client.Tools()))
		}
		r.clients[name] = client
	}
	return r
}

// Client returns the named server's client, if configured.
func (r *Registry) Client(name string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// ToolSpecs returns every server's tools as models.ToolSpec entries named
// "@<server>/<tool>", ready to feed toolspolicy.Build's mcpTools parameter.
func (r *Registry) ToolSpecs() []models.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ToolSpec
	for name, client := range r.clients {
		for _, tool := range client.Tools() {
			out = append(out, models.ToolSpec{
				Name:              fmt.Sprintf("@%s/%s", name, tool.Name),
				Origin:            models.OriginMCP,
				OriginServer:      name,
				Description:       tool.Description,
				InputSchema:       tool.InputSchema,
				DefaultPermission: models.PromptUser,
			})
		}
	}
	return out
}

// CallTool strips the "@<server>/" prefix from prefixedName, routes the call
// to that server's client, and returns its result.
func (r *Registry) CallTool(ctx context.Context, prefixedName string, args json.RawMessage) (*ToolCallResult, error) {
	server, toolName, err := splitToolName(prefixedName)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	client, ok := r.clients[server]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("mcp server %q not configured", server)
	}

	return client.CallTool(ctx, toolName, args)
}

// Status reports per-server health, for diagnostics commands like /mcp.
func (r *Registry) Status() map[string]ServerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]ServerStatus, len(r.clients))
	for name, client := range r.clients {
		out[name] = ServerStatus{
			Unhealthy: client.Unhealthy,
			LastError: client.LastError,
			ToolCount: len(client.Tools()),
		}
	}
	return out
}

// ServerStatus is the health snapshot of one configured MCP server.
type ServerStatus struct {
	Unhealthy bool   `json:"unhealthy"`
	LastError string `json:"last_error,omitempty"`
	ToolCount int    `json:"tool_count"`
}

// Close tears down every server's transport.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, client := range r.clients {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func splitToolName(prefixedName string) (server, tool string, err error) {
	if !strings.HasPrefix(prefixedName, "@") {
		return "", "", fmt.Errorf("not an mcp tool name: %q", prefixedName)
	}
	rest := strings.TrimPrefix(prefixedName, "@")
	server, tool, found := strings.Cut(rest, "/")
	if !found {
		return "", "", fmt.Errorf("malformed mcp tool name: %q", prefixedName)
	}
	return server, tool, nil
}
