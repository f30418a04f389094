package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/corvid-labs/qcore/internal/models"
)

const protocolVersion = "2024-11-05"

// Client owns one MCP server connection: handshake, cached tool list, and
// health tracking. Grounded on internal/mcp/client.go's Connect/
// RefreshCapabilities flow, extended with Unhealthy/LastError bookkeeping and
// lazy reinitialization that the teacher's Client doesn't do (the teacher's
// Manager.Connect either succeeds once or the server is simply absent from
// its map; there's no remembered failure state to recover from later).
type Client struct {
	name string
	spec models.McpServerSpec

	mu        sync.Mutex
	transport transport
	tools     []*MCPTool
	info      ServerInfo

	Unhealthy bool
	LastError string
}

// NewClient constructs a Client for a named server; it does not connect.
func NewClient(name string, spec models.McpServerSpec) *Client {
	return &Client{name: name, spec: spec}
}

// Connect performs the MCP handshake: initialize, notifications/initialized,
// then tools/list to populate the tool cache. On failure the client is
// marked Unhealthy with LastError set, and a later CallTool (via ensureConnected)
// retries the whole handshake rather than giving up permanently.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	tr := newTransport(c.spec)
	if err := tr.connect(ctx); err != nil {
		c.Unhealthy = true
		c.LastError = err.Error()
		return fmt.Errorf("connect to mcp server %s: %w", c.name, err)
	}

	initParams := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "qcore", "version": "0.1.0"},
	}
	result, err := tr.call(ctx, "initialize", initParams)
	if err != nil {
		tr.close()
		c.Unhealthy = true
		c.LastError = err.Error()
		return fmt.Errorf("initialize mcp server %s: %w", c.name, err)
	}
	var initRes initializeResult
	if err := json.Unmarshal(result, &initRes); err != nil {
		tr.close()
		c.Unhealthy = true
		c.LastError = err.Error()
		return fmt.Errorf("decode initialize result from %s: %w", c.name, err)
	}

	if err := tr.notify(ctx, "notifications/initialized", nil); err != nil {
		tr.close()
		c.Unhealthy = true
		c.LastError = err.Error()
		return fmt.Errorf("send initialized notification to %s: %w", c.name, err)
	}

	c.transport = tr
	c.info = initRes.ServerInfo
	c.Unhealthy = false
	c.LastError = ""

	if err := c.refreshToolsLocked(ctx); err != nil {
		c.Unhealthy = true
		c.LastError = err.Error()
		return err
	}
	return nil
}

func (c *Client) refreshToolsLocked(ctx context.Context) error {
	result, err := c.transport.call(ctx, "tools/list", map[string]any{})
	if err != nil {
		return fmt.Errorf("list tools from %s: %w", c.name, err)
	}
	var listRes listToolsResult
	if err := json.Unmarshal(result, &listRes); err != nil {
		return fmt.Errorf("decode tools/list from %s: %w", c.name, err)
	}
	c.tools = listRes.Tools
	return nil
}

// ensureConnected lazily (re)connects when the client has never connected or
// is currently marked Unhealthy, so a transient server outage self-heals on
// the next call instead of requiring a process restart.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.transport != nil && !c.Unhealthy {
		return nil
	}
	return c.connectLocked(ctx)
}

// Tools returns the server's cached tool list.
func (c *Client) Tools() []*MCPTool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*MCPTool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Info returns the server's identity from initialize, if connected.
func (c *Client) Info() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// CallTool invokes one tool on this server, reconnecting first if needed.
func (c *Client) CallTool(ctx context.Context, toolName string, args json.RawMessage) (*ToolCallResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	params := callToolParams{Name: toolName, Arguments: args}
	result, err := c.transport.call(ctx, "tools/call", params)
	if err != nil {
		c.Unhealthy = true
		c.LastError = err.Error()
		return nil, fmt.Errorf("call tool %s/%s: %w", c.name, toolName, err)
	}

	var callRes ToolCallResult
	if err := json.Unmarshal(result, &callRes); err != nil {
		return nil, fmt.Errorf("decode tools/call result from %s/%s: %w", c.name, toolName, err)
	}
	return &callRes, nil
}

// Close tears down the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	err := c.transport.close()
	c.transport = nil
	return err
}
