package models

import "encoding/json"

// ToolOrigin distinguishes built-in tools from MCP-server-provided ones.
type ToolOrigin string

const (
	OriginBuiltin ToolOrigin = "builtin"
	OriginMCP     ToolOrigin = "mcp"
)

// PermissionDecision is the outcome of evaluating a tool invocation against
// the effective policy: AutoAllow, AutoDeny, or PromptUser.
type PermissionDecision string

const (
	AutoAllow  PermissionDecision = "auto_allow"
	AutoDeny   PermissionDecision = "auto_deny"
	PromptUser PermissionDecision = "prompt_user"
)

// ToolSpec describes one tool available to the model: its post-alias name,
// origin, description, JSON input schema and built-in default permission.
type ToolSpec struct {
	Name              string          `json:"name"`
	Origin            ToolOrigin      `json:"origin"`
	OriginServer      string          `json:"origin_server,omitempty"`
	Description       string          `json:"description"`
	InputSchema       json.RawMessage `json:"input_schema"`
	DefaultPermission PermissionDecision `json:"default_permission"`
}

// TransportKind selects how an MCP server is reached.
type TransportKind string

const (
	TransportStdio         TransportKind = "stdio"
	TransportStreamableHTTP TransportKind = "streamable_http"
)

// McpServerSpec configures how to spawn/connect one MCP server.
type McpServerSpec struct {
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	TimeoutMs int               `json:"timeout_ms,omitempty"`
	Transport TransportKind     `json:"transport"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// EffectiveTimeoutMs returns TimeoutMs or the 120s default from spec.md §4.5.
func (s McpServerSpec) EffectiveTimeoutMs() int {
	if s.TimeoutMs > 0 {
		return s.TimeoutMs
	}
	return 120_000
}

// HookTrigger is the lifecycle point a hook fires at.
type HookTrigger string

const (
	HookAgentSpawn       HookTrigger = "agent_spawn"
	HookUserPromptSubmit HookTrigger = "user_prompt_submit"
)

// HookSpec configures one lifecycle hook command.
type HookSpec struct {
	Command         string `json:"command"`
	TimeoutMs       int    `json:"timeout_ms,omitempty"`
	MaxOutputSize   int    `json:"max_output_size,omitempty"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds,omitempty"`
}

// ToolPathPolicy configures fs_read/fs_write path allow/deny globs.
type ToolPathPolicy struct {
	AllowedPaths []string `json:"allowedPaths,omitempty"`
	DeniedPaths  []string `json:"deniedPaths,omitempty"`
}

// ToolCommandPolicy configures execute_bash command allow/deny regexes.
type ToolCommandPolicy struct {
	AllowedCommands []string `json:"allowedCommands,omitempty"`
	DeniedCommands  []string `json:"deniedCommands,omitempty"`
	AllowReadOnly   bool     `json:"allowReadOnly,omitempty"`
}

// AgentManifest is the declarative, immutable-after-load configuration for a
// session: which tools and MCP servers are available, allow-listed, aliased,
// which resources are injected and which hooks run.
type AgentManifest struct {
	Name              string                     `json:"name"`
	Description       string                     `json:"description,omitempty"`
	Version           string                     `json:"version,omitempty"`
	McpServers        map[string]McpServerSpec   `json:"mcp_servers,omitempty"`
	Tools             []string                   `json:"tools,omitempty"`
	ToolAliases       map[string]string          `json:"tool_aliases,omitempty"`
	AllowedTools      []string                   `json:"allowed_tools,omitempty"`
	ToolsSettings     map[string]json.RawMessage `json:"tools_settings,omitempty"`
	Resources         []string                   `json:"resources,omitempty"`
	Hooks             map[HookTrigger][]HookSpec `json:"hooks,omitempty"`
	UseLegacyMcpJSON  bool                       `json:"use_legacy_mcp_json,omitempty"`

	// SourcePath records where this manifest was loaded from, for
	// diagnostics; not part of the wire format.
	SourcePath string `json:"-"`
}

// BuiltinDefaultAgent is the fallback agent manifest per spec.md §4.8: every
// tool available, only fs_read pre-approved, rules/README resources, legacy
// MCP json honored.
func BuiltinDefaultAgent() *AgentManifest {
	return &AgentManifest{
		Name:             "default",
		Description:      "Built-in default agent",
		Tools:            []string{"*"},
		AllowedTools:     []string{"fs_read"},
		Resources:        []string{"README.md", "AmazonQ.md", ".amazonq/rules/**/*.md"},
		UseLegacyMcpJSON: true,
	}
}

// ToolsSettingFor decodes the raw tools_settings entry for name into dst.
func (a *AgentManifest) ToolsSettingFor(name string, dst any) (bool, error) {
	raw, ok := a.ToolsSettings[name]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}
