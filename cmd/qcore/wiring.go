package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/corvid-labs/qcore/internal/agentloader"
	"github.com/corvid-labs/qcore/internal/backend"
	"github.com/corvid-labs/qcore/internal/convstate"
	"github.com/corvid-labs/qcore/internal/ctxassembler"
	"github.com/corvid-labs/qcore/internal/engine"
	"github.com/corvid-labs/qcore/internal/hookrunner"
	"github.com/corvid-labs/qcore/internal/mcpclient"
	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/settings"
	"github.com/corvid-labs/qcore/internal/store"
	"github.com/corvid-labs/qcore/internal/telemetry"
	"github.com/corvid-labs/qcore/internal/tools"
	"github.com/corvid-labs/qcore/internal/tools/awscli"
	execpkg "github.com/corvid-labs/qcore/internal/tools/exec"
	"github.com/corvid-labs/qcore/internal/tools/files"
	"github.com/corvid-labs/qcore/internal/tools/issue"
	"github.com/corvid-labs/qcore/internal/tools/knowledge"
	"github.com/corvid-labs/qcore/internal/tools/thinking"
	"github.com/corvid-labs/qcore/internal/tools/todolist"
	"github.com/corvid-labs/qcore/internal/toolspolicy"
)

// session bundles everything buildEngine assembles so chat.go and the
// management subcommands can share one wiring path.
type session struct {
	engine   *engine.Engine
	store    *store.Store
	settings settings.Settings
	manifest *models.AgentManifest
	mcp      *mcpclient.Registry
	logger   *slog.Logger
}

// buildSession wires C1-C10 plus the ambient store/settings for one CLI
// invocation, resolving agentName through internal/agentloader and the
// backend variant through settings.Backend.
func buildSession(ctx context.Context, agentName, backendOverride string, noInteractive bool) (*session, error) {
	logger := slog.Default()

	configDir := settings.ConfigDir()
	cfg, err := settings.Load(configDir, &settings.Settings{Backend: backendOverride})
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if agentName == "" {
		agentName = cfg.DefaultAgent
	}

	st, err := store.Open(configDir + "/qcore.db")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	workspace, err := os.Getwd()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}

	loader := agentloader.New(workspace, logger)
	manifest, err := loader.Load(agentName)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load agent %q: %w", agentName, err)
	}

	var mcpRegistry *mcpclient.Registry
	if len(manifest.McpServers) > 0 {
		mcpRegistry = mcpclient.NewRegistry(ctx, manifest.McpServers)
	}

	builtins, executors := buildExecutors(workspace, st)

	var mcpSpecs []models.ToolSpec
	if mcpRegistry != nil {
		mcpSpecs = mcpRegistry.ToolSpecs()
	}
	policy, err := toolspolicy.New(manifest, builtins, mcpSpecs)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build tool policy: %w", err)
	}

	hooks := hookrunner.New(manifest, logger)
	assembler, err := ctxassembler.New(ctx, manifest, &ctxassembler.FSResourceLoader{Root: workspace}, hooks)
	if err != nil {
		st.Close()
		hooks.Close()
		return nil, fmt.Errorf("build context assembler: %w", err)
	}

	provider, err := buildProvider(ctx, cfg, st)
	if err != nil {
		st.Close()
		hooks.Close()
		return nil, err
	}

	recorder := telemetry.NewRecorder(prometheus.DefaultRegisterer)

	var confirmer engine.Confirmer = engine.AutoDenyConfirmer{}
	if !noInteractive {
		confirmer = engine.TerminalConfirmer{In: os.Stdin, Out: os.Stdout, Fd: int(os.Stdin.Fd())}
	}

	state := convstate.New(manifest.Name)

	e := &engine.Engine{
		State:     state,
		Assembler: assembler,
		Backend:   provider,
		Policy:    policy,
		MCP:       mcpRegistry,
		Executors: executors,
		Confirmer: confirmer,
		Telemetry: recorder,
		Logger:    logger,
	}

	return &session{engine: e, store: st, settings: cfg, manifest: manifest, mcp: mcpRegistry, logger: logger}, nil
}

func (s *session) Close() {
	if s.mcp != nil {
		s.mcp.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// buildProvider resolves the API key from the environment first, falling
// back to a token previously saved by `qcore login` in the store.
func buildProvider(ctx context.Context, cfg settings.Settings, st *store.Store) (backend.Provider, error) {
	switch cfg.Backend {
	case "alternative":
		key := resolveAPIKey(ctx, st, "OPENAI_API_KEY", "openai")
		return backend.NewAlternativeProvider(backend.AlternativeConfig{
			APIKey:       key,
			DefaultModel: cfg.Model,
		})
	default:
		key := resolveAPIKey(ctx, st, "ANTHROPIC_API_KEY", "anthropic")
		return backend.NewPrimary(backend.PrimaryConfig{
			APIKey:       key,
			DefaultModel: cfg.Model,
		}, slog.Default())
	}
}

func resolveAPIKey(ctx context.Context, st *store.Store, envVar, provider string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if token, ok, err := st.GetAuthToken(ctx, provider); err == nil && ok {
		return token
	}
	return ""
}

// buildExecutors constructs every built-in tool executor, returning both the
// models.ToolSpec list (for toolspolicy.Build) and the name-keyed dispatch
// map the engine uses at invocation time.
func buildExecutors(workspace string, st *store.Store) ([]models.ToolSpec, map[string]tools.Executor) {
	execManager := execpkg.NewManager(workspace)
	filesCfg := files.Config{Workspace: workspace}

	named := map[string]tools.Executor{
		"fs_read":      files.NewReadTool(filesCfg),
		"fs_write":     files.NewWriteTool(filesCfg),
		"execute_bash": execpkg.NewExecTool(execManager),
		"process":      execpkg.NewProcessTool(execManager),
		"use_aws":      awscli.New(),
		"report_issue": issue.New("", noninteractiveStdout()),
		"thinking":     thinking.New(),
		"todo_list":    todolist.New(workspace),
	}

	if kt, err := knowledge.New(workspace+"/.qcore-knowledge.db", nil); err == nil {
		named["knowledge"] = kt
	} else {
		slog.Default().Warn("knowledge tool unavailable", "error", err)
	}

	specs := make([]models.ToolSpec, 0, len(named))
	for name, ex := range named {
		specs = append(specs, models.ToolSpec{
			Name:              name,
			Origin:            models.OriginBuiltin,
			Description:       ex.Description(),
			InputSchema:       ex.Schema(),
			DefaultPermission: models.PromptUser,
		})
	}
	return specs, named
}

func noninteractiveStdout() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return true
	}
	return fi.Mode()&os.ModeCharDevice == 0
}
