// Package exec implements the execute_bash tool executor (C4): it runs a
// command via the user's shell, classifies it read-only or not for the
// permission policy and concurrency rule, and terminates subprocesses with
// SIGTERM then SIGKILL after 2s on cancellation. Background process
// lifecycle management (ProcessTool) is carried over from the teacher as
// supplementary enrichment — not required by the tool contract itself, but
// exercised by the same Manager and subject to the same cancellation rules.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
	"github.com/corvid-labs/qcore/internal/toolspolicy"
)

// ExecTool runs shell commands as execute_bash.
type ExecTool struct {
	manager *Manager
}

// NewExecTool creates the execute_bash tool bound to manager.
func NewExecTool(manager *Manager) *ExecTool {
	return &ExecTool{manager: manager}
}

func (t *ExecTool) Name() string        { return "execute_bash" }
func (t *ExecTool) Description() string { return "Run a shell command in the workspace (supports optional background execution)." }
func (t *ExecTool) ReadOnly() bool      { return false }

// IsReadOnlyInput implements tools.ReadOnlyInput: execute_bash is read-only
// only when every pipeline segment of command is a recognized read-only
// utility, per spec.md §4.4.
func (t *ExecTool) IsReadOnlyInput(input json.RawMessage) bool {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return false
	}
	return toolspolicy.ClassifyReadOnly(in.Command)
}

func (t *ExecTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command":         map[string]any{"type": "string", "description": "Shell command to execute."},
			"cwd":             map[string]any{"type": "string", "description": "Working directory (relative to workspace)."},
			"env":             map[string]any{"type": "object", "description": "Environment overrides (string values)."},
			"input":           map[string]any{"type": "string", "description": "Stdin content to pass to the command."},
			"timeout_seconds": map[string]any{"type": "integer", "description": "Timeout in seconds (0 = no timeout).", "minimum": 0},
			"background":      map[string]any{"type": "boolean", "description": "Run in background and return a process id."},
		},
		"required": []string{"command"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *ExecTool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	if t.manager == nil {
		return tools.Errorf("exec manager unavailable"), nil
	}
	var in struct {
		Command        string            `json:"command"`
		Cwd            string            `json:"cwd"`
		Env            map[string]string `json:"env"`
		Input          string            `json:"input"`
		TimeoutSeconds int               `json:"timeout_seconds"`
		Background     bool              `json:"background"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid execute_bash input: %v", err)), nil
	}
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return tools.Errorf("command is required"), nil
	}

	timeout := time.Duration(in.TimeoutSeconds) * time.Second

	if in.Background {
		proc, err := t.manager.startBackground(ctx, command, in.Cwd, in.Env, in.Input, timeout)
		if err != nil {
			return tools.Errorf(err.Error()), nil
		}
		payload, _ := json.MarshalIndent(map[string]any{"status": "running", "process_id": proc.id}, "", "  ")
		return tools.Text(string(payload)), nil
	}

	result, err := t.manager.runSync(ctx, command, in.Cwd, in.Env, in.Input, timeout)
	if err != nil {
		return tools.Errorf(err.Error()), nil
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return tools.Errorf(fmt.Sprintf("encode result: %v", err)), nil
	}
	if result.Cancelled {
		return tools.Errorf("cancelled"), nil
	}
	if result.ExitCode != 0 {
		return tools.Errorf(string(payload)), nil
	}
	return tools.Text(string(payload)), nil
}

// ProcessTool inspects and manages background exec processes started via
// execute_bash's background mode.
type ProcessTool struct {
	manager *Manager
}

// NewProcessTool creates a process tool.
func NewProcessTool(manager *Manager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

func (t *ProcessTool) Name() string        { return "process" }
func (t *ProcessTool) Description() string { return "Manage background exec processes (list, status, log, write, kill, remove)." }
func (t *ProcessTool) ReadOnly() bool      { return false }

func (t *ProcessTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action":     map[string]any{"type": "string", "description": "Action: list, status, log, write, kill, remove."},
			"process_id": map[string]any{"type": "string", "description": "Process id for actions that target a process."},
			"input":      map[string]any{"type": "string", "description": "Input for write action."},
		},
		"required": []string{"action"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *ProcessTool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	if t.manager == nil {
		return tools.Errorf("process manager unavailable"), nil
	}
	var in struct {
		Action    string `json:"action"`
		ProcessID string `json:"process_id"`
		Input     string `json:"input"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid process input: %v", err)), nil
	}
	action := strings.ToLower(strings.TrimSpace(in.Action))
	if action == "" {
		return tools.Errorf("action is required"), nil
	}

	if action == "list" {
		payload, _ := json.MarshalIndent(map[string]any{"processes": t.manager.list()}, "", "  ")
		return tools.Text(string(payload)), nil
	}

	if strings.TrimSpace(in.ProcessID) == "" {
		return tools.Errorf("process_id is required"), nil
	}
	proc, ok := t.manager.get(strings.TrimSpace(in.ProcessID))
	if !ok {
		return tools.Errorf("process not found"), nil
	}

	switch action {
	case "status":
		payload, _ := json.MarshalIndent(proc.info(), "", "  ")
		return tools.Text(string(payload)), nil
	case "log":
		payload, _ := json.MarshalIndent(map[string]any{
			"stdout": proc.stdout.String(),
			"stderr": proc.stderr.String(),
			"status": proc.status(),
		}, "", "  ")
		return tools.Text(string(payload)), nil
	case "write":
		if proc.stdin == nil {
			return tools.Errorf("process stdin unavailable"), nil
		}
		if in.Input == "" {
			return tools.Errorf("input is required"), nil
		}
		if _, err := proc.stdin.Write([]byte(in.Input)); err != nil {
			return tools.Errorf(fmt.Sprintf("write stdin: %v", err)), nil
		}
		return tools.Text(`{"status":"written"}`), nil
	case "kill":
		if proc.cmd.Process == nil {
			return tools.Errorf("process not running"), nil
		}
		if err := terminate(proc.cmd); err != nil {
			return tools.Errorf(fmt.Sprintf("kill process: %v", err)), nil
		}
		return tools.Text(`{"status":"killed"}`), nil
	case "remove":
		if proc.status() == "running" {
			return tools.Errorf("process still running"), nil
		}
		if !t.manager.remove(proc.id) {
			return tools.Errorf("remove failed"), nil
		}
		return tools.Text(`{"status":"removed"}`), nil
	default:
		return tools.Errorf("unsupported action"), nil
	}
}
