package exec

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestExecToolRunsCommand(t *testing.T) {
	mgr := NewManager(t.TempDir())
	tool := NewExecTool(mgr)
	params, _ := json.Marshal(map[string]any{
		"command": "echo hello",
	})
	result, err := tool.Invoke(context.Background(), params)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.IsError() {
		t.Fatalf("expected success: %+v", result)
	}
	if !strings.Contains(result.Content[0].Text, "hello") {
		t.Fatalf("expected stdout in result: %s", result.Content[0].Text)
	}
}

func TestExecToolClassifiesReadOnly(t *testing.T) {
	tool := NewExecTool(NewManager(t.TempDir()))
	readOnly, _ := json.Marshal(map[string]any{"command": "ls -la | grep foo"})
	if !tool.IsReadOnlyInput(readOnly) {
		t.Fatal("expected ls | grep to classify as read-only")
	}
	mutating, _ := json.Marshal(map[string]any{"command": "rm -rf /tmp/x"})
	if tool.IsReadOnlyInput(mutating) {
		t.Fatal("expected rm to classify as not read-only")
	}
}

func TestExecToolReportsNonZeroExitAsError(t *testing.T) {
	tool := NewExecTool(NewManager(t.TempDir()))
	params, _ := json.Marshal(map[string]any{"command": "exit 1"})
	result, err := tool.Invoke(context.Background(), params)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !result.IsError() {
		t.Fatal("expected non-zero exit to surface as a tool error")
	}
}

func TestProcessToolLifecycle(t *testing.T) {
	mgr := NewManager(t.TempDir())
	execTool := NewExecTool(mgr)
	procTool := NewProcessTool(mgr)

	startParams, _ := json.Marshal(map[string]any{
		"command":    "sleep 5",
		"background": true,
	})
	startResult, err := execTool.Invoke(context.Background(), startParams)
	if err != nil || startResult.IsError() {
		t.Fatalf("start background: %v %+v", err, startResult)
	}
	var started struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal([]byte(startResult.Content[0].Text), &started); err != nil {
		t.Fatalf("decode start result: %v", err)
	}
	if started.ProcessID == "" {
		t.Fatal("expected a process id")
	}

	time.Sleep(50 * time.Millisecond)

	statusParams, _ := json.Marshal(map[string]any{"action": "status", "process_id": started.ProcessID})
	statusResult, err := procTool.Invoke(context.Background(), statusParams)
	if err != nil || statusResult.IsError() {
		t.Fatalf("status: %v %+v", err, statusResult)
	}

	killParams, _ := json.Marshal(map[string]any{"action": "kill", "process_id": started.ProcessID})
	if killResult, err := procTool.Invoke(context.Background(), killParams); err != nil || killResult.IsError() {
		t.Fatalf("kill: %v %+v", err, killResult)
	}
}

func TestProcessToolListEmpty(t *testing.T) {
	procTool := NewProcessTool(NewManager(t.TempDir()))
	listParams, _ := json.Marshal(map[string]any{"action": "list"})
	result, err := procTool.Invoke(context.Background(), listParams)
	if err != nil || result.IsError() {
		t.Fatalf("list: %v %+v", err, result)
	}
}
