// Package todolist implements the todo_list tool executor (C4): CRUD over
// JSON files under .amazonq/cli-todo-lists/, one file per todo list.
// Grounded on internal/skills/discovery.go's LocalSource.Discover
// directory-listing style (os.Stat existence check, os.ReadDir iteration,
// tolerant-of-missing-directory semantics) adapted from skill-manifest
// discovery to todo-list file CRUD.
package todolist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

const dirName = ".amazonq/cli-todo-lists"

// Task is one item in a TodoList.
type Task struct {
	Description string `json:"description"`
	Complete    bool   `json:"complete"`
}

// TodoList is the on-disk JSON shape for one todo list.
type TodoList struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Tasks []Task `json:"tasks"`
}

type todoInput struct {
	Operation string `json:"operation"`
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Tasks     []Task `json:"tasks,omitempty"`
	Index     int    `json:"index,omitempty"`
	Query     string `json:"query,omitempty"`
}

// Tool implements todo_list.
type Tool struct {
	root string
}

// New creates the todo_list tool scoped to workspace (lists live under
// workspace/.amazonq/cli-todo-lists/).
func New(workspace string) *Tool {
	return &Tool{root: filepath.Join(workspace, dirName)}
}

func (t *Tool) Name() string        { return "todo_list" }
func (t *Tool) Description() string { return "Create, inspect, and update todo lists stored under .amazonq/cli-todo-lists/." }
func (t *Tool) ReadOnly() bool      { return false }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{"type": "string", "enum": []string{"create", "get", "update", "complete", "list", "search"}},
			"id":        map[string]any{"type": "string"},
			"title":     map[string]any{"type": "string"},
			"tasks":     map[string]any{"type": "array"},
			"index":     map[string]any{"type": "integer"},
			"query":     map[string]any{"type": "string"},
		},
		"required": []string{"operation"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in todoInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid todo_list input: %v", err)), nil
	}

	switch strings.ToLower(in.Operation) {
	case "create":
		return t.create(in)
	case "get":
		return t.get(in.ID)
	case "update":
		return t.update(in.ID, in.Tasks)
	case "complete":
		return t.complete(in.ID, in.Index)
	case "list":
		return t.list()
	case "search":
		return t.search(in.Query)
	default:
		return tools.Errorf(fmt.Sprintf("unknown operation %q", in.Operation)), nil
	}
}

func (t *Tool) create(in todoInput) (*models.ToolResultMsg, error) {
	list := TodoList{ID: uuid.NewString(), Title: in.Title, Tasks: in.Tasks}
	if err := t.save(list); err != nil {
		return tools.Errorf(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(list, "", "  ")
	return tools.Text(string(payload)), nil
}

func (t *Tool) get(id string) (*models.ToolResultMsg, error) {
	list, err := t.load(id)
	if err != nil {
		return tools.Errorf(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(list, "", "  ")
	return tools.Text(string(payload)), nil
}

func (t *Tool) update(id string, tasks []Task) (*models.ToolResultMsg, error) {
	list, err := t.load(id)
	if err != nil {
		return tools.Errorf(err.Error()), nil
	}
	list.Tasks = tasks
	if err := t.save(*list); err != nil {
		return tools.Errorf(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(list, "", "  ")
	return tools.Text(string(payload)), nil
}

func (t *Tool) complete(id string, index int) (*models.ToolResultMsg, error) {
	list, err := t.load(id)
	if err != nil {
		return tools.Errorf(err.Error()), nil
	}
	if index < 0 || index >= len(list.Tasks) {
		return tools.Errorf(fmt.Sprintf("task index %d out of range", index)), nil
	}
	list.Tasks[index].Complete = true
	if err := t.save(*list); err != nil {
		return tools.Errorf(err.Error()), nil
	}
	payload, _ := json.MarshalIndent(list, "", "  ")
	return tools.Text(string(payload)), nil
}

func (t *Tool) list() (*models.ToolResultMsg, error) {
	entries, err := os.ReadDir(t.root)
	if os.IsNotExist(err) {
		return tools.Text("[]"), nil
	}
	if err != nil {
		return tools.Errorf(fmt.Sprintf("list todo lists: %v", err)), nil
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
		}
	}
	payload, _ := json.Marshal(ids)
	return tools.Text(string(payload)), nil
}

func (t *Tool) search(query string) (*models.ToolResultMsg, error) {
	entries, err := os.ReadDir(t.root)
	if os.IsNotExist(err) {
		return tools.Text("[]"), nil
	}
	if err != nil {
		return tools.Errorf(fmt.Sprintf("search todo lists: %v", err)), nil
	}
	var matches []TodoList
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		list, err := t.load(id)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(list.Title), strings.ToLower(query)) {
			matches = append(matches, *list)
			continue
		}
		for _, task := range list.Tasks {
			if strings.Contains(strings.ToLower(task.Description), strings.ToLower(query)) {
				matches = append(matches, *list)
				break
			}
		}
	}
	payload, _ := json.MarshalIndent(matches, "", "  ")
	return tools.Text(string(payload)), nil
}

func (t *Tool) save(list TodoList) error {
	if err := os.MkdirAll(t.root, 0o755); err != nil {
		return fmt.Errorf("create todo-list directory: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode todo list: %w", err)
	}
	return os.WriteFile(t.path(list.ID), data, 0o644)
}

func (t *Tool) load(id string) (*TodoList, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("id is required")
	}
	data, err := os.ReadFile(t.path(id))
	if err != nil {
		return nil, fmt.Errorf("read todo list %s: %w", id, err)
	}
	var list TodoList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode todo list %s: %w", id, err)
	}
	return &list, nil
}

func (t *Tool) path(id string) string {
	return filepath.Join(t.root, id+".json")
}
