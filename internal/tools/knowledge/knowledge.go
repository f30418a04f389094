// Package knowledge implements the knowledge tool executor (C4): a
// semantic-search subsystem over sqlite-stored text+embedding rows
// (add/remove/update/show/search/status/cancel). Indexing runs on a
// background goroutine and the add/update operations return an operation id
// immediately, per spec.md §4.4.
//
// Grounded on internal/memory/backend/sqlitevec/backend.go's
// sql.Open("sqlite3", ...)+CREATE TABLE+brute-force cosine-similarity scan
// shape (modernc.org/sqlite, pure-Go, no CGO dependency), and on the
// async-operation-id pattern used across the teacher's background job
// surfaces for long-running work.
package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

// Embedder produces a vector embedding for a piece of text. Swappable so the
// knowledge tool doesn't hardcode a specific embeddings provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type knowledgeInput struct {
	Operation   string `json:"operation"`
	ID          string `json:"id,omitempty"`
	Content     string `json:"content,omitempty"`
	Query       string `json:"query,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type operation struct {
	id     string
	status string // running, complete, failed, cancelled
	err    string
	cancel func()
}

// Tool implements the knowledge tool, backed by a sqlite database at path.
type Tool struct {
	db       *sql.DB
	embedder Embedder

	mu  sync.Mutex
	ops map[string]*operation
}

// New opens (or creates) the sqlite-backed knowledge store at path.
func New(path string, embedder Embedder) (*Tool, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open knowledge store: %w", err)
	}
	t := &Tool{db: db, embedder: embedder, ops: map[string]*operation{}}
	if err := t.init(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tool) init() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS knowledge_entries (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create knowledge_entries table: %w", err)
	}
	return nil
}

func (t *Tool) Name() string        { return "knowledge" }
func (t *Tool) Description() string { return "Add, remove, update, and semantically search persisted knowledge entries." }
func (t *Tool) ReadOnly() bool      { return false }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation":    map[string]any{"type": "string", "enum": []string{"add", "remove", "update", "show", "search", "status", "cancel"}},
			"id":           map[string]any{"type": "string"},
			"content":      map[string]any{"type": "string"},
			"query":        map[string]any{"type": "string"},
			"operation_id": map[string]any{"type": "string"},
			"limit":        map[string]any{"type": "integer"},
		},
		"required": []string{"operation"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in knowledgeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid knowledge input: %v", err)), nil
	}

	switch strings.ToLower(in.Operation) {
	case "add":
		return t.startIndexing(ctx, "", in.Content)
	case "update":
		return t.startIndexing(ctx, in.ID, in.Content)
	case "remove":
		return t.remove(ctx, in.ID)
	case "show":
		return t.show(ctx, in.ID)
	case "search":
		return t.search(ctx, in.Query, in.Limit)
	case "status":
		return t.status(in.OperationID)
	case "cancel":
		return t.cancelOp(in.OperationID)
	default:
		return tools.Errorf(fmt.Sprintf("unknown operation %q", in.Operation)), nil
	}
}

// startIndexing launches embedding+upsert on a background goroutine and
// returns its operation id immediately.
func (t *Tool) startIndexing(parent context.Context, id, content string) (*models.ToolResultMsg, error) {
	if strings.TrimSpace(content) == "" {
		return tools.Errorf("content is required"), nil
	}
	if id == "" {
		id = uuid.NewString()
	}

	opCtx, cancel := context.WithCancel(context.Background())
	op := &operation{id: uuid.NewString(), status: "running", cancel: cancel}
	t.mu.Lock()
	t.ops[op.id] = op
	t.mu.Unlock()

	go func() {
		defer cancel()
		var embedding []float32
		if t.embedder != nil {
			var err error
			embedding, err = t.embedder.Embed(opCtx, content)
			if err != nil {
				t.finishOp(op.id, "failed", err.Error())
				return
			}
		}
		if err := t.upsert(opCtx, id, content, embedding); err != nil {
			t.finishOp(op.id, "failed", err.Error())
			return
		}
		t.finishOp(op.id, "complete", "")
	}()

	payload, _ := json.Marshal(map[string]any{"operation_id": op.id, "entry_id": id, "status": "running"})
	return tools.Text(string(payload)), nil
}

func (t *Tool) finishOp(opID, status, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if op, ok := t.ops[opID]; ok {
		op.status = status
		op.err = errMsg
	}
}

func (t *Tool) status(opID string) (*models.ToolResultMsg, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[opID]
	if !ok {
		return tools.Errorf("operation not found"), nil
	}
	payload, _ := json.Marshal(map[string]any{"operation_id": op.id, "status": op.status, "error": op.err})
	return tools.Text(string(payload)), nil
}

func (t *Tool) cancelOp(opID string) (*models.ToolResultMsg, error) {
	t.mu.Lock()
	op, ok := t.ops[opID]
	t.mu.Unlock()
	if !ok {
		return tools.Errorf("operation not found"), nil
	}
	op.cancel()
	t.finishOp(opID, "cancelled", "")
	return tools.Text(`{"status":"cancelled"}`), nil
}

func (t *Tool) upsert(ctx context.Context, id, content string, embedding []float32) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (id, content, embedding, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, embedding = excluded.embedding, updated_at = CURRENT_TIMESTAMP
	`, id, content, encodeEmbedding(embedding))
	return err
}

func (t *Tool) remove(ctx context.Context, id string) (*models.ToolResultMsg, error) {
	if strings.TrimSpace(id) == "" {
		return tools.Errorf("id is required"), nil
	}
	if _, err := t.db.ExecContext(ctx, "DELETE FROM knowledge_entries WHERE id = ?", id); err != nil {
		return tools.Errorf(fmt.Sprintf("remove entry: %v", err)), nil
	}
	return tools.Text(`{"status":"removed"}`), nil
}

func (t *Tool) show(ctx context.Context, id string) (*models.ToolResultMsg, error) {
	if strings.TrimSpace(id) == "" {
		return tools.Errorf("id is required"), nil
	}
	row := t.db.QueryRowContext(ctx, "SELECT id, content, created_at, updated_at FROM knowledge_entries WHERE id = ?", id)
	var entryID, content string
	var createdAt, updatedAt time.Time
	if err := row.Scan(&entryID, &content, &createdAt, &updatedAt); err != nil {
		return tools.Errorf(fmt.Sprintf("entry not found: %v", err)), nil
	}
	payload, _ := json.MarshalIndent(map[string]any{
		"id": entryID, "content": content, "created_at": createdAt, "updated_at": updatedAt,
	}, "", "  ")
	return tools.Text(string(payload)), nil
}

func (t *Tool) search(ctx context.Context, query string, limit int) (*models.ToolResultMsg, error) {
	if strings.TrimSpace(query) == "" {
		return tools.Errorf("query is required"), nil
	}
	if limit <= 0 {
		limit = 10
	}

	var queryEmbedding []float32
	if t.embedder != nil {
		var err error
		queryEmbedding, err = t.embedder.Embed(ctx, query)
		if err != nil {
			return tools.Errorf(fmt.Sprintf("embed query: %v", err)), nil
		}
	}

	rows, err := t.db.QueryContext(ctx, "SELECT id, content, embedding FROM knowledge_entries")
	if err != nil {
		return tools.Errorf(fmt.Sprintf("search: %v", err)), nil
	}
	defer rows.Close()

	type scored struct {
		ID      string
		Content string
		Score   float64
	}
	var results []scored
	for rows.Next() {
		var id, content string
		var blob []byte
		if err := rows.Scan(&id, &content, &blob); err != nil {
			continue
		}
		score := 0.0
		if queryEmbedding != nil {
			score = cosineSimilarity(queryEmbedding, decodeEmbedding(blob))
		} else if strings.Contains(strings.ToLower(content), strings.ToLower(query)) {
			score = 1.0
		}
		if score > 0 {
			results = append(results, scored{ID: id, Content: content, Score: score})
		}
	}

	for i := 0; i < len(results); i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].Score > results[i].Score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
	if len(results) > limit {
		results = results[:limit]
	}

	payload, _ := json.MarshalIndent(results, "", "  ")
	return tools.Text(string(payload)), nil
}

func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		buf[i*4] = byte(bits)
		buf[i*4+1] = byte(bits >> 8)
		buf[i*4+2] = byte(bits >> 16)
		buf[i*4+3] = byte(bits >> 24)
	}
	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf) == 0 {
		return nil
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		bits := uint32(buf[i*4]) | uint32(buf[i*4+1])<<8 | uint32(buf[i*4+2])<<16 | uint32(buf[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
