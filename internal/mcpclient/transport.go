package mcpclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvid-labs/qcore/internal/models"
)

// transport is the per-server JSON-RPC 2.0 channel: stdio or streamable-HTTP.
// Grounded on internal/mcp/transport.go's Transport interface, narrowed to
// the request/response + close surface C5 needs (no resources/prompts/
// sampling notification plumbing).
type transport interface {
	connect(ctx context.Context) error
	close() error
	call(ctx context.Context, method string, params any) (json.RawMessage, error)
	notify(ctx context.Context, method string, params any) error
}

func newTransport(spec models.McpServerSpec) transport {
	if spec.Transport == models.TransportStreamableHTTP {
		return newHTTPTransport(spec)
	}
	return newStdioTransport(spec)
}

// stdioTransport spawns the server as a subprocess and speaks line-delimited
// JSON-RPC over its stdin/stdout. Grounded on
// internal/mcp/transport_stdio.go, requests are serialized per server via
// nextID + a pending-response map exactly as the teacher does.
type stdioTransport struct {
	spec models.McpServerSpec

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner

	mu      sync.Mutex
	pending map[int64]chan *jsonrpcResponse
	nextID  atomic.Int64

	connected atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func newStdioTransport(spec models.McpServerSpec) *stdioTransport {
	return &stdioTransport{spec: spec, pending: map[int64]chan *jsonrpcResponse{}, stopCh: make(chan struct{})}
}

func (t *stdioTransport) connect(ctx context.Context) error {
	if t.spec.Command == "" {
		return fmt.Errorf("command is required for stdio transport")
	}
	t.cmd = exec.CommandContext(ctx, t.spec.Command, t.spec.Args...)
	t.cmd.Env = os.Environ()
	for k, v := range t.spec.Env {
		t.cmd.Env = append(t.cmd.Env, k+"="+v)
	}

	stdin, err := t.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := t.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdin = stdin
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1<<20), 1<<20)

	if err := t.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	t.connected.Store(true)

	t.wg.Add(1)
	go t.readLoop()
	return nil
}

func (t *stdioTransport) close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopCh)
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.cmd != nil && t.cmd.Process != nil {
		t.cmd.Process.Kill()
	}
	t.wg.Wait()
	return nil
}

func (t *stdioTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}
	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = payload
	}

	respCh := make(chan *jsonrpcResponse, 1)
	t.mu.Lock()
	t.pending[id] = respCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := time.Duration(t.spec.EffectiveTimeoutMs()) * time.Millisecond
	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("mcp error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopCh:
		return nil, fmt.Errorf("transport closed")
	}
}

func (t *stdioTransport) notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}
	notif := jsonrpcNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return err
		}
		notif.Params = payload
	}
	data, _ := json.Marshal(notif)
	_, err := t.stdin.Write(append(data, '\n'))
	return err
}

func (t *stdioTransport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)
	for t.stdout.Scan() {
		select {
		case <-t.stopCh:
			return
		default:
		}
		line := t.stdout.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp jsonrpcResponse
		if err := json.Unmarshal(line, &resp); err != nil || resp.ID == nil {
			continue
		}
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		default:
			continue
		}
		t.mu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.mu.Unlock()
	}
}

// httpTransport speaks one JSON-RPC request per HTTP POST against a
// streamable-HTTP MCP endpoint. Grounded on internal/mcp/transport_http.go,
// narrowed to request/response (the teacher's SSE notification loop has no
// home here since C5 only needs tools/list + tools/call).
type httpTransport struct {
	spec   models.McpServerSpec
	client *http.Client
}

func newHTTPTransport(spec models.McpServerSpec) *httpTransport {
	timeout := time.Duration(spec.EffectiveTimeoutMs()) * time.Millisecond
	return &httpTransport{spec: spec, client: &http.Client{Timeout: timeout}}
}

func (t *httpTransport) connect(ctx context.Context) error {
	if t.spec.URL == "" {
		return fmt.Errorf("url is required for streamable-http transport")
	}
	return nil
}

func (t *httpTransport) close() error { return nil }

func (t *httpTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = payload
	}
	body, _ := json.Marshal(req)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.spec.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.spec.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}

	var rpcResp jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func (t *httpTransport) notify(ctx context.Context, method string, params any) error {
	notif := jsonrpcNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return err
		}
		notif.Params = payload
	}
	body, _ := json.Marshal(notif)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.spec.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.spec.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
