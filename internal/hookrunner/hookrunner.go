// Package hookrunner implements the Hook Runner (C9): it executes the
// shell commands configured in an AgentManifest's hooks at the AgentSpawn
// and UserPromptSubmit lifecycle triggers, enforcing per-hook timeout and
// output-size caps. Hook failures are never fatal (spec.md §7): a timed-out
// hook yields a HookTimeout-tagged output block and a failing hook a
// HookError-tagged one (output truncated to max_output_size in both cases)
// instead of aborting the turn.
//
// Grounded on the teacher's internal/tools/exec/tools.go for the
// exec.CommandContext + timeout shape, with UserPromptSubmit's
// cache_ttl_seconds sweep delegated to robfig/cron/v3 instead of a
// hand-rolled ticker.
package hookrunner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/corvid-labs/qcore/internal/models"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultMaxOutputSize = 10 * 1024
)

// cacheEntry holds one cached UserPromptSubmit output keyed by prompt hash.
type cacheEntry struct {
	output    string
	expiresAt time.Time
}

// Runner executes a manifest's configured hooks.
type Runner struct {
	manifest *models.AgentManifest
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	cron *cron.Cron
}

// New constructs a Runner for manifest's hooks and starts the cron-driven
// cache sweeper for UserPromptSubmit outputs.
func New(manifest *models.AgentManifest, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		manifest: manifest,
		logger:   logger.With("component", "hookrunner"),
		cache:    map[string]cacheEntry{},
		cron:     cron.New(),
	}
	r.cron.Schedule(cron.Every(time.Minute), cron.FuncJob(r.sweepExpired))
	r.cron.Start()
	return r
}

// Close stops the background cache sweeper.
func (r *Runner) Close() { r.cron.Stop() }

func (r *Runner) sweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for k, v := range r.cache {
		if now.After(v.expiresAt) {
			delete(r.cache, k)
		}
	}
}

// RunAgentSpawn runs every AgentSpawn hook once and concatenates their
// output. Called once at session start; the result is baked permanently
// into the system prompt by the Context Assembler (C6).
func (r *Runner) RunAgentSpawn(ctx context.Context) (string, error) {
	specs := r.manifest.Hooks[models.HookAgentSpawn]
	return r.runAll(ctx, specs, ""), nil
}

// RunUserPromptSubmit runs every UserPromptSubmit hook for prompt, caching
// the combined output per-prompt for cache_ttl_seconds (per the hook with
// the longest configured ttl, since one cache entry serves all configured
// hooks for this trigger).
func (r *Runner) RunUserPromptSubmit(ctx context.Context, prompt string) (string, error) {
	specs := r.manifest.Hooks[models.HookUserPromptSubmit]
	if len(specs) == 0 {
		return "", nil
	}

	key := cacheKey(prompt)
	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.output, nil
	}
	r.mu.Unlock()

	out := r.runAll(ctx, specs, prompt)

	ttl := maxTTL(specs)
	if ttl > 0 {
		r.mu.Lock()
		r.cache[key] = cacheEntry{output: out, expiresAt: time.Now().Add(time.Duration(ttl) * time.Second)}
		r.mu.Unlock()
	}
	return out, nil
}

func maxTTL(specs []models.HookSpec) int {
	max := 0
	for _, s := range specs {
		if s.CacheTTLSeconds > max {
			max = s.CacheTTLSeconds
		}
	}
	return max
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func (r *Runner) runAll(ctx context.Context, specs []models.HookSpec, promptArg string) string {
	var sb strings.Builder
	for _, spec := range specs {
		out := r.runOne(ctx, spec, promptArg)
		if out == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(out)
	}
	return sb.String()
}

func (r *Runner) runOne(ctx context.Context, spec models.HookSpec, promptArg string) string {
	timeout := defaultTimeout
	if spec.TimeoutMs > 0 {
		timeout = time.Duration(spec.TimeoutMs) * time.Millisecond
	}
	maxOutput := defaultMaxOutputSize
	if spec.MaxOutputSize > 0 {
		maxOutput = spec.MaxOutputSize
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", spec.Command)
	if promptArg != "" {
		cmd.Env = append(cmd.Environ(), "Q_PROMPT="+promptArg)
	}
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := buf.String()
	if len(output) > maxOutput {
		output = output[:maxOutput] + "\n...[truncated]"
	}

	if runCtx.Err() == context.DeadlineExceeded {
		r.logger.Warn("hook_timeout", "command", spec.Command, "timeout", timeout)
		return fmt.Sprintf("[HookTimeout: %s]\n%s", spec.Command, output)
	}
	if err != nil {
		r.logger.Warn("hook_failed", "command", spec.Command, "error", err)
		return fmt.Sprintf("[HookError: %s: %v]\n%s", spec.Command, err, output)
	}
	return output
}
