// Package issue implements the report_issue tool executor (C4): it
// constructs an issue-template URL and opens it in the user's browser; in
// headless mode (no interactive UI collaborator attached) it is a no-op that
// returns the URL as text instead. Grounded on the teacher's channel
// adapters' headless-detection pattern (an adapter falls back to a
// text-only response when no interactive surface is present).
package issue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/corvid-labs/qcore/internal/models"
	"github.com/corvid-labs/qcore/internal/tools"
)

type reportIssueInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Tool implements report_issue.
type Tool struct {
	TrackerURL string
	Headless   bool
}

// New creates the report_issue tool. trackerURL is the issue-template base
// (e.g. a GitHub "new issue" link); headless suppresses the browser-open
// side effect for non-interactive sessions.
func New(trackerURL string, headless bool) *Tool {
	return &Tool{TrackerURL: trackerURL, Headless: headless}
}

func (t *Tool) Name() string        { return "report_issue" }
func (t *Tool) Description() string { return "Open an issue-template URL prefilled from the conversation." }
func (t *Tool) ReadOnly() bool      { return true }

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
		},
		"required": []string{"title"},
	}
	payload, _ := json.Marshal(schema)
	return payload
}

func (t *Tool) Invoke(ctx context.Context, input json.RawMessage) (*models.ToolResultMsg, error) {
	var in reportIssueInput
	if err := json.Unmarshal(input, &in); err != nil {
		return tools.Errorf(fmt.Sprintf("invalid report_issue input: %v", err)), nil
	}
	if strings.TrimSpace(in.Title) == "" {
		return tools.Errorf("title is required"), nil
	}

	base := t.TrackerURL
	if base == "" {
		base = "https://github.com/issues/new"
	}
	q := url.Values{}
	q.Set("title", in.Title)
	if in.Description != "" {
		q.Set("body", in.Description)
	}
	issueURL := base + "?" + q.Encode()

	if t.Headless {
		return tools.Text(fmt.Sprintf("headless mode: issue URL not opened: %s", issueURL)), nil
	}

	if err := openBrowser(ctx, issueURL); err != nil {
		return tools.Text(fmt.Sprintf("could not open browser (%v); issue URL: %s", err, issueURL)), nil
	}
	return tools.Text(fmt.Sprintf("opened: %s", issueURL)), nil
}

func openBrowser(ctx context.Context, target string) error {
	var cmd string
	var args []string
	switch runtime.GOOS {
	case "darwin":
		cmd, args = "open", []string{target}
	case "windows":
		cmd, args = "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		cmd, args = "xdg-open", []string{target}
	}
	return exec.CommandContext(ctx, cmd, args...).Start()
}
