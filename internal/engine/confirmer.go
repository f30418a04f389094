package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// Confirmer asks the user whether a PromptUser-decision tool call should
// execute. Implementations must be safe to call repeatedly within one turn.
type Confirmer interface {
	Confirm(ctx context.Context, toolName string, input json.RawMessage) (bool, error)
}

// TerminalConfirmer reads a y/n answer from stdin, per SPEC_FULL.md's
// §2 Domain Stack entry for golang.org/x/term: it uses term.IsTerminal to
// detect an interactive session (falling back to auto-deny when none is
// attached, e.g. when stdin is piped) and a plain bufio.Reader for the
// actual answer, since x/term's raw-mode APIs don't fit a visible y/n
// prompt.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer
	Fd  int // file descriptor backing In, for the TTY check
}

// Confirm implements Confirmer.
func (c TerminalConfirmer) Confirm(ctx context.Context, toolName string, input json.RawMessage) (bool, error) {
	if !term.IsTerminal(c.Fd) {
		fmt.Fprintf(c.Out, "non-interactive session: auto-denying %s\n", toolName)
		return false, nil
	}

	fmt.Fprintf(c.Out, "Allow %s with input %s? [y/N] ", toolName, string(input))
	reader := bufio.NewReader(c.In)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

// AutoDenyConfirmer always declines, for --no-interactive sessions and
// tests.
type AutoDenyConfirmer struct{}

func (AutoDenyConfirmer) Confirm(ctx context.Context, toolName string, input json.RawMessage) (bool, error) {
	return false, nil
}
