package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/qcore/internal/convstate"
	"github.com/corvid-labs/qcore/internal/ctxassembler"
)

// buildChatCmd builds the interactive/one-shot "chat" command, grounded on
// cmd/nexus/main.go's buildPromptCmd() flag-then-RunE shape.
func buildChatCmd() *cobra.Command {
	var (
		agentName     string
		backendName   string
		noInteractive bool
	)

	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Start (or continue) a conversation with the agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, strings.Join(args, " "), agentName, backendName, noInteractive)
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name (default: the configured default_agent)")
	cmd.Flags().StringVar(&backendName, "backend", "", "Backend variant: primary or alternative")
	cmd.Flags().BoolVar(&noInteractive, "no-interactive", false, "Auto-deny every confirmation prompt instead of asking")
	return cmd
}

// runChat drives one interactive session: if prompt is non-empty it is sent
// immediately as the first turn, then (unless --no-interactive) the command
// drops into a REPL reading further prompts and slash commands from stdin.
func runChat(cmd *cobra.Command, prompt, agentName, backendName string, noInteractive bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sess, err := buildSession(ctx, agentName, backendName, noInteractive)
	if err != nil {
		return err
	}
	defer sess.Close()

	render := func(chunk string) { fmt.Fprint(os.Stdout, chunk) }

	if prompt != "" {
		if err := sess.engine.RunTurn(ctx, prompt, render); err != nil {
			return turnErr(ctx, err)
		}
		fmt.Fprintln(os.Stdout)
	}

	if noInteractive {
		return nil
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stdout, "\n> ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if handled, quit := handleSlashCommand(sess, line); handled {
				if quit {
					return nil
				}
				continue
			}
		}

		if err := sess.engine.RunTurn(ctx, line, render); err != nil {
			if ctx.Err() != nil {
				return turnErr(ctx, err)
			}
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Fprintln(os.Stdout)
	}
}

// turnErr maps a cancelled context to the §6 exit code 130 convention by
// wrapping it in an exitCodeErr main.run() recognizes.
func turnErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return &exitCodeErr{code: 130, err: err}
	}
	return err
}

// handleSlashCommand implements the in-chat commands from spec.md §6.
// Returns (handled, quit).
func handleSlashCommand(sess *session, line string) (bool, bool) {
	fields := strings.Fields(line)
	cmdName := fields[0]

	switch cmdName {
	case "/quit", "/exit":
		return true, true
	case "/help":
		fmt.Fprintln(os.Stdout, "available commands: /help /quit /clear /context /tools /agent /model /mcp")
		return true, false
	case "/clear":
		sess.engine.State = convstate.New(sess.manifest.Name)
		fmt.Fprintln(os.Stdout, "conversation cleared")
		return true, false
	case "/context":
		printContextDiagnostics(sess)
		return true, false
	case "/tools":
		for _, spec := range sess.engine.Policy.List() {
			fmt.Fprintf(os.Stdout, "  %-24s %s\n", spec.Name, spec.Description)
		}
		return true, false
	case "/agent":
		fmt.Fprintln(os.Stdout, "current agent:", sess.manifest.Name)
		return true, false
	case "/model":
		fmt.Fprintln(os.Stdout, "current model:", sess.settings.Model)
		return true, false
	case "/mcp":
		printMcpStatus(sess)
		return true, false
	default:
		fmt.Fprintln(os.Stderr, "unknown command:", cmdName)
		return true, false
	}
}

// printContextDiagnostics implements the /context supplemented feature from
// SPEC_FULL.md §3: estimated token budget used and message count.
func printContextDiagnostics(sess *session) {
	history := sess.engine.State.History()
	used := ctxassembler.EstimateTokens(history)
	fmt.Fprintf(os.Stdout, "messages: %d\nestimated tokens used: %d / %d\n",
		len(history), used, 150_000)
}

func printMcpStatus(sess *session) {
	if sess.mcp == nil {
		fmt.Fprintln(os.Stdout, "no MCP servers configured for this agent")
		return
	}
	for name, st := range sess.mcp.Status() {
		health := "ok"
		if st.Unhealthy {
			health = "unhealthy: " + st.LastError
		}
		fmt.Fprintf(os.Stdout, "  %-16s %-10d %s\n", name, st.ToolCount, health)
	}
}
