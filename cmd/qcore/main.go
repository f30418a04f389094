// Package main provides the CLI entry point for qcore, a terminal coding
// agent: a REPL-style chat surface over the Agent Conversation Engine plus
// agent/settings/MCP/login management subcommands.
//
// Grounded on cmd/nexus/main.go's buildRootCmd()/buildXCmd() composition
// style and its slog.NewJSONHandler-on-stderr default logging setup.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

// run executes the CLI and returns the process exit code: 0 success, 1
// error (usage errors included), 130 interrupted (SIGINT during an
// interactive chat), per spec.md §6.
func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		if ec, ok := err.(exitCoder); ok {
			return ec.ExitCode()
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// exitCoder lets a RunE error carry a specific process exit code (e.g. 130
// for a cancelled chat session) without main() string-matching errors.
type exitCoder interface {
	error
	ExitCode() int
}

type exitCodeErr struct {
	code int
	err  error
}

func (e *exitCodeErr) Error() string { return e.err.Error() }
func (e *exitCodeErr) ExitCode() int { return e.code }

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "qcore",
		Short:         "qcore - a terminal coding agent",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildAgentCmd(),
		buildSettingsCmd(),
		buildMcpCmd(),
		buildLoginCmd(),
		buildLogoutCmd(),
	)
	return rootCmd
}
