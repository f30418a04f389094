package main

import "testing"

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"chat", "agent", "settings", "mcp", "login", "logout"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestExitCodeErrImplementsExitCoder(t *testing.T) {
	var err error = &exitCodeErr{code: 130, err: fakeErr{}}
	ec, ok := err.(exitCoder)
	if !ok {
		t.Fatal("expected *exitCodeErr to satisfy exitCoder")
	}
	if ec.ExitCode() != 130 {
		t.Fatalf("expected exit code 130, got %d", ec.ExitCode())
	}
	if ec.Error() != "canceled" {
		t.Fatalf("expected wrapped error message %q, got %q", "canceled", ec.Error())
	}
}

type fakeErr struct{}

func (fakeErr) Error() string { return "canceled" }
