package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/qcore/internal/agentloader"
	"github.com/corvid-labs/qcore/internal/models"
)

// workspaceAgentDir mirrors agentloader's unexported constant; kept in sync
// by hand since the create subcommand writes directly into it.
const workspaceAgentDir = ".amazonq/cli-agents"

// buildAgentCmd builds the "agent create/list/edit" command group, grounded
// on cmd/nexus/commands_agents.go's small flat subcommand-group shape.
func buildAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Create, list, and edit agent manifests",
	}
	cmd.AddCommand(buildAgentListCmd(), buildAgentCreateCmd(), buildAgentEditCmd())
	return cmd
}

func buildAgentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workspace and user agent manifests",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := os.Getwd()
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "default (built-in)")
			printAgentDir(filepath.Join(workspace, workspaceAgentDir), "workspace")

			home, _ := os.UserHomeDir()
			printAgentDir(filepath.Join(home, ".aws", "amazonq", "cli-agents"), "user")
			return nil
		},
	}
}

func printAgentDir(dir, scope string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		fmt.Fprintf(os.Stdout, "%s (%s)\n", e.Name()[:len(e.Name())-len(".json")], scope)
	}
}

func buildAgentCreateCmd() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new workspace agent manifest from the built-in default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			workspace, err := os.Getwd()
			if err != nil {
				return err
			}
			dir := filepath.Join(workspace, workspaceAgentDir)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create agent dir: %w", err)
			}
			path := filepath.Join(dir, name+".json")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("agent %q already exists at %s", name, path)
			}

			manifest := models.BuiltinDefaultAgent()
			manifest.Name = name
			if description != "" {
				manifest.Description = description
			}
			data, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal manifest: %w", err)
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write manifest: %w", err)
			}
			fmt.Fprintln(os.Stdout, "created", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Agent description")
	return cmd
}

func buildAgentEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <name>",
		Short: "Print the resolved path of an agent manifest for editing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace, err := os.Getwd()
			if err != nil {
				return err
			}
			loader := agentloader.New(workspace, nil)
			manifest, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			if manifest.SourcePath == "" {
				return fmt.Errorf("agent %q resolves to the built-in default; use 'agent create' first", args[0])
			}
			fmt.Fprintln(os.Stdout, manifest.SourcePath)
			return nil
		},
	}
}
