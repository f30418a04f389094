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

// buildMcpCmd builds the "mcp add/remove/list" command group, grounded on
// cmd/nexus/commands_mcp.go's buildMcpXCmd() flag-then-RunE shape (trimmed
// to the add/remove/list surface spec.md §6 names, since qcore has no
// interactive resource/prompt browser the way nexus's gateway does).
func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage an agent's configured MCP servers",
	}
	cmd.AddCommand(buildMcpListCmd(), buildMcpAddCmd(), buildMcpRemoveCmd())
	return cmd
}

func buildMcpListCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the MCP servers configured for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, _, err := loadManifestForEdit(agentName)
			if err != nil {
				return err
			}
			if len(manifest.McpServers) == 0 {
				fmt.Fprintln(os.Stdout, "no MCP servers configured")
				return nil
			}
			for name, spec := range manifest.McpServers {
				fmt.Fprintf(os.Stdout, "%-16s transport=%-10s command=%q url=%q\n", name, spec.Transport, spec.Command, spec.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name (default: the configured default_agent)")
	return cmd
}

func buildMcpAddCmd() *cobra.Command {
	var (
		agentName string
		command   string
		url       string
		args      []string
	)
	cmd := &cobra.Command{
		Use:   "add <server-name>",
		Short: "Add (or replace) an MCP server entry on an agent's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, cobraArgs []string) error {
			manifest, path, err := loadManifestForEdit(agentName)
			if err != nil {
				return err
			}
			if manifest.McpServers == nil {
				manifest.McpServers = map[string]models.McpServerSpec{}
			}
			spec := models.McpServerSpec{Command: command, Args: args, URL: url}
			if url != "" {
				spec.Transport = models.TransportStreamableHTTP
			} else {
				spec.Transport = models.TransportStdio
			}
			manifest.McpServers[cobraArgs[0]] = spec
			if err := saveManifest(path, manifest); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "added", cobraArgs[0], "to", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name (default: the configured default_agent)")
	cmd.Flags().StringVar(&command, "command", "", "Subprocess command for a stdio-transport server")
	cmd.Flags().StringVar(&url, "url", "", "Endpoint URL for a streamable-HTTP-transport server")
	cmd.Flags().StringArrayVar(&args, "arg", nil, "Argument to pass the subprocess command (repeatable)")
	return cmd
}

func buildMcpRemoveCmd() *cobra.Command {
	var agentName string
	cmd := &cobra.Command{
		Use:   "remove <server-name>",
		Short: "Remove an MCP server entry from an agent's manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, path, err := loadManifestForEdit(agentName)
			if err != nil {
				return err
			}
			if _, ok := manifest.McpServers[args[0]]; !ok {
				return fmt.Errorf("no MCP server named %q configured", args[0])
			}
			delete(manifest.McpServers, args[0])
			if err := saveManifest(path, manifest); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "removed", args[0], "from", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentName, "agent", "", "Agent name (default: the configured default_agent)")
	return cmd
}

// loadManifestForEdit resolves agentName's manifest and refuses to edit the
// built-in default in place, steering the user to `agent create` first.
func loadManifestForEdit(agentName string) (*models.AgentManifest, string, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, "", err
	}
	loader := agentloader.New(workspace, nil)
	manifest, err := loader.Load(agentName)
	if err != nil {
		return nil, "", err
	}
	if manifest.SourcePath == "" {
		return nil, "", fmt.Errorf("agent %q resolves to the built-in default; run 'qcore agent create %s' first", manifest.Name, manifest.Name)
	}
	return manifest, manifest.SourcePath, nil
}

func saveManifest(path string, manifest *models.AgentManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
