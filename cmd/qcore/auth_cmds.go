package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/qcore/internal/settings"
	"github.com/corvid-labs/qcore/internal/store"
)

// buildLoginCmd prompts for and persists a backend provider's API token into
// the sqlite-backed auth_tokens table, so a subsequent chat session can run
// without the corresponding environment variable set.
func buildLoginCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a provider API token for future sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				provider = "anthropic"
			}
			fmt.Fprintf(os.Stdout, "Paste your %s API token: ", provider)
			reader := bufio.NewReader(os.Stdin)
			token, err := reader.ReadString('\n')
			if err != nil {
				return fmt.Errorf("read token: %w", err)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("empty token")
			}

			st, err := store.Open(settings.ConfigDir() + "/qcore.db")
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.SetAuthToken(context.Background(), provider, token); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "saved", provider, "token")
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (anthropic or openai; default anthropic)")
	return cmd
}

func buildLogoutCmd() *cobra.Command {
	var provider string
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove a provider's stored API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				provider = "anthropic"
			}
			st, err := store.Open(settings.ConfigDir() + "/qcore.db")
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			if err := st.DeleteAuthToken(context.Background(), provider); err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, "removed", provider, "token")
			return nil
		},
	}
	cmd.Flags().StringVar(&provider, "provider", "", "Provider name (anthropic or openai; default anthropic)")
	return cmd
}
