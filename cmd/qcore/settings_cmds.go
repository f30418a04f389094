package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/qcore/internal/settings"
)

// buildSettingsCmd builds the "settings get/set" command group, grounded on
// cmd/nexus/commands_profile.go's small flat subcommand-group shape.
func buildSettingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "View or change persisted qcore settings",
	}
	cmd.AddCommand(buildSettingsGetCmd(), buildSettingsSetCmd())
	return cmd
}

func buildSettingsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := settings.Load(settings.ConfigDir(), nil)
			if err != nil {
				return err
			}
			value, err := settingField(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, value)
			return nil
		},
	}
}

func buildSettingsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a setting to the on-disk settings file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir := settings.ConfigDir()
			cfg, err := settings.Load(configDir, nil)
			if err != nil {
				return err
			}
			if err := setSettingField(&cfg, args[0], args[1]); err != nil {
				return err
			}
			return settings.Save(configDir, cfg)
		},
	}
}

func settingField(s settings.Settings, key string) (string, error) {
	switch key {
	case "default_agent":
		return s.DefaultAgent, nil
	case "model":
		return s.Model, nil
	case "log_level":
		return s.LogLevel, nil
	case "backend":
		return s.Backend, nil
	case "no_color":
		return fmt.Sprintf("%v", s.NoColor), nil
	default:
		return "", fmt.Errorf("unknown setting %q", key)
	}
}

func setSettingField(s *settings.Settings, key, value string) error {
	switch key {
	case "default_agent":
		s.DefaultAgent = value
	case "model":
		s.Model = value
	case "log_level":
		s.LogLevel = value
	case "backend":
		if value != "primary" && value != "alternative" {
			return fmt.Errorf("backend must be %q or %q", "primary", "alternative")
		}
		s.Backend = value
	case "no_color":
		s.NoColor = value == "true"
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}
