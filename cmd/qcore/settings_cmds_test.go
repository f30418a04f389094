package main

import (
	"testing"

	"github.com/corvid-labs/qcore/internal/settings"
)

func TestSettingFieldRoundTrip(t *testing.T) {
	cfg := settings.Settings{}
	cases := map[string]string{
		"default_agent": "reviewer",
		"model":         "claude-test",
		"log_level":     "debug",
		"backend":       "alternative",
		"no_color":      "true",
	}
	for key, value := range cases {
		if err := setSettingField(&cfg, key, value); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
		got, err := settingField(cfg, key)
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if got != value {
			t.Fatalf("%s: expected %q, got %q", key, value, got)
		}
	}
}

func TestSetSettingFieldRejectsUnknownBackend(t *testing.T) {
	cfg := settings.Settings{}
	if err := setSettingField(&cfg, "backend", "bogus"); err == nil {
		t.Fatal("expected an error for an unrecognized backend")
	}
}

func TestSettingFieldRejectsUnknownKey(t *testing.T) {
	cfg := settings.Settings{}
	if _, err := settingField(cfg, "nope"); err == nil {
		t.Fatal("expected an error for an unknown setting key")
	}
}
