package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bookingd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected a missing config file to fall back to defaults, got %v", err)
	}

	if config.Addr != ":8080" {
		t.Fatalf("expected the default addr, got %q", config.Addr)
	}
	if config.Calendar.Provider != "google" {
		t.Fatalf("expected the default provider, got %q", config.Calendar.Provider)
	}
	if config.Sessions.Backend != "memory" {
		t.Fatalf("expected the default session backend, got %q", config.Sessions.Backend)
	}
	if time.Duration(config.Sessions.TTL) != 30*time.Minute {
		t.Fatalf("expected the default session TTL, got %s", time.Duration(config.Sessions.TTL))
	}
}

func TestLoadConfigParsesDurationsAndOverrides(t *testing.T) {
	path := writeConfig(t, `
addr: ":9090"
timezone: "Europe/Zagreb"
calendar:
  provider: ical
  ical:
    url: "https://example.com/feed.ics"
sessions:
  backend: sqlite
  path: "sessions.db"
  ttl: 45m
engine:
  confidence_threshold: 0.7
  confirmation_ttl: 5m
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if config.Addr != ":9090" {
		t.Fatalf("expected the configured addr, got %q", config.Addr)
	}
	if time.Duration(config.Sessions.TTL) != 45*time.Minute {
		t.Fatalf("expected a 45m session TTL, got %s", time.Duration(config.Sessions.TTL))
	}
	if time.Duration(config.Engine.ConfirmationTTL) != 5*time.Minute {
		t.Fatalf("expected a 5m confirmation TTL, got %s", time.Duration(config.Engine.ConfirmationTTL))
	}
	if config.Engine.ConfidenceThreshold != 0.7 {
		t.Fatalf("expected the configured threshold, got %f", config.Engine.ConfidenceThreshold)
	}
}

func TestLoadConfigPrefersEnvironmentSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("TIMEZONE", "Europe/Zagreb")

	path := writeConfig(t, `
resolver:
  api_key: file-key
timezone: UTC
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("expected config to load, got %v", err)
	}

	if config.Resolver.APIKey != "env-key" {
		t.Fatalf("expected the environment key to win, got %q", config.Resolver.APIKey)
	}
	if config.Timezone != "Europe/Zagreb" {
		t.Fatalf("expected the environment timezone to win, got %q", config.Timezone)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("TIMEZONE", "")

	testCases := []struct {
		name     string
		contents string
	}{
		{name: "unknown provider", contents: "calendar:\n  provider: carrier-pigeon\n"},
		{name: "ical without url", contents: "calendar:\n  provider: ical\n"},
		{name: "unknown session backend", contents: "sessions:\n  backend: redis\n"},
		{name: "sqlite without path", contents: "sessions:\n  backend: sqlite\n"},
		{name: "bad timezone", contents: "timezone: Mars/Olympus_Mons\n"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			path := writeConfig(t, testCase.contents)
			if _, err := LoadConfig(path); err == nil {
				t.Fatalf("expected config to be rejected")
			}
		})
	}
}
