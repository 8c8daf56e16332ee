package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
twitter:
  bearer_token: "${KOLWATCH_TEST_BEARER}"
  max_results: 20
telegram:
  bot_token: "123:abc"
  channel: "@alerts"
watch:
  handles: [alice, bob]
  check_interval: "3m"
  lookback: "1h"
logging:
  level: debug
  console: true
  file:
    enabled: false
    path: ""
  telegram:
    enabled: false
    min_level: ""
    rate_per_sec: 0
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManagerParseYAML(t *testing.T) {
	t.Setenv("KOLWATCH_TEST_BEARER", "secret-bearer")

	path := writeConfig(t, "config.yaml", validYAML)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Twitter.BearerToken != "secret-bearer" {
		t.Fatalf("bearer_token = %q, env expansion failed", cfg.Twitter.BearerToken)
	}
	if cfg.Twitter.MaxResults != 20 {
		t.Fatalf("max_results = %d", cfg.Twitter.MaxResults)
	}
	if cfg.Telegram.Channel != "@alerts" {
		t.Fatalf("channel = %q", cfg.Telegram.Channel)
	}
	if len(cfg.Watch.Handles) != 2 || cfg.Watch.Handles[0] != "alice" {
		t.Fatalf("handles = %v", cfg.Watch.Handles)
	}
	if !cfg.AnnounceEnabled() {
		t.Fatal("announce should default to true")
	}
}

func TestManagerParseJSON(t *testing.T) {
	t.Setenv("KOLWATCH_TEST_BEARER", "secret-bearer")

	path := writeConfig(t, "config.json", `{
		"twitter": {"bearer_token": "tok"},
		"telegram": {"bot_token": "123:abc", "channel": "-1001234"},
		"watch": {"handles": ["alice"], "check_interval": "5m", "lookback": "2h"},
		"logging": {"level": "info", "console": true,
			"file": {"enabled": false, "path": ""},
			"telegram": {"enabled": false, "min_level": "", "rate_per_sec": 0}}
	}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Watch.CheckInterval != "5m" {
		t.Fatalf("check_interval = %q", cfg.Watch.CheckInterval)
	}
}

func TestManagerParseRejectsUnknownFields(t *testing.T) {
	t.Setenv("KOLWATCH_TEST_BEARER", "secret-bearer")

	path := writeConfig(t, "config.yaml", validYAML+"\nunknown_section:\n  x: 1\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown top-level key should be rejected")
	}
}

func TestManagerParseMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(filepath.Join(t.TempDir(), "nope.yaml")).Parse(); err == nil {
		t.Fatal("missing file should be an error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Twitter:  TwitterConfig{BearerToken: "tok"},
			Telegram: TelegramConfig{BotToken: "123:abc", Channel: "@alerts"},
			Watch: WatchConfig{
				Handles:       []string{"alice"},
				CheckInterval: "3m",
				Lookback:      "1h",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing bearer token", func(c *Config) { c.Twitter.BearerToken = " " }, "bearer_token"},
		{"missing bot token", func(c *Config) { c.Telegram.BotToken = "" }, "bot_token"},
		{"missing channel", func(c *Config) { c.Telegram.Channel = "" }, "channel"},
		{"no handles", func(c *Config) { c.Watch.Handles = nil }, "handles"},
		{"handle with at sign", func(c *Config) { c.Watch.Handles = []string{"@alice"} }, "leading '@'"},
		{"empty handle", func(c *Config) { c.Watch.Handles = []string{" "} }, "empty entry"},
		{"missing interval", func(c *Config) { c.Watch.CheckInterval = "" }, "check_interval"},
		{"missing lookback", func(c *Config) { c.Watch.Lookback = "" }, "lookback"},
		{"bad lookback", func(c *Config) { c.Watch.Lookback = "soon" }, "lookback"},
		{"bad client timeout", func(c *Config) { c.Telegram.ClientTimeout = "fast" }, "client_timeout"},
		{"bad budget window", func(c *Config) { c.Twitter.BudgetWindow = "15" }, "budget_window"},
		{
			"sqlite without path",
			func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} },
			"storage.path",
		},
		{
			"unknown storage driver",
			func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres", Path: "x"} },
			"not supported",
		},
		{
			"bad notifier duration",
			func(c *Config) { c.Notifier = &NotifierConfig{RetryBase: "later"} },
			"retry_base",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	if d, err := ParseDurationField("x", "90s"); err != nil || d.Seconds() != 90 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1m"); err == nil {
		t.Fatal("negative duration should fail")
	}
	if _, err := ParseDurationField("x", "forever"); err == nil {
		t.Fatal("garbage duration should fail")
	}
}
