package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type Config struct {
	Twitter  TwitterConfig  `json:"twitter"`
	Telegram TelegramConfig `json:"telegram"`
	Watch    WatchConfig    `json:"watch"`
	Logging  LoggingConfig  `json:"logging"`

	// Notifier tunes the async delivery pipeline. If omitted, defaults apply.
	Notifier *NotifierConfig `json:"notifier,omitempty"`

	// Storage controls the optional persistence layer.
	//
	// Example:
	//
	//	"storage": { "driver": "sqlite", "path": "./kolwatch.db" }
	Storage *StorageConfig `json:"storage,omitempty"`
}

type TwitterConfig struct {
	// BearerToken supports ${ENV_VAR} expansion so the secret can stay out
	// of the config file.
	BearerToken string `json:"bearer_token"`
	BaseURL     string `json:"base_url,omitempty"`
	// MaxResults caps posts fetched per request (API accepts 10..100).
	MaxResults int `json:"max_results,omitempty"`
	// BudgetRequests per BudgetWindow forms the local search-API budget.
	// Defaults: 15 requests / "15m".
	BudgetRequests int    `json:"budget_requests,omitempty"`
	BudgetWindow   string `json:"budget_window,omitempty"`
}

type TelegramConfig struct {
	// BotToken supports ${ENV_VAR} expansion.
	BotToken string `json:"bot_token"`
	// Channel is the destination: a numeric chat id or "@channelname".
	// Supports ${ENV_VAR} expansion.
	Channel string `json:"channel"`
	// ClientTimeout is a Go duration string bounding each Bot API call.
	ClientTimeout string `json:"client_timeout,omitempty"`
}

type WatchConfig struct {
	Handles []string `json:"handles"`
	// CheckInterval is a Go duration ("3m") or a cron expression
	// ("*/5 * * * *", "@hourly").
	CheckInterval string `json:"check_interval"`
	// Lookback bounds eligible posts on the first cycle for a handle.
	Lookback string `json:"lookback"`
	// Announce sends a startup message to the channel. Defaults to true.
	Announce *bool `json:"announce,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NotifierConfig controls the async notification pipeline.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type NotifierConfig struct {
	Workers         int    `json:"workers,omitempty"`
	QueueSize       int    `json:"queue_size,omitempty"`
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	DedupWindow     string `json:"dedup_window,omitempty"`
	DedupMaxEntries int    `json:"dedup_max_entries,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ExpandEnv resolves ${VAR} references in secret-bearing fields.
func (c *Config) ExpandEnv() {
	c.Twitter.BearerToken = expand(c.Twitter.BearerToken)
	c.Telegram.BotToken = expand(c.Telegram.BotToken)
	c.Telegram.Channel = expand(c.Telegram.Channel)
}

func expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

// Validate checks everything needed to start. Failures here are fatal:
// the process exits instead of limping along with missing credentials.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Twitter.BearerToken) == "" {
		errs = append(errs, errors.New("twitter.bearer_token is required"))
	}
	if strings.TrimSpace(c.Telegram.BotToken) == "" {
		errs = append(errs, errors.New("telegram.bot_token is required"))
	}
	if strings.TrimSpace(c.Telegram.Channel) == "" {
		errs = append(errs, errors.New("telegram.channel is required"))
	}
	if len(c.Watch.Handles) == 0 {
		errs = append(errs, errors.New("watch.handles must list at least one account"))
	}
	for _, h := range c.Watch.Handles {
		if strings.TrimSpace(h) == "" {
			errs = append(errs, errors.New("watch.handles contains an empty entry"))
			break
		}
		if strings.HasPrefix(h, "@") {
			errs = append(errs, fmt.Errorf("watch.handles: %q must not include the leading '@'", h))
		}
	}
	if strings.TrimSpace(c.Watch.CheckInterval) == "" {
		errs = append(errs, errors.New("watch.check_interval is required"))
	}
	if _, err := ParseDurationField("watch.lookback", c.Watch.Lookback); err != nil {
		errs = append(errs, err)
	} else if strings.TrimSpace(c.Watch.Lookback) == "" {
		errs = append(errs, errors.New("watch.lookback is required"))
	}

	for _, f := range []struct{ path, raw string }{
		{"twitter.budget_window", c.Twitter.BudgetWindow},
		{"telegram.client_timeout", c.Telegram.ClientTimeout},
	} {
		if _, err := ParseDurationOrDefault(f.path, f.raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Notifier != nil {
		for _, f := range []struct{ path, raw string }{
			{"notifier.retry_base", c.Notifier.RetryBase},
			{"notifier.retry_max_delay", c.Notifier.RetryMaxDelay},
			{"notifier.dedup_window", c.Notifier.DedupWindow},
		} {
			if _, err := ParseDurationOrDefault(f.path, f.raw, 0); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(c.Storage.Path) == "" {
				errs = append(errs, errors.New("storage.path is required for sqlite driver"))
			}
			if _, err := ParseDurationOrDefault("storage.busy_timeout", c.Storage.BusyTimeout, 0); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
		}
	}

	return errors.Join(errs...)
}

// AnnounceEnabled reports whether the startup announcement is on (default true).
func (c *Config) AnnounceEnabled() bool {
	if c.Watch.Announce == nil {
		return true
	}
	return *c.Watch.Announce
}
