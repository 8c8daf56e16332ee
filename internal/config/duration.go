package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-typed fields (watch.lookback, telegram.client_timeout, the
// notifier retry knobs) are plain strings in Go duration syntax so the
// config file stays readable: "90s", "3m", "1h30m".

// ParseDurationField parses one such field. An empty value means unset and
// yields zero without error; path names the field in error messages.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf(`%s: bad duration %q (use forms like "30s" or "5m"): %w`, path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration %q must not be negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for fields
// left unset or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
