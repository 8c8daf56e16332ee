package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Trigger decides when the next poll cycle runs. It is either a fixed
// interval ("3m") or a cron expression ("*/5 * * * *", "@hourly").
type Trigger struct {
	spec  string
	every time.Duration
	sched cron.Schedule
}

// ParseTrigger accepts a Go duration, an optional "cron:"/"every:" prefix,
// or a bare cron expression (detected by whitespace or a leading '@').
func ParseTrigger(raw string) (Trigger, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Trigger{}, fmt.Errorf("check interval required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		return parseCronTrigger(raw, expr)
	}
	if strings.HasPrefix(low, "every:") {
		return parseEveryTrigger(raw, strings.TrimSpace(s[len("every:"):]))
	}

	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCronTrigger(raw, s)
	}
	return parseEveryTrigger(raw, s)
}

func parseCronTrigger(raw, expr string) (Trigger, error) {
	if expr == "" {
		return Trigger{}, fmt.Errorf("cron expression required after 'cron:'")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid cron expression %q: %w", raw, err)
	}
	return Trigger{spec: raw, sched: sched}, nil
}

func parseEveryTrigger(raw, v string) (Trigger, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid interval %q (use a duration like '3m' or a cron expression)", raw)
	}
	if d < time.Second {
		return Trigger{}, fmt.Errorf("interval %q too small (min 1s)", raw)
	}
	return Trigger{spec: raw, every: d}, nil
}

func (t Trigger) IsZero() bool { return t.every == 0 && t.sched == nil }

// Next returns the wall time of the cycle after from.
func (t Trigger) Next(from time.Time) time.Time {
	if t.sched != nil {
		return t.sched.Next(from)
	}
	return from.Add(t.every)
}

func (t Trigger) String() string { return t.spec }
