package watch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	rtsup "kolwatch/internal/runtime/supervisor"
	kit "kolwatch/internal/transport"
	"kolwatch/internal/twitter"
	logx "kolwatch/pkg/logx"
)

// Fetcher is the read side of the platform API.
type Fetcher interface {
	ResolveHandles(ctx context.Context, handles []string) (map[string]twitter.User, error)
	RecentPosts(ctx context.Context, userID string, since time.Time) ([]twitter.Post, error)
}

// Notifier delivers one message per fresh post.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// CursorStore persists per-handle watermarks across restarts. May be absent.
type CursorStore interface {
	GetWatermark(ctx context.Context, handle string) (Watermark, bool, error)
	PutWatermark(ctx context.Context, handle string, mark Watermark) error
}

type Config struct {
	Handles  []string
	Lookback time.Duration
	Trigger  Trigger
	Target   kit.ChatTarget
	// Announce sends a startup message listing the monitored handles.
	Announce bool
}

// State is the watermark map for all handles. It is passed into and returned
// from each cycle rather than mutated in place, so a cycle is a pure function
// of (state, fetched posts).
type State struct {
	Marks map[string]Watermark
}

func NewState() State { return State{Marks: map[string]Watermark{}} }

func (st State) clone() State {
	out := State{Marks: make(map[string]Watermark, len(st.Marks))}
	for k, v := range st.Marks {
		out.Marks[k] = v
	}
	return out
}

// CycleReport summarizes one pass over all handles.
type CycleReport struct {
	Handles     int
	Fetched     int
	Fresh       int
	Notified    int
	Failed      int
	RateLimited bool
}

// Service runs the poll loop: every trigger tick it walks all configured
// handles, fetches recent posts, filters against the watermark and hands
// fresh posts to the notifier. One handle failing never aborts the others.
type Service struct {
	log   logx.Logger
	fetch Fetcher
	notif Notifier
	store CursorStore // nil when persistence is disabled

	mu           sync.Mutex
	cfg          Config
	users        map[string]twitter.User // lowercased handle -> resolved account
	resolveDirty bool
	state        State
	// nextIdx is where the next cycle starts walking cfg.Handles. It moves
	// to the handle that hit the shared request budget, so handles late in
	// the list are not starved when cycles keep ending early.
	nextIdx int

	sup *rtsup.Supervisor

	// now is swappable for tests.
	now func() time.Time
}

func New(cfg Config, fetch Fetcher, notif Notifier, store CursorStore, log logx.Logger) (*Service, error) {
	if len(cfg.Handles) == 0 {
		return nil, errors.New("no handles configured")
	}
	if cfg.Trigger.IsZero() {
		return nil, errors.New("no check trigger configured")
	}
	if cfg.Lookback <= 0 {
		return nil, errors.New("lookback must be > 0")
	}
	if fetch == nil || notif == nil {
		return nil, errors.New("fetcher and notifier are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:          log,
		fetch:        fetch,
		notif:        notif,
		store:        store,
		cfg:          cfg,
		resolveDirty: true,
		state:        NewState(),
		now:          time.Now,
	}, nil
}

// Start resolves the handle list, restores persisted watermarks, optionally
// announces itself, and launches the poll loop under the supervisor.
func (s *Service) Start(ctx context.Context) error {
	if err := s.resolve(ctx); err != nil {
		return fmt.Errorf("resolve handles: %w", err)
	}
	s.restoreState(ctx)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.Announce {
		msg := "🐦 kolwatch started\n\nMonitoring handles:\n" + strings.Join(cfg.Handles, ", ")
		if err := s.notif.Notify(ctx, kit.Notification{Channel: "telegram", Target: cfg.Target, Text: msg}); err != nil {
			s.log.Warn("startup announcement failed", logx.Err(err))
		}
	}

	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "watch"))))
	s.sup.GoRestart("watch.loop", s.runLoop,
		rtsup.WithRestartBackoff(time.Second, time.Minute),
		rtsup.WithPublishFirstError(true),
	)

	s.log.Info("watch loop started",
		logx.String("trigger", cfg.Trigger.String()),
		logx.Duration("lookback", cfg.Lookback),
		logx.Int("handles", len(cfg.Handles)),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.sup == nil {
		return nil
	}
	return s.sup.Stop(ctx)
}

// Healthy reports whether the poll loop goroutine is alive. The loop
// restarts itself on failure, so false means Start was never called, Stop
// ran, or the restart wrapper itself is gone.
func (s *Service) Healthy() bool {
	return s.sup != nil && s.sup.Stats().Active > 0
}

// Apply swaps in a new handle list and tunables at runtime. The handle list
// is re-resolved lazily before the next cycle; a failed re-resolve keeps the
// previous accounts.
func (s *Service) Apply(cfg Config) error {
	if len(cfg.Handles) == 0 {
		return errors.New("no handles configured")
	}
	if cfg.Trigger.IsZero() {
		return errors.New("no check trigger configured")
	}
	s.mu.Lock()
	changed := !equalFold(s.cfg.Handles, cfg.Handles)
	s.cfg = cfg
	if changed {
		s.resolveDirty = true
		s.nextIdx = 0
	}
	s.mu.Unlock()
	if changed {
		s.log.Info("handle list updated", logx.Int("handles", len(cfg.Handles)))
	}
	return nil
}

func (s *Service) runLoop(ctx context.Context) error {
	for {
		s.maybeResolve(ctx)

		s.mu.Lock()
		cfg := s.cfg
		st := s.state
		s.mu.Unlock()

		started := s.now()
		next, report := s.RunCycle(ctx, st, started)

		s.mu.Lock()
		s.state = next
		s.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if report.Fresh == 0 {
			s.log.Debug("cycle complete, no new posts", logx.Int("fetched", report.Fetched))
		} else {
			s.log.Info("cycle complete",
				logx.Int("fetched", report.Fetched),
				logx.Int("fresh", report.Fresh),
				logx.Int("notified", report.Notified),
				logx.Int("failed", report.Failed),
			)
		}

		wake := cfg.Trigger.Next(started)
		if report.RateLimited {
			s.log.Warn("rate limited, sitting out until next cycle", logx.Time("next_check", wake))
		}
		delay := time.Until(wake)
		if delay < 0 {
			delay = 0
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RunCycle processes every configured handle once against st and returns the
// advanced state. It never mutates st.
func (s *Service) RunCycle(ctx context.Context, st State, now time.Time) (State, CycleReport) {
	s.mu.Lock()
	cfg := s.cfg
	users := s.users
	start := s.nextIdx
	s.mu.Unlock()

	next := st.clone()
	report := CycleReport{Handles: len(cfg.Handles)}
	if len(cfg.Handles) == 0 {
		return next, report
	}
	if start >= len(cfg.Handles) {
		start = 0
	}
	resume := start

	for i := 0; i < len(cfg.Handles); i++ {
		if ctx.Err() != nil {
			break
		}
		idx := (start + i) % len(cfg.Handles)
		handle := cfg.Handles[idx]
		key := strings.ToLower(handle)
		user, ok := users[key]
		if !ok {
			// Unresolved (typo, suspended account); already logged at resolve time.
			continue
		}

		mark := next.Marks[key]
		since := now.Add(-cfg.Lookback)
		if !mark.IsZero() && mark.CreatedAt.After(since) {
			since = mark.CreatedAt
		}

		posts, err := s.fetch.RecentPosts(ctx, user.ID, since)
		if err != nil {
			if errors.Is(err, twitter.ErrRateLimited) {
				report.RateLimited = true
				// The budget is shared; remaining handles would fail the
				// same way. Pick this handle up first next cycle.
				resume = idx
				break
			}
			report.Failed++
			s.log.Error("fetch failed", logx.String("handle", handle), logx.Err(err))
			continue
		}
		report.Fetched += len(posts)

		fresh, advanced := Advance(posts, mark, cfg.Lookback, now)
		report.Fresh += len(fresh)

		for _, p := range fresh {
			if err := s.notifyPost(ctx, cfg.Target, handle, p); err != nil {
				report.Failed++
				s.log.Error("notify failed", logx.String("handle", handle), logx.String("post_id", p.ID), logx.Err(err))
				continue
			}
			report.Notified++
		}

		if advanced.PostID != mark.PostID || !advanced.CreatedAt.Equal(mark.CreatedAt) {
			next.Marks[key] = advanced
			s.persistMark(ctx, key, advanced)
		}
	}

	s.mu.Lock()
	s.nextIdx = resume
	s.mu.Unlock()

	return next, report
}

func (s *Service) notifyPost(ctx context.Context, target kit.ChatTarget, handle string, p twitter.Post) error {
	msg := fmt.Sprintf("🔔 New post from @%s!\n\n📝 %s\n\n🔗 %s", handle, p.Text, p.URL())
	return s.notif.Notify(ctx, kit.Notification{
		Channel: "telegram",
		Target:  target,
		Text:    msg,
		Options: &kit.SendOptions{DisablePreview: true},
	})
}

func (s *Service) resolve(ctx context.Context) error {
	s.mu.Lock()
	handles := s.cfg.Handles
	s.mu.Unlock()

	users, err := s.fetch.ResolveHandles(ctx, handles)
	if err != nil {
		return err
	}
	for _, h := range handles {
		if _, ok := users[strings.ToLower(h)]; !ok {
			s.log.Warn("handle did not resolve, skipping", logx.String("handle", h))
		}
	}

	s.mu.Lock()
	s.users = users
	s.resolveDirty = false
	s.mu.Unlock()
	return nil
}

func (s *Service) maybeResolve(ctx context.Context) {
	s.mu.Lock()
	dirty := s.resolveDirty
	s.mu.Unlock()
	if !dirty {
		return
	}
	if err := s.resolve(ctx); err != nil {
		s.log.Error("handle re-resolve failed, keeping previous accounts", logx.Err(err))
	}
}

func (s *Service) restoreState(ctx context.Context) {
	if s.store == nil {
		s.log.Info("watermarks are in-memory only; a restart re-covers the lookback window and may re-notify recent posts")
		return
	}

	s.mu.Lock()
	handles := s.cfg.Handles
	s.mu.Unlock()

	restored := 0
	st := NewState()
	for _, h := range handles {
		key := strings.ToLower(h)
		mark, ok, err := s.store.GetWatermark(ctx, key)
		if err != nil {
			s.log.Warn("watermark restore failed", logx.String("handle", h), logx.Err(err))
			continue
		}
		if ok {
			st.Marks[key] = mark
			restored++
		}
	}

	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if restored > 0 {
		s.log.Info("watermarks restored", logx.Int("handles", restored))
	}
}

func (s *Service) persistMark(ctx context.Context, key string, mark Watermark) {
	if s.store == nil {
		return
	}
	if err := s.store.PutWatermark(ctx, key, mark); err != nil {
		s.log.Warn("watermark persist failed", logx.String("handle", key), logx.Err(err))
	}
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
