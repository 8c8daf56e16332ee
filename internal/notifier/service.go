package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "kolwatch/internal/transport"
	logx "kolwatch/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type Config struct {
	Workers   int
	QueueSize int
	// RatePerSec caps outbound sends (Telegram tolerates ~30 msg/s per bot,
	// much less per chat).
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses resends of an identical message to the same
	// target within the window. Zero disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
}

// DedupStore optionally persists dedup state so a restart doesn't resend
// messages still inside the window.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type job struct {
	n kit.Notification
	// dedupKey is computed at enqueue time for cheap per-worker processing.
	dedupKey string
}

// Service is an async notification pipeline:
// bounded queue + worker pool + rate limit + retry + dedup.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	adapter kit.Adapter
	store   DedupStore // may be nil

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	stopDone chan struct{}

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, adapter kit.Adapter, store DedupStore, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:     log,
		adapter: adapter,
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		dedup:   map[string]time.Time{},
	}
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		// already running
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.stopDone = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		i := i
		s.workerWG.Add(1)
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notifier worker", logx.Int("worker", i), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop()
		}()
	}
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	done := s.stopDone
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	// Block new notifies.
	s.accepting = false
	s.mu.Unlock()

	// Wait for in-flight enqueues to finish, then close the queue so workers can drain.
	ch := make(chan struct{})
	go func() {
		s.sendWG.Wait()
		close(ch)
	}()
	select {
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		return
	case <-ch:
	}

	close(q)

	go func() {
		s.workerWG.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	s.queue = nil
	s.stopDone = nil
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()
}

// Notify enqueues a notification for async delivery. A full queue is
// reported immediately rather than blocking the caller's cycle.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	dedupWindow := s.cfg.DedupWindow
	dedupMax := s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if dedupWindow > 0 && key != "" {
		if !s.dedupAllow(ctx, key, dedupWindow, dedupMax) {
			s.log.Debug("notification suppressed by dedup window", logx.String("key", key))
			return nil
		}
	}

	select {
	case q <- job{n: n, dedupKey: key}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop() {
	s.mu.Lock()
	q := s.queue
	runCtx := s.runCtx
	s.mu.Unlock()

	// Selecting on runCtx matters when Stop gives up before closing the
	// queue: cancellation is then the only way workers get unblocked.
	for {
		select {
		case <-runCtx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(runCtx, j)
		}
	}
}

func (s *Service) sendWithRetry(runCtx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	ad := s.adapter
	s.mu.Unlock()

	if ad == nil || j.n.Text == "" {
		return
	}
	if runCtx == nil {
		runCtx = context.Background()
	}

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		// Rate limit (honor cancellation).
		if err := lim.Wait(runCtx); err != nil {
			return
		}

		// Bound per-send call. Keep tight to avoid hanging workers.
		callCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		_, err := ad.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}

		delay := retryDelay(cfg, attempt)
		if delay <= 0 {
			continue
		}
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-runCtx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		}
	}

	if lastErr != nil {
		s.log.Error("notification dropped after retries", logx.Err(lastErr), logx.Int("attempts", maxAttempts))
	}
}

func dedupKey(n kit.Notification) string {
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.Channel))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(fmt.Sprintf("%d:%s:%d|", n.Target.ChatID, n.Target.Username, n.Target.ThreadID)))
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, max int) bool {
	now := time.Now()

	s.dmu.Lock()
	if s.dedup == nil {
		s.dedup = map[string]time.Time{}
	}
	until, seen := s.dedup[key]
	s.dmu.Unlock()

	if seen && now.Before(until) {
		return false
	}

	// Check persisted state for keys this process hasn't seen.
	if !seen && s.store != nil {
		if pUntil, ok, err := s.store.GetDedup(ctx, key); err == nil && ok && now.Before(pUntil) {
			s.dmu.Lock()
			s.dedup[key] = pUntil
			s.dmu.Unlock()
			return false
		}
	}

	suppressUntil := now.Add(window)

	s.dmu.Lock()
	s.dedup[key] = suppressUntil
	// Prune expired and cap.
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for max > 0 && len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
			set    bool
		)
		for k, t := range s.dedup {
			if !set || t.Before(minT) {
				minKey, minT, set = k, t, true
			}
		}
		if minKey == "" {
			break
		}
		delete(s.dedup, minKey)
	}
	s.dmu.Unlock()

	if s.store != nil {
		if err := s.store.PutDedup(ctx, key, suppressUntil); err != nil {
			s.log.Debug("dedup persist failed", logx.Err(err))
		}
	}
	return true
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1 (first attempt), delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
