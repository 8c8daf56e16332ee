package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kit "kolwatch/internal/transport"
	logx "kolwatch/pkg/logx"
)

type fakeAdapter struct {
	mu       sync.Mutex
	sent     []string
	failures int

	called  chan struct{} // signalled on every SendText
	release chan struct{} // nil means return immediately
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{called: make(chan struct{}, 16)}
}

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	select {
	case a.called <- struct{}{}:
	default:
	}
	if a.release != nil {
		select {
		case <-a.release:
		case <-ctx.Done():
			return kit.MessageRef{}, ctx.Err()
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return kit.MessageRef{}, errors.New("send failed")
	}
	a.sent = append(a.sent, text)
	return kit.MessageRef{MessageID: len(a.sent)}, nil
}

func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func note(text string) kit.Notification {
	return kit.Notification{
		Channel: "telegram",
		Target:  kit.ChatTarget{Username: "@alerts"},
		Text:    text,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestNotifyDelivers(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	svc := New(Config{RatePerSec: 100}, ad, nil, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), note("hello")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(ad.texts()) == 1 })
	if got := ad.texts()[0]; got != "hello" {
		t.Fatalf("sent = %q", got)
	}
}

func TestNotifyBeforeStartAndAfterStop(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	svc := New(Config{}, ad, nil, logx.Nop())

	if err := svc.Notify(context.Background(), note("early")); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}

	svc.Start(context.Background())
	svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), note("late")); !errors.Is(err, ErrStopped) {
		t.Fatalf("err = %v, want ErrStopped", err)
	}
}

func TestNotifyQueueFull(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	ad.release = make(chan struct{})
	svc := New(Config{Workers: 1, QueueSize: 1, RatePerSec: 100}, ad, nil, logx.Nop())
	svc.Start(context.Background())
	defer func() {
		close(ad.release)
		svc.Stop(context.Background())
	}()

	// First message occupies the worker (adapter blocks on release).
	if err := svc.Notify(context.Background(), note("one")); err != nil {
		t.Fatal(err)
	}
	<-ad.called

	// Second fills the queue.
	if err := svc.Notify(context.Background(), note("two")); err != nil {
		t.Fatal(err)
	}
	// Third is rejected immediately instead of blocking the poll cycle.
	if err := svc.Notify(context.Background(), note("three")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestNotifyRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	ad.failures = 2
	svc := New(Config{
		RatePerSec: 100,
		RetryMax:   3,
		RetryBase:  time.Millisecond,
	}, ad, nil, logx.Nop())
	svc.Start(context.Background())
	defer svc.Stop(context.Background())

	if err := svc.Notify(context.Background(), note("persistent")); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(ad.texts()) == 1 })
}

func TestNotifyDedupWindow(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	svc := New(Config{RatePerSec: 100, DedupWindow: time.Minute}, ad, nil, logx.Nop())
	svc.Start(context.Background())

	for i := 0; i < 3; i++ {
		if err := svc.Notify(context.Background(), note("same text")); err != nil {
			t.Fatal(err)
		}
	}
	// Different text is not suppressed.
	if err := svc.Notify(context.Background(), note("other text")); err != nil {
		t.Fatal(err)
	}

	svc.Stop(context.Background())

	if got := len(ad.texts()); got != 2 {
		t.Fatalf("delivered %d messages, want 2 (dedup collapsed the repeats): %v", got, ad.texts())
	}
}

func TestStopWithExpiredContextReleasesWorkers(t *testing.T) {
	t.Parallel()

	ad := newFakeAdapter()
	svc := New(Config{Workers: 2}, ad, nil, logx.Nop())
	svc.Start(context.Background())

	// Hold the in-flight counter so Stop cannot finish draining and takes
	// its give-up path.
	svc.sendWG.Add(1)

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Stop(expired)
	svc.sendWG.Done()

	done := make(chan struct{})
	go func() {
		svc.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers still blocked after Stop gave up")
	}
}

type fakeDedupStore struct {
	mu   sync.Mutex
	data map[string]time.Time
}

func (s *fakeDedupStore) PutDedup(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = map[string]time.Time{}
	}
	s.data[key] = until
	return nil
}

func (s *fakeDedupStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data[key]
	return u, ok, nil
}

func TestDedupSurvivesRestartViaStore(t *testing.T) {
	t.Parallel()

	store := &fakeDedupStore{}
	ad := newFakeAdapter()

	svc := New(Config{RatePerSec: 100, DedupWindow: time.Hour}, ad, store, logx.Nop())
	svc.Start(context.Background())
	if err := svc.Notify(context.Background(), note("once")); err != nil {
		t.Fatal(err)
	}
	svc.Stop(context.Background())

	// Fresh service, same store: the persisted window still holds.
	svc2 := New(Config{RatePerSec: 100, DedupWindow: time.Hour}, ad, store, logx.Nop())
	svc2.Start(context.Background())
	if err := svc2.Notify(context.Background(), note("once")); err != nil {
		t.Fatal(err)
	}
	svc2.Stop(context.Background())

	if got := len(ad.texts()); got != 1 {
		t.Fatalf("delivered %d messages, want 1: %v", got, ad.texts())
	}
}
