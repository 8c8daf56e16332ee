package app

import (
	"context"
	"fmt"
	"time"

	"kolwatch/internal/config"
	"kolwatch/internal/notifier"
	rtsup "kolwatch/internal/runtime/supervisor"
	"kolwatch/internal/storage"
	"kolwatch/internal/transport/telegram"
	"kolwatch/internal/twitter"
	"kolwatch/internal/watch"
	logx "kolwatch/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

// App owns the full component graph and its lifecycle:
// config -> telegram adapter -> logging -> storage -> notifier -> watch loop.
type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter *telegram.Adapter
	store   storage.Store
	notif   *notifier.Service
	watcher *watch.Service

	sup *rtsup.Supervisor

	// ready closes once every component has started.
	ready chan struct{}
}

func New(configPath string) *App {
	return &App{
		cfgMgr: config.NewManager(configPath),
		ready:  make(chan struct{}),
	}
}

// Ready closes after the poll loop is up. Run returning with an error means
// it never closes.
func (a *App) Ready() <-chan struct{} { return a.ready }

// Healthy reports whether the poll loop is still running. Safe to call once
// Ready has closed.
func (a *App) Healthy() bool {
	return a.watcher != nil && a.watcher.Healthy()
}

// Run starts everything and blocks until ctx is cancelled, then shuts the
// components down in reverse order.
func (a *App) Run(ctx context.Context) error {
	cfg, err := a.cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The real log service needs the telegram adapter for its telegram sink,
	// so the adapter is built against a bootstrap console logger first.
	boot := logx.NewConsole(cfg.Logging.Level)

	a.adapter, err = telegram.New(telegram.Config{
		Token:         cfg.Telegram.BotToken,
		DefaultChat:   cfg.Telegram.Channel,
		ClientTimeout: parseOr(cfg.Telegram.ClientTimeout, 0),
	}, boot.With(logx.String("comp", "telegram")))
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	a.logSvc, a.log = logx.New(loggingConfig(cfg.Logging), a.adapter)
	a.cfgMgr.SetLogger(a.log.With(logx.String("comp", "config")))

	a.store, err = storage.Open(storageConfig(cfg.Storage), a.log.With(logx.String("comp", "storage")))
	if err != nil {
		a.cleanup()
		return fmt.Errorf("storage: %w", err)
	}

	ncfg, err := notifierConfig(cfg.Notifier)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("notifier: %w", err)
	}
	a.notif = notifier.New(ncfg, a.adapter, dedupStore(a.store), a.log.With(logx.String("comp", "notifier")))
	a.notif.Start(ctx)

	fetcher, err := twitter.NewClient(twitter.Config{
		BaseURL:        cfg.Twitter.BaseURL,
		BearerToken:    cfg.Twitter.BearerToken,
		MaxResults:     cfg.Twitter.MaxResults,
		BudgetRequests: cfg.Twitter.BudgetRequests,
		BudgetWindow:   parseOr(cfg.Twitter.BudgetWindow, 0),
	}, a.log.With(logx.String("comp", "twitter")))
	if err != nil {
		a.cleanup()
		return fmt.Errorf("twitter: %w", err)
	}

	wcfg, err := watchConfig(cfg)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("watch: %w", err)
	}
	a.watcher, err = watch.New(wcfg, fetcher, a.notif, cursorStore(a.store), a.log.With(logx.String("comp", "watch")))
	if err != nil {
		a.cleanup()
		return fmt.Errorf("watch: %w", err)
	}
	if err := a.watcher.Start(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("watch: %w", err)
	}

	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "app"))))
	a.sup.Go("config.watch", a.cfgMgr.Watch)

	updates := a.cfgMgr.Subscribe(4)
	a.sup.Go("config.apply", func(sctx context.Context) error {
		for {
			select {
			case <-sctx.Done():
				return nil
			case next, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(next)
			}
		}
	})

	a.log.Info("started", logx.Int("handles", len(cfg.Watch.Handles)))
	close(a.ready)

	<-ctx.Done()
	return a.shutdown()
}

// applyConfig propagates a reloaded config to the components that support
// runtime updates. Credential and storage changes need a process restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logSvc.Apply(loggingConfig(cfg.Logging))

	wcfg, err := watchConfig(cfg)
	if err != nil {
		a.log.Warn("config update not applied", logx.Err(err))
		return
	}
	if err := a.watcher.Apply(wcfg); err != nil {
		a.log.Warn("config update not applied", logx.Err(err))
	}
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.sup != nil {
		_ = a.sup.Stop(ctx)
	}
	if a.watcher != nil {
		_ = a.watcher.Stop(ctx)
	}
	if a.notif != nil {
		a.notif.Stop(ctx)
	}
	a.cleanup()
	a.log.Info("stopped")
	if a.logSvc != nil {
		_ = a.logSvc.Close()
	}
	return nil
}

func (a *App) cleanup() {
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.adapter != nil {
		_ = a.adapter.Stop(context.Background())
	}
}

// ---- config mapping ----

func loggingConfig(c config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		File: logx.FileConfig{
			Enabled: c.File.Enabled,
			Path:    c.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			MinLevel:   c.Telegram.MinLevel,
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
}

func storageConfig(c *config.StorageConfig) storage.Config {
	if c == nil {
		return storage.Config{}
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: parseOr(c.BusyTimeout, 0),
	}
}

func notifierConfig(c *config.NotifierConfig) (notifier.Config, error) {
	if c == nil {
		return notifier.Config{}, nil
	}
	out := notifier.Config{
		Workers:         c.Workers,
		QueueSize:       c.QueueSize,
		RatePerSec:      c.RatePerSec,
		RetryMax:        c.RetryMax,
		DedupMaxEntries: c.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", c.RetryBase, 0); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", c.RetryMaxDelay, 0); err != nil {
		return out, err
	}
	if out.DedupWindow, err = config.ParseDurationOrDefault("notifier.dedup_window", c.DedupWindow, 0); err != nil {
		return out, err
	}
	return out, nil
}

func watchConfig(cfg *config.Config) (watch.Config, error) {
	trigger, err := watch.ParseTrigger(cfg.Watch.CheckInterval)
	if err != nil {
		return watch.Config{}, fmt.Errorf("watch.check_interval: %w", err)
	}
	lookback, err := config.ParseDurationField("watch.lookback", cfg.Watch.Lookback)
	if err != nil {
		return watch.Config{}, err
	}
	return watch.Config{
		Handles:  cfg.Watch.Handles,
		Lookback: lookback,
		Trigger:  trigger,
		Target:   telegram.ParseChat(cfg.Telegram.Channel),
		Announce: cfg.AnnounceEnabled(),
	}, nil
}

// cursorStore narrows the optional store to the watch-facing interface
// without handing the watch loop a typed-nil.
func cursorStore(st storage.Store) watch.CursorStore {
	if st == nil {
		return nil
	}
	return st
}

func dedupStore(st storage.Store) notifier.DedupStore {
	if st == nil {
		return nil
	}
	return st
}

func parseOr(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || raw == "" {
		return def
	}
	return d
}
