package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"kolwatch/internal/watch"
	logx "kolwatch/pkg/logx"
)

// Store is the persistence API used by the watch loop and the notifier.
type Store interface {
	GetWatermark(ctx context.Context, handle string) (mark watch.Watermark, ok bool, err error)
	PutWatermark(ctx context.Context, handle string, mark watch.Watermark) error

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
