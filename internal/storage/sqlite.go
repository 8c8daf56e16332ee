package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"kolwatch/internal/watch"
	logx "kolwatch/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetWatermark(ctx context.Context, handle string) (watch.Watermark, bool, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return watch.Watermark{}, false, nil
	}
	var (
		postID    string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT post_id, created_at FROM watermarks WHERE handle = ?`, handle,
	).Scan(&postID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return watch.Watermark{}, false, nil
	}
	if err != nil {
		return watch.Watermark{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return watch.Watermark{}, false, fmt.Errorf("corrupt watermark for %s: %w", handle, err)
	}
	return watch.Watermark{PostID: postID, CreatedAt: ts}, true, nil
}

func (s *sqliteStore) PutWatermark(ctx context.Context, handle string, mark watch.Watermark) error {
	handle = strings.TrimSpace(handle)
	if handle == "" || mark.IsZero() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watermarks(handle, post_id, created_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(handle) DO UPDATE SET post_id=excluded.post_id, created_at=excluded.created_at, updated_at=excluded.updated_at`,
		handle, mark.PostID, mark.CreatedAt.UTC().Format(time.RFC3339Nano), time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err != nil {
		return err
	}
	if n := s.opCount.Add(1); s.pruneEvery > 0 && n%s.pruneEvery == 0 {
		if _, perr := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli()); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
	}
	return nil
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}
