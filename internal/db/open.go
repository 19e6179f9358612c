package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrUnavailable is returned when the ledger file cannot be opened or
// validated.
var ErrUnavailable = errors.New("ledger database unavailable")

type Config struct {
	Path string // e.g. "./parking_data.db"
	Env  string // "dev" | "prod"

	// BusyTimeout bounds how long SQLite itself waits on a locked file.
	// The sidecar FileLock is the primary serialization point; this only
	// covers readers that bypass it.
	BusyTimeout time.Duration
}

// LockPath returns the sidecar lock file colocated with the database file.
func LockPath(dbPath string) string {
	return dbPath + ".lock"
}

func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	if cfg.Path == "" {
		cfg.Path = "./parking_data.db"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("%w: mkdir db dir: %v", ErrUnavailable, err)
	}

	// FULL sync: a record must be on disk before the gate is signalled.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(%d)",
		cfg.Path, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: sql.Open: %v", ErrUnavailable, err)
	}

	// Single connection; all writes funnel through Worker.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}

	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
