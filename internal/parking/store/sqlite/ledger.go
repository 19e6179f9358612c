package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	dbpkg "github.com/BrandonDHaskell/parkedge/internal/db"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

const DefaultLockTimeout = 15 * time.Second

type Options struct {
	// LockTimeout bounds the wait for the cross-process file lock.
	LockTimeout time.Duration
	Clock       clock.Clock
}

// Ledger is the SQLite-backed store.Ledger. Every Update takes the sidecar
// file lock and then runs on the single-writer worker.
type Ledger struct {
	db     *sql.DB
	writer *dbpkg.Worker
	lock   *dbpkg.FileLock

	lockTimeout time.Duration
	clock       clock.Clock
	owned       bool
}

var _ store.Ledger = (*Ledger)(nil)

// NewLedger wraps an already-open connection. lock may be nil when no other
// process opens the same file.
func NewLedger(db *sql.DB, writer *dbpkg.Worker, lock *dbpkg.FileLock, opts Options) *Ledger {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Ledger{
		db:          db,
		writer:      writer,
		lock:        lock,
		lockTimeout: opts.LockTimeout,
		clock:       opts.Clock,
	}
}

// Open opens (and migrates) the database file, starts its writer and guards
// it with the sidecar lock file. Close releases all of it.
func Open(ctx context.Context, cfg dbpkg.Config, opts Options) (*Ledger, error) {
	conn, err := dbpkg.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	l := NewLedger(conn, dbpkg.NewWorker(conn), dbpkg.NewFileLock(dbpkg.LockPath(cfg.Path)), opts)
	l.owned = true
	return l, nil
}

func (l *Ledger) DB() *sql.DB { return l.db }

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if l.lock != nil {
		release, err := l.lock.Acquire(ctx, l.lockTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
		}
		defer release()
	}

	err := l.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, &ledgerTx{tx: tx, now: l.clock.Now})
	})
	if errors.Is(err, dbpkg.ErrWorkerClosed) {
		return fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}
	return err
}

func (l *Ledger) Close() error {
	if !l.owned {
		return nil
	}
	l.writer.Close()
	return l.db.Close()
}
