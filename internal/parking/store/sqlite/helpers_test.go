package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/db"
	sqlitestore "github.com/BrandonDHaskell/parkedge/internal/parking/store/sqlite"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// openTestDB returns an in-memory SQLite connection with the production
// schema. The connection is closed automatically when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		t.Name(),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestLedger returns a ledger over an in-memory database guarded by a
// lock file in a temp dir, plus the manual clock it stamps rows with.
func newTestLedger(t *testing.T) (*sqlitestore.Ledger, *sql.DB, *clock.Manual) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })

	clk := clock.NewManual(testStart)
	lock := db.NewFileLock(filepath.Join(t.TempDir(), "ledger.db.lock"))
	l := sqlitestore.NewLedger(conn, w, lock, sqlitestore.Options{Clock: clk, LockTimeout: time.Second})
	return l, conn, clk
}
