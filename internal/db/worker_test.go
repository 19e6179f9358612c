package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTempDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := Open(context.Background(), Config{Path: filepath.Join(t.TempDir(), "parking_data.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func countRecords(t *testing.T, conn *sql.DB) int {
	t.Helper()
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM access_records`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

const insertOne = `INSERT INTO access_records(plate, token, time_in_ms, status, created_at_ms, updated_at_ms) VALUES ('ABC123', 'T1', 1, 0, 1, 1)`

func TestWorker_CommitsAndRollsBack(t *testing.T) {
	conn := openTempDB(t)
	w := NewWorker(conn)
	defer w.Close()
	ctx := context.Background()

	if err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertOne)
		return err
	}); err != nil {
		t.Fatalf("Do: %v", err)
	}

	boom := errors.New("boom")
	err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE access_records SET plate = 'CHANGED'`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var plate string
	if err := conn.QueryRow(`SELECT plate FROM access_records`).Scan(&plate); err != nil {
		t.Fatalf("select: %v", err)
	}
	if plate != "ABC123" {
		t.Errorf("expected rollback to keep ABC123, got %s", plate)
	}
}

func TestWorker_RecoversPanic(t *testing.T) {
	conn := openTempDB(t)
	w := NewWorker(conn)
	defer w.Close()

	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertOne); err != nil {
			return err
		}
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected error from panicking transaction")
	}
	if n := countRecords(t, conn); n != 0 {
		t.Errorf("expected panic to roll back, got %d rows", n)
	}

	// Worker keeps serving after a panic.
	if err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, insertOne)
		return err
	}); err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
}

func TestWorker_ClosedRejects(t *testing.T) {
	conn := openTempDB(t)
	w := NewWorker(conn)
	w.Close()
	w.Close()

	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error { return nil })
	if !errors.Is(err, ErrWorkerClosed) {
		t.Fatalf("expected ErrWorkerClosed, got %v", err)
	}
}
