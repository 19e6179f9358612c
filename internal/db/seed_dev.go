package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Plates to create history for. Defaults to a small fixed set.
	Plates []string
	// Inside leaves the first N plates parked (status INSIDE).
	Inside int
	Now    time.Time
}

// SeedDev fills an empty ledger with completed visits and a few vehicles
// still inside so the dashboard has something to show in development.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) (int, error) {
	plates := opt.Plates
	if len(plates) == 0 {
		plates = []string{"ABC123", "XYZ789", "KLM456", "PRS321", "TUV852"}
	}
	now := opt.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if opt.Inside > len(plates) {
		opt.Inside = len(plates)
	}

	var existing int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM access_records;").Scan(&existing); err != nil {
		return 0, fmt.Errorf("seed count: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	n := 0
	for i, plate := range plates {
		token := fmt.Sprintf("SEED-%04d", i+1)
		in := now.Add(-time.Duration(i+2) * time.Hour).UnixMilli()
		out := now.Add(-time.Duration(i+1) * time.Hour).UnixMilli()

		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_records(plate, token, time_in_ms, time_out_ms, status, synced, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, 1, 1, ?, ?);`, plate, token, in, out, in, out); err != nil {
			return 0, fmt.Errorf("seed completed %s: %w", plate, err)
		}
		n++

		if i < opt.Inside {
			t := now.Add(-time.Duration(i+1) * 10 * time.Minute).UnixMilli()
			if _, err := tx.ExecContext(ctx, `
INSERT INTO access_records(plate, token, time_in_ms, status, synced, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, 0, 0, ?, ?);`, plate, token, t, t, t); err != nil {
				return 0, fmt.Errorf("seed inside %s: %w", plate, err)
			}
			n++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("seed commit: %w", err)
	}
	return n, nil
}
