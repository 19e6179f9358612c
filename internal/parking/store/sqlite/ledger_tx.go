package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

const recordColumns = `id, plate, token, time_in_ms, time_out_ms, image_ref_in, image_ref_out, status, synced, created_at_ms, updated_at_ms`

type ledgerTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *ledgerTx) InsertEntry(ctx context.Context, plate, token string, timeIn time.Time, imageRefIn string, status store.Status) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("InsertEntry: invalid status %d", int(status))
	}
	inMs := timeIn.UTC().UnixMilli()
	nowMs := t.now().UnixMilli()

	res, err := t.tx.ExecContext(ctx, `
INSERT INTO access_records(plate, token, time_in_ms, image_ref_in, status, synced, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, 0, ?, ?);
`, plate, token, inMs, nullString(imageRefIn), int(status), nowMs, nowMs)
	if err != nil {
		return 0, fmt.Errorf("InsertEntry insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("InsertEntry id: %w", err)
	}
	return id, nil
}

func (t *ledgerTx) UpdateExit(ctx context.Context, id int64, timeOut time.Time, imageRefOut string) (bool, error) {
	// synced is cleared so the OUT event is reported upstream.
	res, err := t.tx.ExecContext(ctx, `
UPDATE access_records
SET time_out_ms = ?, image_ref_out = ?, status = ?, synced = 0, updated_at_ms = ?
WHERE id = ? AND status = ?;
`, timeOut.UTC().UnixMilli(), nullString(imageRefOut), int(store.StatusCompleted), t.now().UnixMilli(),
		id, int(store.StatusInside))
	if err != nil {
		return false, fmt.Errorf("UpdateExit update: %w", err)
	}
	return affectedOne(res)
}

func (t *ledgerTx) FindInsideByToken(ctx context.Context, token string) (*store.AccessRecord, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM access_records WHERE token = ? AND status = ? ORDER BY id DESC LIMIT 1;`,
		token, int(store.StatusInside))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindInsideByToken: %w", err)
	}
	return rec, nil
}

func (t *ledgerTx) IsPlateInside(ctx context.Context, plate string) (bool, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_records WHERE plate = ? AND status = ?;`,
		plate, int(store.StatusInside)).Scan(&n); err != nil {
		return false, fmt.Errorf("IsPlateInside: %w", err)
	}
	return n > 0, nil
}

func (t *ledgerTx) NextUnsyncedBatch(ctx context.Context, limit int) ([]store.AccessRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM access_records WHERE synced = 0 ORDER BY id ASC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("NextUnsyncedBatch: %w", err)
	}
	return collect(rows, "NextUnsyncedBatch")
}

func (t *ledgerTx) MarkSynced(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE access_records SET synced = 1, updated_at_ms = ? WHERE id = ?;`,
		t.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("MarkSynced update: %w", err)
	}
	return requireOne(res, id)
}

func (t *ledgerTx) MarkInvalid(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE access_records SET status = ?, synced = 1, updated_at_ms = ? WHERE id = ?;`,
		int(store.StatusInvalid), t.now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("MarkInvalid update: %w", err)
	}
	return requireOne(res, id)
}

func (t *ledgerTx) Get(ctx context.Context, id int64) (*store.AccessRecord, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM access_records WHERE id = ?;`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get %d: %w", id, err)
	}
	return rec, nil
}

func (t *ledgerTx) HasUnsynced(ctx context.Context) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM access_records WHERE synced = 0 LIMIT 1;`).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("HasUnsynced: %w", err)
	}
	return true, nil
}

func (t *ledgerTx) ListHistory(ctx context.Context, q store.HistoryQuery) (store.HistoryPage, error) {
	q = q.Normalize()
	where, args := searchClause(q.Search)

	var total int
	if err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM access_records`+where+`;`, args...).Scan(&total); err != nil {
		return store.HistoryPage{}, fmt.Errorf("ListHistory count: %w", err)
	}

	args = append(args, q.PerPage, (q.Page-1)*q.PerPage)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM access_records`+where+` ORDER BY id DESC LIMIT ? OFFSET ?;`, args...)
	if err != nil {
		return store.HistoryPage{}, fmt.Errorf("ListHistory select: %w", err)
	}
	recs, err := collect(rows, "ListHistory")
	if err != nil {
		return store.HistoryPage{}, err
	}
	return store.NewHistoryPage(recs, total, q), nil
}

func (t *ledgerTx) ListInside(ctx context.Context, search string) ([]store.AccessRecord, error) {
	where, args := searchClause(strings.TrimSpace(search))
	if where == "" {
		where = " WHERE status = ?"
	} else {
		where += " AND status = ?"
	}
	args = append(args, int(store.StatusInside))

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM access_records`+where+` ORDER BY time_in_ms DESC, id DESC;`, args...)
	if err != nil {
		return nil, fmt.Errorf("ListInside: %w", err)
	}
	return collect(rows, "ListInside")
}

func (t *ledgerTx) CountStats(ctx context.Context, since time.Time) (store.Stats, error) {
	sinceMs := since.UTC().UnixMilli()
	var st store.Stats
	err := t.tx.QueryRowContext(ctx, `
SELECT
  COALESCE(SUM(CASE WHEN status IN (?, ?) AND time_in_ms >= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status = ? AND time_out_ms >= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN status IN (?, ?, ?) AND time_in_ms >= ? THEN 1 ELSE 0 END), 0)
FROM access_records;
`,
		int(store.StatusInside), int(store.StatusCompleted), sinceMs,
		int(store.StatusCompleted), sinceMs,
		int(store.StatusFailNoPlate), int(store.StatusFailPlateAlreadyInside), int(store.StatusFailPlateMismatch), sinceMs,
	).Scan(&st.Entries, &st.Exits, &st.Failures)
	if err != nil {
		return store.Stats{}, fmt.Errorf("CountStats: %w", err)
	}
	return st, nil
}

func (t *ledgerTx) ForceExit(ctx context.Context, id int64, timeOut time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `
UPDATE access_records
SET time_out_ms = ?, status = ?, synced = 0, updated_at_ms = ?
WHERE id = ? AND status = ?;
`, timeOut.UTC().UnixMilli(), int(store.StatusCompleted), t.now().UnixMilli(), id, int(store.StatusInside))
	if err != nil {
		return false, fmt.Errorf("ForceExit update: %w", err)
	}
	return affectedOne(res)
}

func (t *ledgerTx) SyncedImageRefsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
SELECT image_ref_in, image_ref_out FROM access_records
WHERE synced = 1 AND status <> ? AND COALESCE(time_out_ms, time_in_ms) < ?
  AND (image_ref_in IS NOT NULL OR image_ref_out IS NOT NULL)
ORDER BY id ASC;
`, int(store.StatusInside), cutoff.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("SyncedImageRefsBefore: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var in, outRef sql.NullString
		if err := rows.Scan(&in, &outRef); err != nil {
			return nil, fmt.Errorf("SyncedImageRefsBefore scan: %w", err)
		}
		if in.Valid && in.String != "" {
			out = append(out, in.String)
		}
		if outRef.Valid && outRef.String != "" {
			out = append(out, outRef.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SyncedImageRefsBefore rows: %w", err)
	}
	return out, nil
}

// ── helpers ──

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*store.AccessRecord, error) {
	var (
		rec            store.AccessRecord
		inMs           int64
		outMs          sql.NullInt64
		refIn, refOut  sql.NullString
		status, synced int
		createdMs      int64
		updatedMs      int64
	)
	if err := s.Scan(&rec.ID, &rec.Plate, &rec.Token, &inMs, &outMs, &refIn, &refOut,
		&status, &synced, &createdMs, &updatedMs); err != nil {
		return nil, err
	}
	rec.TimeIn = time.UnixMilli(inMs).UTC()
	if outMs.Valid {
		t := time.UnixMilli(outMs.Int64).UTC()
		rec.TimeOut = &t
	}
	rec.ImageRefIn = refIn.String
	rec.ImageRefOut = refOut.String
	rec.Status = store.Status(status)
	rec.Synced = synced != 0
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &rec, nil
}

func collect(rows *sql.Rows, op string) ([]store.AccessRecord, error) {
	defer rows.Close()
	var out []store.AccessRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func searchClause(search string) (string, []any) {
	if search == "" {
		return "", nil
	}
	like := "%" + escapeLike(search) + "%"
	return ` WHERE (plate LIKE ? ESCAPE '\' OR token LIKE ? ESCAPE '\')`, []any{like, like}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func requireOne(res sql.Result, id int64) error {
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
	}
	return nil
}
