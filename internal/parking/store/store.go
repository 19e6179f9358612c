package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStoreUnavailable is returned when the ledger file cannot be opened
	// or its lock cannot be acquired within the bounded wait. It is fatal to
	// the current operation only.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrNotFound = errors.New("record not found")
)

// Tx is one unit of work against the ledger. All calls made through a Tx
// share a single lock acquisition and a single transaction.
type Tx interface {
	InsertEntry(ctx context.Context, plate, token string, timeIn time.Time, imageRefIn string, status Status) (int64, error)
	// UpdateExit completes an INSIDE record. It reports false, and changes
	// nothing, when the record is not currently INSIDE.
	UpdateExit(ctx context.Context, id int64, timeOut time.Time, imageRefOut string) (bool, error)
	FindInsideByToken(ctx context.Context, token string) (*AccessRecord, error)
	IsPlateInside(ctx context.Context, plate string) (bool, error)
	NextUnsyncedBatch(ctx context.Context, limit int) ([]AccessRecord, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkInvalid(ctx context.Context, id int64) error

	Get(ctx context.Context, id int64) (*AccessRecord, error)
	HasUnsynced(ctx context.Context) (bool, error)
	ListHistory(ctx context.Context, q HistoryQuery) (HistoryPage, error)
	ListInside(ctx context.Context, search string) ([]AccessRecord, error)
	CountStats(ctx context.Context, since time.Time) (Stats, error)
	// ForceExit is the operator override: it completes an INSIDE record
	// without a plate check and queues it for re-submission.
	ForceExit(ctx context.Context, id int64, timeOut time.Time) (bool, error)
	// SyncedImageRefsBefore lists evidence file names of synced records whose
	// last event happened before cutoff. Records still INSIDE are skipped
	// since their exit may yet be reported.
	SyncedImageRefsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// Ledger is the durable access-record store.
type Ledger interface {
	// Update runs fn under the store lock inside one transaction. Returning
	// an error from fn rolls back every write it made.
	Update(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

func InsertEntry(ctx context.Context, l Ledger, plate, token string, timeIn time.Time, imageRefIn string, status Status) (int64, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (int64, error) {
		return tx.InsertEntry(ctx, plate, token, timeIn, imageRefIn, status)
	})
}

func UpdateExit(ctx context.Context, l Ledger, id int64, timeOut time.Time, imageRefOut string) (bool, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (bool, error) {
		return tx.UpdateExit(ctx, id, timeOut, imageRefOut)
	})
}

func FindInsideByToken(ctx context.Context, l Ledger, token string) (*AccessRecord, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (*AccessRecord, error) {
		return tx.FindInsideByToken(ctx, token)
	})
}

func IsPlateInside(ctx context.Context, l Ledger, plate string) (bool, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (bool, error) {
		return tx.IsPlateInside(ctx, plate)
	})
}

func NextUnsyncedBatch(ctx context.Context, l Ledger, limit int) ([]AccessRecord, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) ([]AccessRecord, error) {
		return tx.NextUnsyncedBatch(ctx, limit)
	})
}

func MarkSynced(ctx context.Context, l Ledger, id int64) error {
	return l.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.MarkSynced(ctx, id)
	})
}

func MarkInvalid(ctx context.Context, l Ledger, id int64) error {
	return l.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.MarkInvalid(ctx, id)
	})
}

func Get(ctx context.Context, l Ledger, id int64) (*AccessRecord, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (*AccessRecord, error) {
		return tx.Get(ctx, id)
	})
}

func HasUnsynced(ctx context.Context, l Ledger) (bool, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (bool, error) {
		return tx.HasUnsynced(ctx)
	})
}

func ListHistory(ctx context.Context, l Ledger, q HistoryQuery) (HistoryPage, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (HistoryPage, error) {
		return tx.ListHistory(ctx, q)
	})
}

func ListInside(ctx context.Context, l Ledger, search string) ([]AccessRecord, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) ([]AccessRecord, error) {
		return tx.ListInside(ctx, search)
	})
}

func CountStats(ctx context.Context, l Ledger, since time.Time) (Stats, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (Stats, error) {
		return tx.CountStats(ctx, since)
	})
}

func ForceExit(ctx context.Context, l Ledger, id int64, timeOut time.Time) (bool, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) (bool, error) {
		return tx.ForceExit(ctx, id, timeOut)
	})
}

func SyncedImageRefsBefore(ctx context.Context, l Ledger, cutoff time.Time) ([]string, error) {
	return view(ctx, l, func(ctx context.Context, tx Tx) ([]string, error) {
		return tx.SyncedImageRefsBefore(ctx, cutoff)
	})
}

func view[T any](ctx context.Context, l Ledger, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var out T
	err := l.Update(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
