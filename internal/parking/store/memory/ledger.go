package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

// ErrConstraint mirrors the SQLite partial unique indexes: one INSIDE row
// per plate and per token.
var ErrConstraint = errors.New("inside constraint violated")

// Ledger is an in-memory store.Ledger. It is intended for tests and dev
// environments. Update is serialized and rolls back on error.
type Ledger struct {
	sem     chan struct{}
	records []store.AccessRecord
	nextID  int64
	now     func() time.Time
	closed  bool

	// FailNext, when set, is returned by the next Update before fn runs.
	FailNext error
}

var _ store.Ledger = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		sem:    make(chan struct{}, 1),
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow overrides the clock used for created/updated stamps.
func (l *Ledger) WithNow(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) Update(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	if l.closed {
		return fmt.Errorf("%w: ledger closed", store.ErrStoreUnavailable)
	}
	if err := l.FailNext; err != nil {
		l.FailNext = nil
		return err
	}

	snapshot := cloneRecords(l.records)
	nextID := l.nextID
	rollback := func() {
		l.records = snapshot
		l.nextID = nextID
	}

	defer func() {
		if r := recover(); r != nil {
			rollback()
			err = fmt.Errorf("transaction panicked: %v", r)
		}
	}()

	if err := fn(ctx, &memTx{l: l}); err != nil {
		rollback()
		return err
	}
	return nil
}

func (l *Ledger) Close() error {
	l.sem <- struct{}{}
	l.closed = true
	<-l.sem
	return nil
}

// Records returns a copy of every record in id order. Test-only helper.
func (l *Ledger) Records() []store.AccessRecord {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	return cloneRecords(l.records)
}

type memTx struct {
	l *Ledger
}

func (t *memTx) find(id int64) *store.AccessRecord {
	for i := range t.l.records {
		if t.l.records[i].ID == id {
			return &t.l.records[i]
		}
	}
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, plate, token string, timeIn time.Time, imageRefIn string, status store.Status) (int64, error) {
	if !status.Valid() {
		return 0, fmt.Errorf("InsertEntry: invalid status %d", int(status))
	}
	if status == store.StatusInside {
		for _, r := range t.l.records {
			if r.Status == store.StatusInside && (r.Plate == plate || r.Token == token) {
				return 0, fmt.Errorf("InsertEntry: %w", ErrConstraint)
			}
		}
	}
	now := t.l.now()
	rec := store.AccessRecord{
		ID:         t.l.nextID,
		Plate:      plate,
		Token:      token,
		TimeIn:     timeIn.UTC(),
		ImageRefIn: imageRefIn,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	t.l.nextID++
	t.l.records = append(t.l.records, rec)
	return rec.ID, nil
}

func (t *memTx) UpdateExit(_ context.Context, id int64, timeOut time.Time, imageRefOut string) (bool, error) {
	r := t.find(id)
	if r == nil || r.Status != store.StatusInside {
		return false, nil
	}
	out := timeOut.UTC()
	r.TimeOut = &out
	r.ImageRefOut = imageRefOut
	r.Status = store.StatusCompleted
	r.Synced = false
	r.UpdatedAt = t.l.now()
	return true, nil
}

func (t *memTx) FindInsideByToken(_ context.Context, token string) (*store.AccessRecord, error) {
	for i := len(t.l.records) - 1; i >= 0; i-- {
		r := t.l.records[i]
		if r.Token == token && r.Status == store.StatusInside {
			return cloneRecord(r), nil
		}
	}
	return nil, nil
}

func (t *memTx) IsPlateInside(_ context.Context, plate string) (bool, error) {
	for _, r := range t.l.records {
		if r.Plate == plate && r.Status == store.StatusInside {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) NextUnsyncedBatch(_ context.Context, limit int) ([]store.AccessRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	var out []store.AccessRecord
	for _, r := range t.l.records {
		if !r.Synced {
			out = append(out, *cloneRecord(r))
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (t *memTx) MarkSynced(_ context.Context, id int64) error {
	r := t.find(id)
	if r == nil {
		return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
	}
	r.Synced = true
	r.UpdatedAt = t.l.now()
	return nil
}

func (t *memTx) MarkInvalid(_ context.Context, id int64) error {
	r := t.find(id)
	if r == nil {
		return fmt.Errorf("record %d: %w", id, store.ErrNotFound)
	}
	r.Status = store.StatusInvalid
	r.Synced = true
	r.UpdatedAt = t.l.now()
	return nil
}

func (t *memTx) Get(_ context.Context, id int64) (*store.AccessRecord, error) {
	r := t.find(id)
	if r == nil {
		return nil, fmt.Errorf("Get %d: %w", id, store.ErrNotFound)
	}
	return cloneRecord(*r), nil
}

func (t *memTx) HasUnsynced(_ context.Context) (bool, error) {
	for _, r := range t.l.records {
		if !r.Synced {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) ListHistory(_ context.Context, q store.HistoryQuery) (store.HistoryPage, error) {
	q = q.Normalize()
	var matched []store.AccessRecord
	for i := len(t.l.records) - 1; i >= 0; i-- {
		if matches(t.l.records[i], q.Search) {
			matched = append(matched, *cloneRecord(t.l.records[i]))
		}
	}
	start := (q.Page - 1) * q.PerPage
	var page []store.AccessRecord
	if start < len(matched) {
		end := min(start+q.PerPage, len(matched))
		page = matched[start:end]
	}
	return store.NewHistoryPage(page, len(matched), q), nil
}

func (t *memTx) ListInside(_ context.Context, search string) ([]store.AccessRecord, error) {
	search = strings.TrimSpace(search)
	var out []store.AccessRecord
	for _, r := range t.l.records {
		if r.Status == store.StatusInside && matches(r, search) {
			out = append(out, *cloneRecord(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimeIn.Equal(out[j].TimeIn) {
			return out[i].ID > out[j].ID
		}
		return out[i].TimeIn.After(out[j].TimeIn)
	})
	return out, nil
}

func (t *memTx) CountStats(_ context.Context, since time.Time) (store.Stats, error) {
	var st store.Stats
	for _, r := range t.l.records {
		switch {
		case r.Status == store.StatusInside || r.Status == store.StatusCompleted:
			if !r.TimeIn.Before(since) {
				st.Entries++
			}
			if r.Status == store.StatusCompleted && r.TimeOut != nil && !r.TimeOut.Before(since) {
				st.Exits++
			}
		case r.Status.IsFailure():
			if !r.TimeIn.Before(since) {
				st.Failures++
			}
		}
	}
	return st, nil
}

func (t *memTx) ForceExit(_ context.Context, id int64, timeOut time.Time) (bool, error) {
	r := t.find(id)
	if r == nil || r.Status != store.StatusInside {
		return false, nil
	}
	out := timeOut.UTC()
	r.TimeOut = &out
	r.Status = store.StatusCompleted
	r.Synced = false
	r.UpdatedAt = t.l.now()
	return true, nil
}

func (t *memTx) SyncedImageRefsBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	var out []string
	for _, r := range t.l.records {
		last := r.TimeIn
		if r.TimeOut != nil {
			last = *r.TimeOut
		}
		if !r.Synced || r.Status == store.StatusInside || !last.Before(cutoff) {
			continue
		}
		if r.ImageRefIn != "" {
			out = append(out, r.ImageRefIn)
		}
		if r.ImageRefOut != "" {
			out = append(out, r.ImageRefOut)
		}
	}
	return out, nil
}

func matches(r store.AccessRecord, search string) bool {
	if search == "" {
		return true
	}
	s := strings.ToUpper(search)
	return strings.Contains(strings.ToUpper(r.Plate), s) || strings.Contains(strings.ToUpper(r.Token), s)
}

func cloneRecord(r store.AccessRecord) *store.AccessRecord {
	if r.TimeOut != nil {
		t := *r.TimeOut
		r.TimeOut = &t
	}
	return &r
}

func cloneRecords(in []store.AccessRecord) []store.AccessRecord {
	out := make([]store.AccessRecord, len(in))
	for i, r := range in {
		out[i] = *cloneRecord(r)
	}
	return out
}
