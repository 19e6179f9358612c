package store

import (
	"fmt"
	"strings"
	"time"
)

// PlateUnknown is stored when no plate could be recognized.
const PlateUnknown = "UNKNOWN"

// Status values are persisted as integers.
type Status int

const (
	StatusInside                 Status = 0
	StatusCompleted              Status = 1
	StatusInvalid                Status = 2
	StatusFailNoPlate            Status = 3
	StatusFailPlateAlreadyInside Status = 4
	StatusFailPlateMismatch      Status = 5
)

var statusNames = map[Status]string{
	StatusInside:                 "INSIDE",
	StatusCompleted:              "COMPLETED",
	StatusInvalid:                "INVALID",
	StatusFailNoPlate:            "FAIL_NO_PLATE",
	StatusFailPlateAlreadyInside: "FAIL_PLATE_ALREADY_INSIDE",
	StatusFailPlateMismatch:      "FAIL_PLATE_MISMATCH",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATUS(%d)", int(s))
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// IsFailure reports whether s is one of the rejection audit statuses.
func (s Status) IsFailure() bool {
	return s == StatusFailNoPlate || s == StatusFailPlateAlreadyInside || s == StatusFailPlateMismatch
}

// EventType maps a status to the upstream event type. INVALID records are
// never submitted and map to "".
func (s Status) EventType() string {
	switch s {
	case StatusInside:
		return "IN"
	case StatusCompleted:
		return "OUT"
	case StatusFailNoPlate, StatusFailPlateAlreadyInside, StatusFailPlateMismatch:
		return s.String()
	default:
		return ""
	}
}

func ParseStatus(s string) (Status, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	for st, n := range statusNames {
		if n == want {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

type AccessRecord struct {
	ID          int64
	Plate       string
	Token       string
	TimeIn      time.Time
	TimeOut     *time.Time
	ImageRefIn  string // empty when absent
	ImageRefOut string // empty when absent
	Status      Status
	Synced      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EventTime is the time of the record's latest transition: time_out for a
// completed visit, time_in otherwise.
func (r AccessRecord) EventTime() time.Time {
	if r.Status == StatusCompleted && r.TimeOut != nil {
		return *r.TimeOut
	}
	return r.TimeIn
}

// EventImageRef is the evidence image belonging to the latest transition.
// A completed visit reports its exit frame only, which may be empty.
func (r AccessRecord) EventImageRef() string {
	if r.Status == StatusCompleted {
		return r.ImageRefOut
	}
	return r.ImageRefIn
}

type HistoryQuery struct {
	Search  string // substring of plate or token
	Page    int    // 1-based
	PerPage int
}

const (
	DefaultPerPage = 20
	MaxPerPage     = 200
)

// Normalize clamps paging values to sane bounds.
func (q HistoryQuery) Normalize() HistoryQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

type HistoryPage struct {
	Records    []AccessRecord
	Total      int
	Page       int
	PerPage    int
	TotalPages int
}

func NewHistoryPage(records []AccessRecord, total int, q HistoryQuery) HistoryPage {
	pages := 0
	if q.PerPage > 0 {
		pages = (total + q.PerPage - 1) / q.PerPage
	}
	return HistoryPage{
		Records:    records,
		Total:      total,
		Page:       q.Page,
		PerPage:    q.PerPage,
		TotalPages: pages,
	}
}

type Stats struct {
	Entries  int
	Exits    int
	Failures int
}
