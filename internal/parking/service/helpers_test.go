package service_test

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/db"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store/memory"
	sqlitestore "github.com/BrandonDHaskell/parkedge/internal/parking/store/sqlite"
	"github.com/BrandonDHaskell/parkedge/internal/transport"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ledgerFactory struct {
	name string
	open func(t *testing.T) store.Ledger
}

// ledgers returns both ledger implementations so decision tests run
// against the in-memory and the SQLite store.
func ledgers() []ledgerFactory {
	return []ledgerFactory{
		{name: "memory", open: func(t *testing.T) store.Ledger { return memory.New() }},
		{name: "sqlite", open: func(t *testing.T) store.Ledger {
			t.Helper()
			l, err := sqlitestore.Open(context.Background(),
				db.Config{Path: filepath.Join(t.TempDir(), "parking_data.db")},
				sqlitestore.Options{LockTimeout: 2 * time.Second})
			if err != nil {
				t.Fatalf("open sqlite ledger: %v", err)
			}
			t.Cleanup(func() { l.Close() })
			return l
		}},
	}
}

type harness struct {
	ledger store.Ledger
	coord  *coord.Coordinator
	clock  *clock.Manual
	gate   *service.GateService
}

func newHarness(t *testing.T, l store.Ledger) *harness {
	t.Helper()
	c := coord.New()
	clk := clock.NewManual(t0)
	return &harness{
		ledger: l,
		coord:  c,
		clock:  clk,
		gate: service.NewGateService(service.GateDependencies{
			Ledger: l,
			Coord:  c,
			Clock:  clk,
			Logger: silentLogger(),
		}),
	}
}

func (h *harness) process(t *testing.T, token, plate string) service.Outcome {
	t.Helper()
	h.clock.Advance(time.Minute)
	out, err := h.gate.ProcessEvent(context.Background(), service.Event{Token: token, RecognizedPlate: plate})
	if err != nil {
		t.Fatalf("ProcessEvent(%s, %s): %v", token, plate, err)
	}
	return out
}

func (h *harness) record(t *testing.T, id int64) *store.AccessRecord {
	t.Helper()
	rec, err := store.Get(context.Background(), h.ledger, id)
	if err != nil {
		t.Fatalf("Get(%d): %v", id, err)
	}
	return rec
}

// assertOccupancy fails if any plate or token has more than one INSIDE
// record.
func assertOccupancy(t *testing.T, l store.Ledger) {
	t.Helper()
	inside, err := store.ListInside(context.Background(), l, "")
	if err != nil {
		t.Fatalf("ListInside: %v", err)
	}
	plates := map[string]int{}
	tokens := map[string]int{}
	for _, r := range inside {
		plates[r.Plate]++
		tokens[r.Token]++
		if plates[r.Plate] > 1 {
			t.Fatalf("plate %s inside twice", r.Plate)
		}
		if tokens[r.Token] > 1 {
			t.Fatalf("token %s inside twice", r.Token)
		}
	}
}

// fakeSubmitter returns scripted results, then Default.
type fakeSubmitter struct {
	mu       sync.Mutex
	script   []transport.Result
	Default  transport.Result
	payloads []transport.Payload
	images   [][]byte
}

func (f *fakeSubmitter) Submit(_ context.Context, p transport.Payload, image []byte) transport.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	f.images = append(f.images, image)
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		return r
	}
	return f.Default
}

func (f *fakeSubmitter) Payloads() []transport.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transport.Payload, len(f.payloads))
	copy(out, f.payloads)
	return out
}

// mapImages serves frames from memory.
type mapImages map[string][]byte

func (m mapImages) Read(ref string) ([]byte, error) {
	b, ok := m[ref]
	if !ok {
		return nil, fmt.Errorf("image %s: %w", ref, fs.ErrNotExist)
	}
	return b, nil
}
