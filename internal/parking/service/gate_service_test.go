package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/evidence"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store/memory"
)

// ═══════════════════════════════════════════════════════════════════════════
// Entry / exit scenarios
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessEvent_EntryThenFindInside(t *testing.T) {
	for _, lf := range ledgers() {
		t.Run(lf.name, func(t *testing.T) {
			h := newHarness(t, lf.open(t))

			out := h.process(t, "T1", "abc-123")
			if out.Kind != service.KindEntry || !out.Accepted {
				t.Fatalf("expected accepted ENTRY, got %+v", out)
			}
			if out.Plate != "ABC123" || out.Reason != service.ReasonEntry {
				t.Errorf("unexpected outcome: %+v", out)
			}

			rec, err := store.FindInsideByToken(context.Background(), h.ledger, "T1")
			if err != nil {
				t.Fatalf("FindInsideByToken: %v", err)
			}
			if rec == nil || rec.Plate != "ABC123" || rec.Status != store.StatusInside {
				t.Fatalf("expected INSIDE ABC123, got %+v", rec)
			}
			if !h.coord.WorkPending() {
				t.Error("expected work signal after decision")
			}
		})
	}
}

func TestProcessEvent_PlateAlreadyInsideUnderOtherToken(t *testing.T) {
	for _, lf := range ledgers() {
		t.Run(lf.name, func(t *testing.T) {
			h := newHarness(t, lf.open(t))
			first := h.process(t, "T1", "ABC123")

			out := h.process(t, "T2", "ABC123")
			if out.Accepted || out.Status != store.StatusFailPlateAlreadyInside {
				t.Fatalf("expected FAIL_PLATE_ALREADY_INSIDE, got %+v", out)
			}
			if out.Reason != service.ReasonPlateAlreadyInside {
				t.Errorf("expected reason %s, got %s", service.ReasonPlateAlreadyInside, out.Reason)
			}

			if rec := h.record(t, first.RecordID); rec.Status != store.StatusInside {
				t.Errorf("T1 occupancy changed: %s", rec.Status)
			}
			inside, _ := store.FindInsideByToken(context.Background(), h.ledger, "T2")
			if inside != nil {
				t.Errorf("T2 must not be inside, got %+v", inside)
			}
			assertOccupancy(t, h.ledger)
		})
	}
}

func TestProcessEvent_ExitPlateMismatchKeepsOriginal(t *testing.T) {
	for _, lf := range ledgers() {
		t.Run(lf.name, func(t *testing.T) {
			h := newHarness(t, lf.open(t))
			entry := h.process(t, "T1", "ABC123")

			out := h.process(t, "T1", "XYZ999")
			if out.Accepted || out.Status != store.StatusFailPlateMismatch {
				t.Fatalf("expected FAIL_PLATE_MISMATCH, got %+v", out)
			}
			if out.RecordID == entry.RecordID {
				t.Fatal("mismatch must append a separate record")
			}

			orig := h.record(t, entry.RecordID)
			if orig.Status != store.StatusInside || orig.TimeOut != nil || orig.ImageRefOut != "" {
				t.Errorf("original record was modified: %+v", orig)
			}
			audit := h.record(t, out.RecordID)
			if audit.Plate != "XYZ999" || audit.Token != "T1" {
				t.Errorf("unexpected audit record: %+v", audit)
			}
		})
	}
}

func TestProcessEvent_ExitWithoutPlateIsMismatch(t *testing.T) {
	h := newHarness(t, memory.New())
	entry := h.process(t, "T1", "ABC123")

	out := h.process(t, "T1", "unknown")
	if out.Status != store.StatusFailPlateMismatch || out.Plate != store.PlateUnknown {
		t.Fatalf("expected mismatch with UNKNOWN plate, got %+v", out)
	}
	if rec := h.record(t, entry.RecordID); rec.Status != store.StatusInside {
		t.Errorf("expected original to stay INSIDE, got %s", rec.Status)
	}
}

func TestProcessEvent_MatchingExitCompletesAndAllowsReentry(t *testing.T) {
	for _, lf := range ledgers() {
		t.Run(lf.name, func(t *testing.T) {
			h := newHarness(t, lf.open(t))
			entry := h.process(t, "T1", "ABC123")

			out := h.process(t, "T1", "ABC 123")
			if out.Kind != service.KindExit || !out.Accepted || out.RecordID != entry.RecordID {
				t.Fatalf("expected accepted EXIT of %d, got %+v", entry.RecordID, out)
			}
			rec := h.record(t, entry.RecordID)
			if rec.Status != store.StatusCompleted || rec.TimeOut == nil {
				t.Fatalf("expected COMPLETED with time_out, got %+v", rec)
			}
			if !rec.TimeOut.Equal(h.clock.Now()) {
				t.Errorf("expected time_out %s, got %s", h.clock.Now(), rec.TimeOut)
			}

			again := h.process(t, "T1", "ABC123")
			if again.Kind != service.KindEntry || !again.Accepted {
				t.Fatalf("expected re-entry, got %+v", again)
			}
			if again.RecordID == entry.RecordID {
				t.Error("a new visit must start a fresh record")
			}
		})
	}
}

func TestProcessEvent_NoPlateOnEntry(t *testing.T) {
	h := newHarness(t, memory.New())

	for _, raw := range []string{"", "unknown", "UNKNOWN", "--- "} {
		out := h.process(t, "T1", raw)
		if out.Accepted || out.Status != store.StatusFailNoPlate || out.Reason != service.ReasonNoPlate {
			t.Fatalf("raw=%q: expected FAIL_NO_PLATE, got %+v", raw, out)
		}
		if out.Plate != store.PlateUnknown {
			t.Errorf("raw=%q: expected UNKNOWN plate, got %s", raw, out.Plate)
		}
	}
	if rec, _ := store.FindInsideByToken(context.Background(), h.ledger, "T1"); rec != nil {
		t.Errorf("rejections must not change occupancy, got %+v", rec)
	}
}

func TestProcessEvent_RejectsEmptyToken(t *testing.T) {
	h := newHarness(t, memory.New())
	_, err := h.gate.ProcessEvent(context.Background(), service.Event{Token: "  ", RecognizedPlate: "ABC123"})
	if !errors.Is(err, service.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestProcessEvent_StoreUnavailableRecordsNothing(t *testing.T) {
	l := memory.New()
	h := newHarness(t, l)
	l.FailNext = store.ErrStoreUnavailable

	_, err := h.gate.ProcessEvent(context.Background(), service.Event{Token: "T1", RecognizedPlate: "ABC123"})
	if !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if h.coord.WorkPending() {
		t.Error("no work should be signalled when nothing was recorded")
	}
	if n := len(l.Records()); n != 0 {
		t.Errorf("expected no records, got %d", n)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Occupancy invariant over a mixed sequence
// ═══════════════════════════════════════════════════════════════════════════

func TestProcessEvent_OccupancyInvariantHolds(t *testing.T) {
	for _, lf := range ledgers() {
		t.Run(lf.name, func(t *testing.T) {
			h := newHarness(t, lf.open(t))

			seq := []struct{ token, plate string }{
				{"T1", "AAA111"}, {"T2", "AAA111"}, {"T2", "BBB222"}, {"T1", "BBB222"},
				{"T3", "CCC333"}, {"T1", "AAA111"}, {"T2", "AAA111"}, {"T3", ""},
				{"T3", "CCC333"}, {"T4", "BBB222"}, {"T2", "BBB222"}, {"T4", "BBB222"},
				{"T1", "CCC333"}, {"T5", "CCC333"}, {"T1", "CCC333"},
			}
			for _, s := range seq {
				h.process(t, s.token, s.plate)
				assertOccupancy(t, h.ledger)
			}
		})
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Evidence, listeners and force exit
// ═══════════════════════════════════════════════════════════════════════════

type outcomeRecorder struct{ got []service.Outcome }

func (r *outcomeRecorder) OutcomeRecorded(o service.Outcome) { r.got = append(r.got, o) }

func TestProcessEvent_SavesEvidenceAndNotifies(t *testing.T) {
	l := memory.New()
	clk := clock.NewManual(t0)
	ev, err := evidence.New(t.TempDir(), clk)
	if err != nil {
		t.Fatalf("evidence.New: %v", err)
	}
	rec := &outcomeRecorder{}
	gs := service.NewGateService(service.GateDependencies{
		Ledger:    l,
		Coord:     coord.New(),
		Evidence:  ev,
		Clock:     clk,
		Logger:    silentLogger(),
		Listeners: []service.OutcomeListener{rec},
	})

	ctx := context.Background()
	in, err := gs.ProcessEvent(ctx, service.Event{Token: "T1", RecognizedPlate: "ABC123", Image: []byte("frame-in")})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	out, err := gs.ProcessEvent(ctx, service.Event{Token: "T1", RecognizedPlate: "ABC123", Image: []byte("frame-out")})
	if err != nil {
		t.Fatalf("exit: %v", err)
	}

	stored, _ := store.Get(ctx, l, in.RecordID)
	if stored.ImageRefIn == "" || stored.ImageRefOut == "" {
		t.Fatalf("expected both evidence refs, got %+v", stored)
	}
	if b, err := ev.Read(stored.ImageRefOut); err != nil || string(b) != "frame-out" {
		t.Errorf("unexpected exit frame: %q (err=%v)", b, err)
	}
	if out.ImageRef != stored.ImageRefOut {
		t.Errorf("outcome ref %q does not match record %q", out.ImageRef, stored.ImageRefOut)
	}
	if len(rec.got) != 2 || rec.got[0].Kind != service.KindEntry || rec.got[1].Kind != service.KindExit {
		t.Errorf("unexpected notifications: %+v", rec.got)
	}
}

func TestForceExit(t *testing.T) {
	h := newHarness(t, memory.New())
	entry := h.process(t, "T1", "ABC123")
	h.coord.ClearWork()

	ok, err := h.gate.ForceExit(context.Background(), entry.RecordID)
	if err != nil || !ok {
		t.Fatalf("ForceExit: ok=%v err=%v", ok, err)
	}
	rec := h.record(t, entry.RecordID)
	if rec.Status != store.StatusCompleted || rec.Synced {
		t.Errorf("unexpected record after force exit: %+v", rec)
	}
	if !h.coord.WorkPending() {
		t.Error("expected work signal after force exit")
	}

	ok, err = h.gate.ForceExit(context.Background(), entry.RecordID)
	if err != nil || ok {
		t.Errorf("second force exit: expected false, got ok=%v err=%v", ok, err)
	}
}
