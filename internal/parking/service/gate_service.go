package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/evidence"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

var ErrInvalidToken = errors.New("token is required")

// EvidenceSaver stores a frame and returns its reference.
type EvidenceSaver interface {
	Save(kind, plate string, data []byte) (string, error)
}

type GateDependencies struct {
	Ledger    store.Ledger
	Coord     *coord.Coordinator
	Evidence  EvidenceSaver // optional
	Clock     clock.Clock
	Logger    *slog.Logger
	Listeners []OutcomeListener
}

// GateService is the access decision engine.
type GateService struct {
	ledger    store.Ledger
	coord     *coord.Coordinator
	evidence  EvidenceSaver
	clock     clock.Clock
	logger    *slog.Logger
	listeners []OutcomeListener
}

func NewGateService(deps GateDependencies) *GateService {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &GateService{
		ledger:    deps.Ledger,
		coord:     deps.Coord,
		evidence:  deps.Evidence,
		clock:     deps.Clock,
		logger:    deps.Logger,
		listeners: deps.Listeners,
	}
}

// ProcessEvent decides ENTRY, EXIT or REJECT for ev and records the result
// in one ledger transaction. Rejections are outcomes, not errors; an error
// means nothing was recorded.
func (s *GateService) ProcessEvent(ctx context.Context, ev Event) (Outcome, error) {
	token := strings.TrimSpace(ev.Token)
	if token == "" {
		return Outcome{}, ErrInvalidToken
	}
	plate, recognized := NormalizePlate(ev.RecognizedPlate)

	var out Outcome
	err := s.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		out = Outcome{Token: token, Plate: plate}

		current, err := tx.FindInsideByToken(ctx, token)
		if err != nil {
			return err
		}

		if current == nil {
			return s.decideEntry(ctx, tx, &out, ev, recognized)
		}
		return s.decideExit(ctx, tx, &out, ev, current, recognized)
	})
	if err != nil {
		s.logger.Error("gate.decision.failed", "token", token, "err", err)
		return Outcome{}, err
	}

	// Every record, rejections included, is reported upstream.
	if s.coord != nil {
		s.coord.SignalWork()
	}

	s.logger.Info("gate.decision",
		"kind", string(out.Kind),
		"accepted", out.Accepted,
		"reason", out.Reason,
		"record_id", out.RecordID,
		"plate", out.Plate,
		"token", out.Token,
	)
	for _, l := range s.listeners {
		l.OutcomeRecorded(out)
	}
	return out, nil
}

func (s *GateService) decideEntry(ctx context.Context, tx store.Tx, out *Outcome, ev Event, recognized bool) error {
	now := s.clock.Now()

	if !recognized {
		out.Plate = store.PlateUnknown
		return s.reject(ctx, tx, out, ev, store.StatusFailNoPlate, ReasonNoPlate, now)
	}

	inside, err := tx.IsPlateInside(ctx, out.Plate)
	if err != nil {
		return err
	}
	if inside {
		return s.reject(ctx, tx, out, ev, store.StatusFailPlateAlreadyInside, ReasonPlateAlreadyInside, now)
	}

	ref := s.imageRef(ev, evidence.KindIn, out.Plate)
	id, err := tx.InsertEntry(ctx, out.Plate, out.Token, now, ref, store.StatusInside)
	if err != nil {
		return err
	}
	out.Kind = KindEntry
	out.Accepted = true
	out.Reason = ReasonEntry
	out.RecordID = id
	out.Status = store.StatusInside
	out.ImageRef = ref
	return nil
}

func (s *GateService) decideExit(ctx context.Context, tx store.Tx, out *Outcome, ev Event, current *store.AccessRecord, recognized bool) error {
	now := s.clock.Now()

	if !recognized || out.Plate != current.Plate {
		// The INSIDE record stays claimable until a matching exit.
		if !recognized {
			out.Plate = store.PlateUnknown
		}
		return s.reject(ctx, tx, out, ev, store.StatusFailPlateMismatch, ReasonExitPlateMismatch, now)
	}

	ref := s.imageRef(ev, evidence.KindOut, out.Plate)
	ok, err := tx.UpdateExit(ctx, current.ID, now, ref)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("exit update lost: record no longer inside")
	}
	out.Kind = KindExit
	out.Accepted = true
	out.Reason = ReasonExit
	out.RecordID = current.ID
	out.Status = store.StatusCompleted
	out.ImageRef = ref
	return nil
}

func (s *GateService) reject(ctx context.Context, tx store.Tx, out *Outcome, ev Event, st store.Status, reason string, now time.Time) error {
	ref := s.imageRef(ev, evidence.KindFail, out.Plate)
	id, err := tx.InsertEntry(ctx, out.Plate, out.Token, now, ref, st)
	if err != nil {
		return err
	}
	out.Kind = KindReject
	out.Accepted = false
	out.Reason = reason
	out.RecordID = id
	out.Status = st
	out.ImageRef = ref
	return nil
}

// imageRef returns the event's evidence reference, saving the frame first
// when needed. A failed save is logged and the record is written without
// evidence.
func (s *GateService) imageRef(ev Event, kind, plate string) string {
	if ev.ImageRef != "" {
		return ev.ImageRef
	}
	if len(ev.Image) == 0 || s.evidence == nil {
		return ""
	}
	ref, err := s.evidence.Save(kind, plate, ev.Image)
	if err != nil {
		s.logger.Warn("gate.evidence.save_failed", "kind", kind, "plate", plate, "err", err)
		return ""
	}
	return ref
}

// ForceExit is the operator override for a vehicle whose exit was never
// recorded. The completed record is queued for upstream submission again.
func (s *GateService) ForceExit(ctx context.Context, id int64) (bool, error) {
	ok, err := store.ForceExit(ctx, s.ledger, id, s.clock.Now())
	if err != nil {
		s.logger.Error("gate.force_exit.failed", "record_id", id, "err", err)
		return false, err
	}
	if !ok {
		s.logger.Warn("gate.force_exit.not_inside", "record_id", id)
		return false, nil
	}
	if s.coord != nil {
		s.coord.SignalWork()
	}
	s.logger.Info("gate.force_exit", "record_id", id)
	return true, nil
}
