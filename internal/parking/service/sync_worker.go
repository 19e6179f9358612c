package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
	"github.com/BrandonDHaskell/parkedge/internal/transport"
)

var ErrStopTimeout = errors.New("sync worker did not stop in time")

// Submitter delivers one payload upstream.
type Submitter interface {
	Submit(ctx context.Context, p transport.Payload, image []byte) transport.Result
}

// ImageSource reads evidence frames. A missing frame must match
// fs.ErrNotExist.
type ImageSource interface {
	Read(ref string) ([]byte, error)
}

// SyncStep is what one drain step did.
type SyncStep string

const (
	StepSynced       SyncStep = "synced"
	StepRejected     SyncStep = "rejected"
	StepImageMissing SyncStep = "image_missing"
	StepRetryLater   SyncStep = "retry_later"
	StepEmpty        SyncStep = "empty"
	StepDeferred     SyncStep = "deferred"
)

type SyncConfig struct {
	// UID identifies this edge node upstream.
	UID string

	WaitTimeout     time.Duration // default 60s
	InFlightBackoff time.Duration // default 500ms
	ErrorPause      time.Duration // default 30s
}

type SyncDependencies struct {
	Ledger    store.Ledger
	Coord     *coord.Coordinator
	Submitter Submitter
	Images    ImageSource
	Clock     clock.Clock
	Logger    *slog.Logger
	Listeners []SyncListener
}

// SyncWorker drains un-synced records to the remote authority, oldest
// first, one record per store lock acquisition.
type SyncWorker struct {
	ledger    store.Ledger
	coord     *coord.Coordinator
	submitter Submitter
	images    ImageSource
	clock     clock.Clock
	logger    *slog.Logger
	listeners []SyncListener
	cfg       SyncConfig

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSyncWorker(deps SyncDependencies, cfg SyncConfig) *SyncWorker {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 60 * time.Second
	}
	if cfg.InFlightBackoff <= 0 {
		cfg.InFlightBackoff = 500 * time.Millisecond
	}
	if cfg.ErrorPause <= 0 {
		cfg.ErrorPause = 30 * time.Second
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SyncWorker{
		ledger:    deps.Ledger,
		coord:     deps.Coord,
		submitter: deps.Submitter,
		images:    deps.Images,
		clock:     deps.Clock,
		logger:    deps.Logger,
		listeners: deps.Listeners,
		cfg:       cfg,
		done:      make(chan struct{}),
	}
}

// RecoverPending raises the work signal when records were left un-synced
// by a previous run.
func (w *SyncWorker) RecoverPending(ctx context.Context) (bool, error) {
	pending, err := store.HasUnsynced(ctx, w.ledger)
	if err != nil {
		return false, err
	}
	if pending {
		w.coord.SignalWork()
		w.logger.Info("sync.recovery.pending")
	}
	return pending, nil
}

// Start begins the background loop. It exits when ctx is cancelled or Stop
// is called.
func (w *SyncWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.loop(ctx)

	w.logger.Info("sync.started",
		"wait", w.cfg.WaitTimeout.String(),
		"in_flight_backoff", w.cfg.InFlightBackoff.String(),
		"error_pause", w.cfg.ErrorPause.String(),
	)
}

// Stop signals the loop to exit between iterations and waits up to
// timeout for it.
func (w *SyncWorker) Stop(timeout time.Duration) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-w.done:
		w.logger.Info("sync.stopped")
		return nil
	case <-t.C:
		return ErrStopTimeout
	}
}

func (w *SyncWorker) loop(ctx context.Context) {
	defer close(w.done)

	for {
		// A timeout also leads to a drain attempt so that records left by a
		// temporary failure are retried.
		w.coord.WaitForWork(ctx, w.cfg.WaitTimeout)
		if ctx.Err() != nil {
			return
		}

		for {
			if !w.awaitIdle(ctx) {
				return
			}
			step, err := w.DrainOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("sync.step.failed", "err", err, "pause", w.cfg.ErrorPause.String())
				w.coord.ClearWork()
				if !w.sleep(ctx, w.cfg.ErrorPause) {
					return
				}
				break
			}
			if step != StepDeferred {
				break
			}
		}
	}
}

// awaitIdle backs off while a vehicle is being processed. It reports false
// if ctx ended.
func (w *SyncWorker) awaitIdle(ctx context.Context) bool {
	for w.coord.IsProcessing() {
		if !w.sleep(ctx, w.cfg.InFlightBackoff) {
			return false
		}
	}
	return ctx.Err() == nil
}

func (w *SyncWorker) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-w.clock.After(d):
		return true
	}
}

// DrainOnce processes the oldest un-synced record under one store lock
// acquisition. The work signal is updated before the lock is released.
func (w *SyncWorker) DrainOnce(ctx context.Context) (SyncStep, error) {
	var (
		step SyncStep
		ev   SyncEvent
	)
	err := w.ledger.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		if w.coord.IsProcessing() {
			step = StepDeferred
			return nil
		}

		batch, err := tx.NextUnsyncedBatch(ctx, 1)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			step = StepEmpty
			w.coord.ClearWork()
			return nil
		}
		rec := batch[0]
		ev = SyncEvent{RecordID: rec.ID, EventType: rec.Status.EventType()}

		step, err = w.process(ctx, tx, rec)
		if err != nil {
			return err
		}
		switch step {
		case StepRetryLater:
			w.coord.ClearWork()
		default:
			w.coord.SignalWork()
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if ev.RecordID != 0 {
		ev.Result = step
		w.logger.Info("sync.step", "record_id", ev.RecordID, "event_type", ev.EventType, "result", string(step))
		for _, l := range w.listeners {
			l.SyncRecorded(ev)
		}
	}
	return step, nil
}

func (w *SyncWorker) process(ctx context.Context, tx store.Tx, rec store.AccessRecord) (SyncStep, error) {
	if rec.Status.EventType() == "" {
		if err := tx.MarkInvalid(ctx, rec.ID); err != nil {
			return "", err
		}
		return StepRejected, nil
	}

	var image []byte
	if ref := rec.EventImageRef(); ref != "" {
		b, err := w.images.Read(ref)
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("sync.image.missing", "record_id", rec.ID, "image", ref)
			if err := tx.MarkInvalid(ctx, rec.ID); err != nil {
				return "", err
			}
			return StepImageMissing, nil
		}
		if err != nil {
			return "", fmt.Errorf("read image %s: %w", ref, err)
		}
		image = b
	}

	res := w.submitter.Submit(ctx, w.payload(rec), image)
	switch res {
	case transport.Success:
		if err := tx.MarkSynced(ctx, rec.ID); err != nil {
			return "", err
		}
		return StepSynced, nil
	case transport.PermanentFailure:
		w.logger.Warn("sync.rejected", "record_id", rec.ID, "err", res.Err())
		if err := tx.MarkInvalid(ctx, rec.ID); err != nil {
			return "", err
		}
		return StepRejected, nil
	default:
		w.logger.Warn("sync.deferred", "record_id", rec.ID, "result", res.String(), "err", res.Err())
		return StepRetryLater, nil
	}
}

func (w *SyncWorker) payload(rec store.AccessRecord) transport.Payload {
	return transport.Payload{
		UID:        w.cfg.UID,
		Plate:      rec.Plate,
		Token:      rec.Token,
		Timestamp:  rec.EventTime().UTC().Format(time.RFC3339),
		EventType:  rec.Status.EventType(),
		Details:    fmt.Sprintf("DB_ID: %d - %s", rec.ID, details(rec.Status)),
		DeviceDBID: rec.ID,
	}
}
