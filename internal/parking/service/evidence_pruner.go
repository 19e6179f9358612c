package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

// EvidenceRemover deletes an evidence file by reference.
type EvidenceRemover interface {
	Remove(ref string) error
}

// EvidencePruner periodically deletes image files of synced records older
// than the retention period. Records themselves are never deleted.
//
// A retention of 0 disables pruning entirely.
type EvidencePruner struct {
	ledger    store.Ledger
	files     EvidenceRemover
	retention time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
}

type PrunerConfig struct {
	// RetentionDays is how many days of synced evidence to keep.
	// 0 means keep everything (pruner will not start).
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewEvidencePruner creates a pruner but does not start it.
func NewEvidencePruner(l store.Ledger, files EvidenceRemover, cfg PrunerConfig, clk clock.Clock, logger *slog.Logger) *EvidencePruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &EvidencePruner{
		ledger:    l,
		files:     files,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		clock:     clk,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the interval until ctx is
// cancelled or Stop is called.
func (p *EvidencePruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		p.logger.Info("evidence pruner disabled (retention=0)")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("evidence pruner started",
		"retention_days", int(p.retention.Hours()/24),
		"interval_hours", int(p.interval.Hours()))
}

// Stop signals the pruner to exit and waits for it to finish.
func (p *EvidencePruner) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *EvidencePruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce removes eligible files and returns how many were deleted.
func (p *EvidencePruner) PruneOnce(ctx context.Context) int {
	cutoff := p.clock.Now().Add(-p.retention)
	refs, err := store.SyncedImageRefsBefore(ctx, p.ledger, cutoff)
	if err != nil {
		p.logger.Error("evidence prune error", "err", err)
		return 0
	}

	deleted := 0
	for _, ref := range refs {
		if err := p.files.Remove(ref); err != nil {
			p.logger.Warn("evidence prune remove failed", "image", ref, "err", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		p.logger.Info("evidence prune", "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted
}
