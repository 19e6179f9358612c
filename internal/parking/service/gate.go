package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/hardware"
)

type GateConfig struct {
	CameraTimeout time.Duration // default 5s
	BlinkDuration time.Duration // default 2s
	Pause         time.Duration // between reads, default 1s
}

type GateRunnerDependencies struct {
	Engine     *GateService
	Coord      *coord.Coordinator
	Reader     hardware.CardReader
	Camera     hardware.Camera
	Recognizer hardware.Recognizer
	Actuator   hardware.Actuator
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Gate is the foreground loop: read a badge, capture, recognize, decide,
// then actuate once the record is durable.
type Gate struct {
	engine     *GateService
	coord      *coord.Coordinator
	reader     hardware.CardReader
	camera     hardware.Camera
	recognizer hardware.Recognizer
	actuator   hardware.Actuator
	clock      clock.Clock
	logger     *slog.Logger
	cfg        GateConfig
}

func NewGate(deps GateRunnerDependencies, cfg GateConfig) *Gate {
	if cfg.CameraTimeout <= 0 {
		cfg.CameraTimeout = 5 * time.Second
	}
	if cfg.BlinkDuration <= 0 {
		cfg.BlinkDuration = 2 * time.Second
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{
		engine:     deps.Engine,
		coord:      deps.Coord,
		reader:     deps.Reader,
		camera:     deps.Camera,
		recognizer: deps.Recognizer,
		actuator:   deps.Actuator,
		clock:      deps.Clock,
		logger:     deps.Logger,
		cfg:        cfg,
	}
}

// Run loops until ctx is cancelled or the reader closes. Decision errors
// are logged and never end the loop.
func (g *Gate) Run(ctx context.Context) error {
	g.logger.Info("gate.started")
	for {
		token, err := g.reader.ReadToken(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, hardware.ErrReaderClosed) {
				g.logger.Info("gate.stopped", "reason", err)
				return nil
			}
			g.logger.Error("gate.reader.failed", "err", err)
			if !g.pause(ctx) {
				return nil
			}
			continue
		}

		if _, err := g.HandleBadge(ctx, token); err != nil {
			g.logger.Error("gate.badge.failed", "token", token, "err", err)
		}
		if !g.pause(ctx) {
			return nil
		}
	}
}

// HandleBadge processes one badge read inside the processing section.
func (g *Gate) HandleBadge(ctx context.Context, token string) (Outcome, error) {
	release, err := g.coord.BeginProcessing()
	if err != nil {
		return Outcome{}, err
	}
	defer release()

	frame := g.capture(ctx)
	plate := hardware.PlateUnknown
	if len(frame) > 0 && g.recognizer != nil {
		p, err := g.recognizer.Recognize(ctx, frame)
		if err != nil {
			g.logger.Warn("gate.recognize.failed", "token", token, "err", err)
		} else {
			plate = p
		}
	}

	out, err := g.engine.ProcessEvent(ctx, Event{Token: token, RecognizedPlate: plate, Image: frame})
	if err != nil {
		return Outcome{}, err
	}

	// The record is committed; only now drive the indicator.
	if out.Accepted && g.actuator != nil {
		if err := g.actuator.Blink(ctx, g.cfg.BlinkDuration); err != nil {
			g.logger.Warn("gate.actuator.failed", "err", err)
		}
	}
	return out, nil
}

func (g *Gate) capture(ctx context.Context) []byte {
	if g.camera == nil {
		return nil
	}
	release, err := g.coord.AcquireCamera(ctx, g.cfg.CameraTimeout)
	if err != nil {
		g.logger.Warn("gate.camera.unavailable", "err", err)
		return nil
	}
	defer release()

	frame, err := g.camera.Capture(ctx)
	if err != nil {
		g.logger.Warn("gate.camera.capture_failed", "err", err)
		return nil
	}
	return frame
}

func (g *Gate) pause(ctx context.Context) bool {
	if g.cfg.Pause == 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-g.clock.After(g.cfg.Pause):
		return true
	}
}
