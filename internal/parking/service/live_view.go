package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/hardware"
)

// LiveView keeps a preview frame on disk while the live-view flag is set.
// It contends with the gate for the camera.
type LiveView struct {
	coord    *coord.Coordinator
	camera   hardware.Camera
	path     string
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLiveView(c *coord.Coordinator, cam hardware.Camera, path string, interval time.Duration, logger *slog.Logger) *LiveView {
	if path == "" {
		path = filepath.Join(os.TempDir(), "live_view.jpg")
	}
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LiveView{coord: c, camera: cam, path: path, interval: interval, logger: logger}
}

func (v *LiveView) Path() string { return v.path }

// Start launches the frame writer. It reports false if live view is
// already running.
func (v *LiveView) Start(ctx context.Context) bool {
	if !v.coord.StartLiveView() {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	ctx, v.cancel = context.WithCancel(ctx)
	v.done = make(chan struct{})
	go v.loop(ctx, v.done)
	v.logger.Info("live_view.started", "path", v.path)
	return true
}

// Stop clears the flag and waits for the writer to exit.
func (v *LiveView) Stop() {
	v.coord.StopLiveView()
	v.mu.Lock()
	cancel, done := v.cancel, v.done
	v.cancel, v.done = nil, nil
	v.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
		v.logger.Info("live_view.stopped")
	}
}

func (v *LiveView) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(v.interval)
	defer t.Stop()

	for v.coord.LiveViewRunning() {
		if err := v.writeFrame(ctx); err != nil {
			v.logger.Debug("live_view.frame_skipped", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (v *LiveView) writeFrame(ctx context.Context) error {
	release, err := v.coord.AcquireCamera(ctx, v.interval)
	if err != nil {
		return err
	}
	frame, err := v.camera.Capture(ctx)
	release()
	if err != nil {
		return err
	}

	tmp := v.path + ".tmp"
	if err := os.WriteFile(tmp, frame, 0o644); err != nil {
		return fmt.Errorf("live view write: %w", err)
	}
	return os.Rename(tmp, v.path)
}
