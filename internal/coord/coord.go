// Package coord owns the in-process coordination state shared by the gate
// loop, the sync worker and the live-view writer.
package coord

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyProcessing = errors.New("vehicle processing already in progress")
	ErrCameraBusy        = errors.New("camera busy")
)

// Coordinator holds the processing flag, the level-triggered work signal,
// the camera lock and the live-view flag. The store lock is a separate
// domain and is never taken here.
type Coordinator struct {
	mu         sync.Mutex
	processing bool
	work       bool
	workCh     chan struct{} // closed while work is set
	liveView   bool

	camera chan struct{}
}

func New() *Coordinator {
	return &Coordinator{
		workCh: make(chan struct{}),
		camera: make(chan struct{}, 1),
	}
}

// BeginProcessing claims the processing section. A concurrent claim fails
// fast with ErrAlreadyProcessing.
func (c *Coordinator) BeginProcessing() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.processing {
		return nil, ErrAlreadyProcessing
	}
	c.processing = true

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.processing = false
			c.mu.Unlock()
		})
	}, nil
}

func (c *Coordinator) IsProcessing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// SignalWork sets the work-available level. It stays set until ClearWork.
func (c *Coordinator) SignalWork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.work {
		c.work = true
		close(c.workCh)
	}
}

func (c *Coordinator) ClearWork() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.work {
		c.work = false
		c.workCh = make(chan struct{})
	}
}

func (c *Coordinator) WorkPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.work
}

// WaitForWork blocks until work is signalled, timeout elapses or ctx ends.
// It reports whether work is pending.
func (c *Coordinator) WaitForWork(ctx context.Context, timeout time.Duration) bool {
	c.mu.Lock()
	if c.work {
		c.mu.Unlock()
		return true
	}
	ch := c.workCh
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return c.WorkPending()
	case <-ctx.Done():
		return false
	}
}

// AcquireCamera takes the exclusive camera section, waiting at most
// timeout.
func (c *Coordinator) AcquireCamera(ctx context.Context, timeout time.Duration) (func(), error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.camera <- struct{}{}:
	case <-timer.C:
		return nil, ErrCameraBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { <-c.camera }) }, nil
}

// StartLiveView sets the live-view flag. It reports false if live view was
// already running.
func (c *Coordinator) StartLiveView() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveView {
		return false
	}
	c.liveView = true
	return true
}

func (c *Coordinator) StopLiveView() {
	c.mu.Lock()
	c.liveView = false
	c.mu.Unlock()
}

func (c *Coordinator) LiveViewRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveView
}
