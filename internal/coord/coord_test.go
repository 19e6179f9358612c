package coord

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginProcessingFailsFast(t *testing.T) {
	c := New()

	release, err := c.BeginProcessing()
	require.NoError(t, err)
	assert.True(t, c.IsProcessing())

	_, err = c.BeginProcessing()
	require.ErrorIs(t, err, ErrAlreadyProcessing)

	release()
	release()
	assert.False(t, c.IsProcessing())

	again, err := c.BeginProcessing()
	require.NoError(t, err)
	again()
}

func TestWorkSignalIsLevelTriggered(t *testing.T) {
	c := New()
	ctx := context.Background()

	assert.False(t, c.WaitForWork(ctx, 10*time.Millisecond))

	c.SignalWork()
	c.SignalWork()
	assert.True(t, c.WaitForWork(ctx, time.Second))
	assert.True(t, c.WaitForWork(ctx, time.Second), "signal must stay set until cleared")

	c.ClearWork()
	assert.False(t, c.WorkPending())
	assert.False(t, c.WaitForWork(ctx, 10*time.Millisecond))
}

func TestWaitForWorkWakesOnSignal(t *testing.T) {
	c := New()
	done := make(chan bool, 1)
	go func() { done <- c.WaitForWork(context.Background(), 5*time.Second) }()

	time.Sleep(10 * time.Millisecond)
	c.SignalWork()

	select {
	case got := <-done:
		assert.True(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by SignalWork")
	}
}

func TestWaitForWorkHonoursContext(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.WaitForWork(ctx, time.Minute))
}

func TestCameraLockIsExclusive(t *testing.T) {
	c := New()
	ctx := context.Background()

	release, err := c.AcquireCamera(ctx, time.Second)
	require.NoError(t, err)

	_, err = c.AcquireCamera(ctx, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrCameraBusy)

	// Camera and processing are independent domains.
	rp, err := c.BeginProcessing()
	require.NoError(t, err)
	rp()

	release()
	again, err := c.AcquireCamera(ctx, time.Second)
	require.NoError(t, err)
	again()
}

func TestLiveViewFlag(t *testing.T) {
	c := New()
	assert.True(t, c.StartLiveView())
	assert.False(t, c.StartLiveView())
	assert.True(t, c.LiveViewRunning())
	c.StopLiveView()
	assert.False(t, c.LiveViewRunning())
}
