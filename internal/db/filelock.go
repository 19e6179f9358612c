package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLockTimeout is returned when the ledger lock could not be obtained
// before the deadline.
var ErrLockTimeout = errors.New("ledger lock timeout")

const lockPollInterval = 50 * time.Millisecond

// FileLock serializes ledger access across processes sharing one database
// file. fcntl locks are owned by the process and dropped when any descriptor
// of the file closes, so every FileLock for the same path in this process
// shares one semaphore.
type FileLock struct {
	path string
	sem  chan struct{}
}

var (
	semMu sync.Mutex
	sems  = make(map[string]chan struct{})
)

func NewFileLock(path string) *FileLock {
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}

	semMu.Lock()
	defer semMu.Unlock()
	sem, ok := sems[key]
	if !ok {
		sem = make(chan struct{}, 1)
		sems[key] = sem
	}
	return &FileLock{path: path, sem: sem}
}

func (l *FileLock) Path() string { return l.path }

// Acquire blocks until the lock is held, ctx is cancelled or timeout
// elapses. The returned release func must be called exactly once.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case l.sem <- struct{}{}:
	case <-deadline.C:
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		<-l.sem
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		ok, err := tryLockFile(f)
		if err != nil {
			_ = f.Close()
			<-l.sem
			return nil, fmt.Errorf("lock %s: %w", l.path, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			_ = f.Close()
			<-l.sem
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
		case <-ctx.Done():
			_ = f.Close()
			<-l.sem
			return nil, ctx.Err()
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		_ = unlockFile(f)
		_ = f.Close()
		<-l.sem
	}, nil
}
