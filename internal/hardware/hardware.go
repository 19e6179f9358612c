// Package hardware holds the capability interfaces of the gate's physical
// collaborators and the implementations selected at startup.
package hardware

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReaderClosed is returned by ReadToken once the reader has no more
	// tokens to deliver.
	ErrReaderClosed = errors.New("card reader closed")
	ErrNoFrame      = errors.New("camera returned no frame")
)

// CardReader blocks until a badge is presented and returns its token.
type CardReader interface {
	ReadToken(ctx context.Context) (string, error)
	Close() error
}

// Actuator drives the gate indicator lines.
type Actuator interface {
	Blink(ctx context.Context, d time.Duration) error
	Close() error
}

// Camera returns one JPEG frame per call.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Recognizer maps a frame to a plate string. "unknown" or "" means no
// plate was found.
type Recognizer interface {
	Recognize(ctx context.Context, jpeg []byte) (string, error)
}

// PlateUnknown is the recognizer's no-result answer.
const PlateUnknown = "unknown"
