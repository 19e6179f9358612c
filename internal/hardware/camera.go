package hardware

import (
	"context"
	"fmt"
	"os"
)

// StaticCamera returns the same frame on every capture.
type StaticCamera struct {
	Frame []byte
}

func (c StaticCamera) Capture(context.Context) ([]byte, error) {
	if len(c.Frame) == 0 {
		return nil, ErrNoFrame
	}
	out := make([]byte, len(c.Frame))
	copy(out, c.Frame)
	return out, nil
}

// SnapshotCamera reads the latest frame a capture daemon keeps at Path.
type SnapshotCamera struct {
	Path string
}

func (c SnapshotCamera) Capture(context.Context) ([]byte, error) {
	b, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", c.Path, err)
	}
	if len(b) == 0 {
		return nil, ErrNoFrame
	}
	return b, nil
}
