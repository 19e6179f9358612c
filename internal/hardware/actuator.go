package hardware

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// LogActuator only logs. Used when no GPIO line is configured.
type LogActuator struct {
	logger *slog.Logger
}

func NewLogActuator(logger *slog.Logger) *LogActuator {
	return &LogActuator{logger: logger}
}

func (a *LogActuator) Blink(_ context.Context, d time.Duration) error {
	a.logger.Info("actuator.blink", "duration", d.String())
	return nil
}

func (a *LogActuator) Close() error { return nil }

// GPIOActuator drives a sysfs-style value file: "1" for the blink duration,
// then "0".
type GPIOActuator struct {
	path string
}

func NewGPIOActuator(valuePath string) (*GPIOActuator, error) {
	a := &GPIOActuator{path: valuePath}
	if err := a.write("0"); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *GPIOActuator) Blink(ctx context.Context, d time.Duration) error {
	if err := a.write("1"); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return a.write("0")
}

func (a *GPIOActuator) Close() error {
	return a.write("0")
}

func (a *GPIOActuator) write(v string) error {
	if err := os.WriteFile(a.path, []byte(v), 0o644); err != nil {
		return fmt.Errorf("gpio write %s: %w", a.path, err)
	}
	return nil
}
