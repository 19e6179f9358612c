package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BrandonDHaskell/parkedge/internal/config"
	"github.com/BrandonDHaskell/parkedge/internal/db"
	"github.com/BrandonDHaskell/parkedge/internal/hardware"
	sqlitestore "github.com/BrandonDHaskell/parkedge/internal/parking/store/sqlite"
)

func openLedger(ctx context.Context, cfg config.Config) (*sqlitestore.Ledger, error) {
	return sqlitestore.Open(ctx,
		db.Config{Path: cfg.DBPath, Env: cfg.Env},
		sqlitestore.Options{LockTimeout: cfg.LockTimeout},
	)
}

// devices bundles the gate hardware selected by configuration.
type devices struct {
	reader     hardware.CardReader
	actuator   hardware.Actuator
	camera     hardware.Camera
	recognizer hardware.Recognizer
}

func (d devices) Close() {
	if d.reader != nil {
		_ = d.reader.Close()
	}
	if d.actuator != nil {
		_ = d.actuator.Close()
	}
}

func openDevices(cfg config.Config, logger *slog.Logger) (devices, error) {
	var d devices

	switch cfg.Reader {
	case "spool":
		r, err := hardware.NewSpoolReader(cfg.SpoolDir, logger)
		if err != nil {
			return d, err
		}
		d.reader = r
	default:
		d.reader = hardware.NewLineReader(os.Stdin)
	}

	switch cfg.Actuator {
	case "gpio":
		a, err := hardware.NewGPIOActuator(cfg.GPIOPath)
		if err != nil {
			d.Close()
			return d, err
		}
		d.actuator = a
	default:
		d.actuator = hardware.NewLogActuator(logger)
	}

	switch cfg.Camera {
	case "snapshot":
		d.camera = hardware.SnapshotCamera{Path: cfg.SnapshotPath}
	case "none":
		d.camera = hardware.StaticCamera{}
	default:
		d.Close()
		return d, fmt.Errorf("unknown camera %q", cfg.Camera)
	}

	switch cfg.Recognizer {
	case "http":
		d.recognizer = hardware.NewHTTPRecognizer(cfg.RecognizerURL, cfg.CameraTimeout*2)
	default:
		d.recognizer = hardware.StaticRecognizer{Plate: cfg.StaticPlate}
	}

	return d, nil
}
