package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/config"
	"github.com/BrandonDHaskell/parkedge/internal/coord"
	"github.com/BrandonDHaskell/parkedge/internal/evidence"
	"github.com/BrandonDHaskell/parkedge/internal/httpapi"
	"github.com/BrandonDHaskell/parkedge/internal/metrics"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/probe"
	"github.com/BrandonDHaskell/parkedge/internal/transport"
)

// NewRunCommand starts the gate, the sync worker, the dashboard and the
// health probe in one process.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gate, sync worker and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.ValidateGate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runGate(ctx, cfg, opts)
		},
	}

	f := cmd.Flags()
	f.String("uid", "", "device uid reported upstream")
	f.String("api-endpoint", "", "remote submit endpoint")
	f.String("http-addr", "", "dashboard listen address")
	f.String("probe-addr", "", "gRPC health listen address (empty disables)")
	f.String("reader", "", "card reader (stdin|spool)")
	f.String("spool-dir", "", "token drop directory for reader=spool")
	f.String("camera", "", "camera (snapshot|none)")
	f.String("snapshot-path", "", "frame file kept current by the capture daemon")
	f.String("recognizer", "", "plate recognizer (static|http)")
	f.String("recognizer-url", "", "OCR service URL for recognizer=http")
	f.String("static-plate", "", "plate answered by recognizer=static")

	return cmd
}

func runGate(ctx context.Context, cfg config.Config, opts *RootOptions) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	logger := newLogger(cfg, opts.Stderr)
	clk := clock.Real{}

	ledger, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer ledger.Close()

	images, err := evidence.New(cfg.ImagesDir, clk)
	if err != nil {
		return err
	}

	devs, err := openDevices(cfg, logger)
	if err != nil {
		return err
	}
	defer devs.Close()

	c := coord.New()
	rec := metrics.New()
	hub := httpapi.NewHub(clk, logger)
	health := probe.New(probe.Dependencies{Ledger: ledger, Logger: logger})

	engine := service.NewGateService(service.GateDependencies{
		Ledger:    ledger,
		Coord:     c,
		Evidence:  images,
		Clock:     clk,
		Logger:    logger,
		Listeners: []service.OutcomeListener{rec, hub},
	})

	client := transport.New(transport.Config{
		Endpoint:       cfg.APIEndpoint,
		ConnectTimeout: cfg.ConnectTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		RetryDelay:     cfg.RetryDelay,
		Encoding:       transport.Encoding(cfg.Encoding),
	}, clk, logger)

	syncer := service.NewSyncWorker(service.SyncDependencies{
		Ledger:    ledger,
		Coord:     c,
		Submitter: client,
		Images:    images,
		Clock:     clk,
		Logger:    logger,
		Listeners: []service.SyncListener{rec, hub, health},
	}, service.SyncConfig{
		UID:             cfg.UID,
		WaitTimeout:     cfg.SyncWait,
		InFlightBackoff: cfg.SyncBackoff,
		ErrorPause:      cfg.SyncErrorPause,
	})

	if _, err := syncer.RecoverPending(ctx); err != nil {
		logger.Warn("sync.recovery.failed", "err", err)
	}
	if err := client.Ping(ctx); err != nil {
		logger.Warn("transport.ping.failed", "endpoint", cfg.APIEndpoint, "err", err)
	}

	go hub.Run(ctx)
	syncer.Start(ctx)
	health.Start(ctx)

	pruner := service.NewEvidencePruner(ledger, images, service.PrunerConfig{
		RetentionDays: cfg.EvidenceRetentionDays,
		IntervalHours: cfg.PruneIntervalHours,
	}, clk, logger)
	pruner.Start(ctx)

	live := service.NewLiveView(c, devs.camera, cfg.LiveViewPath, 0, logger)

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		Ledger:      ledger,
		Gate:        engine,
		Evidence:    images,
		Clock:       clk,
		LiveView:    live,
		Hub:         hub,
		Metrics:     rec.Handler(),
		BaseContext: ctx,
	})

	errCh := make(chan error, 3)
	go func() {
		logger.Info("dashboard.listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("dashboard: %w", err)
		}
	}()

	if cfg.ProbeAddr != "" {
		lis, err := net.Listen("tcp", cfg.ProbeAddr)
		if err != nil {
			return fmt.Errorf("probe listen: %w", err)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				errCh <- fmt.Errorf("probe: %w", err)
			}
		}()
	}

	gate := service.NewGate(service.GateRunnerDependencies{
		Engine:     engine,
		Coord:      c,
		Reader:     devs.reader,
		Camera:     devs.camera,
		Recognizer: devs.recognizer,
		Actuator:   devs.actuator,
		Clock:      clk,
		Logger:     logger,
	}, service.GateConfig{
		CameraTimeout: cfg.CameraTimeout,
		BlinkDuration: cfg.BlinkDuration,
		Pause:         cfg.GatePause,
	})
	gateDone := make(chan error, 1)
	go func() { gateDone <- gate.Run(ctx) }()

	var runErr error
	gateExited := false
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	case runErr = <-gateDone:
		gateExited = true
	}

	logger.Info("shutdown.begin")
	cancelRun()
	if !gateExited {
		<-gateDone
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := syncer.Stop(5 * time.Second); err != nil {
		logger.Warn("sync.stop", "err", err)
	}
	pruner.Stop()
	health.Stop()
	logger.Info("shutdown.done")
	return runErr
}
