package probe

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

// Service names reported through the gRPC health protocol. The empty name
// is the overall status.
const (
	ServiceLedger = "parkedge.ledger"
	ServiceSync   = "parkedge.sync"
)

type Dependencies struct {
	Ledger   store.Ledger
	Logger   *slog.Logger
	Interval time.Duration // ledger check period, default 30s
}

// Server answers grpc.health.v1 checks for the ledger and the sync path.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	ledger   store.Ledger
	logger   *slog.Logger
	interval time.Duration

	mu        sync.Mutex
	ledgerOK  bool
	syncOK    bool
	lastCheck time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func New(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.Interval <= 0 {
		d.Interval = 30 * time.Second
	}
	hs := health.NewServer()
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	s := &Server{
		grpc:     gs,
		health:   hs,
		ledger:   d.Ledger,
		logger:   d.Logger,
		interval: d.Interval,
		ledgerOK: true,
		syncOK:   true,
	}
	s.publish()
	return s
}

// Check probes the ledger once and updates the reported status.
func (s *Server) Check(ctx context.Context) bool {
	_, err := store.HasUnsynced(ctx, s.ledger)
	ok := err == nil
	if !ok {
		s.logger.Warn("probe.ledger.unhealthy", "err", err)
	}
	s.mu.Lock()
	s.ledgerOK = ok
	s.lastCheck = time.Now().UTC()
	s.mu.Unlock()
	s.publish()
	return ok
}

// SyncRecorded tracks whether the remote authority is currently reachable.
func (s *Server) SyncRecorded(e service.SyncEvent) {
	var ok bool
	switch e.Result {
	case service.StepRetryLater:
		ok = false
	case service.StepSynced, service.StepRejected, service.StepImageMissing:
		ok = true
	default:
		return
	}
	s.mu.Lock()
	changed := s.syncOK != ok
	s.syncOK = ok
	s.mu.Unlock()
	if changed {
		s.logger.Info("probe.sync.status", "reachable", ok)
		s.publish()
	}
}

func (s *Server) publish() {
	s.mu.Lock()
	ledgerOK, syncOK := s.ledgerOK, s.syncOK
	s.mu.Unlock()

	s.health.SetServingStatus(ServiceLedger, status(ledgerOK))
	s.health.SetServingStatus(ServiceSync, status(syncOK))
	// An unreachable upstream is normal offline operation; only the ledger
	// decides overall health.
	s.health.SetServingStatus("", status(ledgerOK))
}

func status(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// Health exposes the underlying health service, mainly for tests.
func (s *Server) Health() healthpb.HealthServer { return s.health }

// Start runs the periodic ledger check until ctx is cancelled or Stop is
// called.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

func (s *Server) loop(ctx context.Context) {
	defer close(s.done)
	s.Check(ctx)

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Check(ctx)
		}
	}
}

// Serve blocks serving gRPC on lis.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("probe.listening", "addr", lis.Addr().String())
	return s.grpc.Serve(lis)
}

// Stop ends the check loop and gracefully stops the gRPC server.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
