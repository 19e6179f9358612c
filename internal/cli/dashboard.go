package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/evidence"
	"github.com/BrandonDHaskell/parkedge/internal/httpapi"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
)

// NewDashboardCommand serves the operator dashboard as a separate process
// sharing the ledger file with the gate. Force exits made here are picked
// up by the gate's sync worker on its next wait timeout.
func NewDashboardCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the operator dashboard against an existing ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

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

			srv := httpapi.NewServer(httpapi.Dependencies{
				Logger: logger,
				Addr:   cfg.HTTPAddr,
				Ledger: ledger,
				Gate: service.NewGateService(service.GateDependencies{
					Ledger: ledger,
					Clock:  clk,
					Logger: logger,
				}),
				Evidence:    images,
				Clock:       clk,
				BaseContext: ctx,
			})

			errCh := make(chan error, 1)
			go func() {
				logger.Info("dashboard.listening", "addr", cfg.HTTPAddr)
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- fmt.Errorf("dashboard: %w", err)
				}
			}()

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
			return runErr
		},
	}
	cmd.Flags().String("http-addr", "", "dashboard listen address")
	return cmd
}
