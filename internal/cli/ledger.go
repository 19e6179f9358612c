package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/parkedge/internal/clock"
	"github.com/BrandonDHaskell/parkedge/internal/db"
	"github.com/BrandonDHaskell/parkedge/internal/parking/service"
	"github.com/BrandonDHaskell/parkedge/internal/parking/store"
)

// NewLedgerCommand groups the operator tools that read or repair the
// ledger directly.
func NewLedgerCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and repair the access ledger",
	}
	cmd.AddCommand(newLedgerInsideCommand(opts))
	cmd.AddCommand(newLedgerHistoryCommand(opts))
	cmd.AddCommand(newLedgerPendingCommand(opts))
	cmd.AddCommand(newLedgerForceExitCommand(opts))
	cmd.AddCommand(newLedgerSeedCommand(opts))
	return cmd
}

func newLedgerInsideCommand(opts *RootOptions) *cobra.Command {
	var search string
	cmd := &cobra.Command{
		Use:   "inside",
		Short: "List vehicles currently inside",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			l, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			recs, err := store.ListInside(cmd.Context(), l, search)
			if err != nil {
				return err
			}
			return newPrinter(opts, clock.Real{}.Now()).records(recs)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "plate or token substring")
	return cmd
}

func newLedgerHistoryCommand(opts *RootOptions) *cobra.Command {
	var q store.HistoryQuery
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Page through the access history, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			l, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			page, err := store.ListHistory(cmd.Context(), l, q.Normalize())
			if err != nil {
				return err
			}
			return newPrinter(opts, clock.Real{}.Now()).history(page)
		},
	}
	cmd.Flags().StringVar(&q.Search, "search", "", "plate or token substring")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&q.PerPage, "per-page", store.DefaultPerPage, "records per page")
	return cmd
}

func newLedgerPendingCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List records not yet accepted by the remote authority, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			l, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			recs, err := store.NextUnsyncedBatch(cmd.Context(), l, limit)
			if err != nil {
				return err
			}
			return newPrinter(opts, clock.Real{}.Now()).records(recs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to list")
	return cmd
}

func newLedgerForceExitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "force-exit <record-id>",
		Short: "Complete an INSIDE record without a plate check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			l, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			gate := service.NewGateService(service.GateDependencies{
				Ledger: l,
				Logger: newLogger(cfg, opts.Stderr),
			})
			ok, err := gate.ForceExit(cmd.Context(), id)
			if err != nil {
				return err
			}
			p := newPrinter(opts, clock.Real{}.Now())
			if !ok {
				return p.message(false, "record %d is not inside", id)
			}
			return p.message(true, "record %d completed and queued for sync", id)
		},
	}
}

func newLedgerSeedCommand(opts *RootOptions) *cobra.Command {
	var seed db.SeedDevOptions
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Fill an empty development ledger with sample records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Env == "prod" {
				return fmt.Errorf("refusing to seed a prod ledger")
			}
			l, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer l.Close()

			n, err := db.SeedDev(cmd.Context(), l.DB(), seed)
			if err != nil {
				return err
			}
			p := newPrinter(opts, clock.Real{}.Now())
			if n == 0 {
				return p.message(false, "ledger is not empty, nothing seeded")
			}
			return p.message(true, "seeded %d records", n)
		},
	}
	cmd.Flags().StringSliceVar(&seed.Plates, "plates", nil, "plates to generate history for")
	cmd.Flags().IntVar(&seed.Inside, "inside", 2, "leave the first N plates parked")
	return cmd
}
