package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/BrandonDHaskell/parkedge/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format string // "text" | "json" | "yaml"
	Stdout io.Writer
	Stderr io.Writer
}

var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the parkedge command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Stdout: os.Stdout, Stderr: os.Stderr}

	cmd := &cobra.Command{
		Use:   "parkedge",
		Short: "Edge parking gate with an offline-durable access ledger",
		Long: "parkedge decides gate entries and exits from badge reads and plate recognition,\n" +
			"records every decision in a local SQLite ledger and forwards the records to a\n" +
			"remote authority when it is reachable.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	pf.String(config.KeyConfigFile, "", "config file (yaml, json or toml)")
	pf.String("env-file", "", "dotenv file to load (default .env)")
	pf.String("db-path", "", "ledger database path")
	pf.Duration("lock-timeout", 0, "bounded wait for the ledger lock")
	pf.String("images-dir", "", "evidence image directory")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (text|json)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDashboardCommand(opts))
	cmd.AddCommand(NewLedgerCommand(opts))

	return cmd
}

// loadConfig merges the persistent and local flags of cmd into the config.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	fs := pflag.NewFlagSet(cmd.Name(), pflag.ContinueOnError)
	addChanged := func(f *pflag.Flag) {
		if f.Changed && fs.Lookup(f.Name) == nil {
			fs.AddFlag(f)
		}
	}
	cmd.Flags().VisitAll(addChanged)
	cmd.InheritedFlags().VisitAll(addChanged)
	return config.Load(fs)
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	return cfg.Logger(w).With("app", "parkedge")
}
