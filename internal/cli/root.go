// Package cli is the operator command line: mapping, directory refresh,
// on-demand sync and inspection of state and history.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/config"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ledger-sync",
		Short: "Sync Akahu bank accounts into YNAB and Actual Budget",
		Long: `Keeps budgeting ledgers in step with bank accounts aggregated by Akahu.

Map source accounts to backend accounts once, then run sync on demand or
let the server and worker binaries run it on a schedule.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("LEDGER_SYNC_CONFIG"), "YAML config file (or set LEDGER_SYNC_CONFIG)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewMapCommand(opts))
	cmd.AddCommand(NewRefreshCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// open loads and validates configuration and builds the app. Logs go to the
// command's stderr so stdout stays parseable.
func open(ctx context.Context, cmd *cobra.Command, opts *RootOptions, appOpts app.Options) (*app.App, context.Context, error) {
	logOpts := logger.OptionsFromEnv()
	logOpts.Out = cmd.ErrOrStderr()
	if opts.Verbose {
		logOpts.Level = zerolog.LevelDebugValue
	}
	log := logger.NewWithOptions(logOpts)
	ctx = logger.WithContext(ctx, log)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, ctx, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if err := cfg.Validate(false); err != nil {
		return nil, ctx, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	a, err := app.Build(ctx, cfg, log, appOpts)
	if err != nil {
		return nil, ctx, WrapExitError(ExitCommandError, "failed to build sync engine", err)
	}
	return a, ctx, nil
}
