package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/syncer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	DryRun bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a full sync now",
		Long: `Imports new transactions into every linked on-budget account and
reconciles the balance of every linked tracking account.

With --dry-run nothing is written to a backend and the state file is left
as it is; the summary shows what would have changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "keep backend writes in memory and do not save state")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	a, ctx, err := open(cmd.Context(), cmd, opts.RootOptions, app.Options{DryRun: opts.DryRun})
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Engine.FullSync(ctx, syncer.TriggerCLI)
	if err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	if err := emit(cmd.OutOrStdout(), opts.Format, summary, func(w io.Writer) {
		prefix := ""
		if summary.DryRun {
			prefix = "[dry run] "
		}
		fmt.Fprintf(w, "%sSynced %d accounts in %s: %d changed, %d failed transactions, %d balance adjustments\n",
			prefix, summary.Accounts, summary.Duration.Round(time.Millisecond), summary.Changed, summary.Failed, summary.Adjustments)
		if summary.AccountsFailed > 0 {
			fmt.Fprintf(w, "%d accounts failed; see the log for details\n", summary.AccountsFailed)
		}
	}); err != nil {
		return err
	}

	if summary.AccountsFailed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d accounts failed", summary.AccountsFailed))
	}
	return nil
}
