package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-sync/internal/app"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sync runs from the audit trail",
		Long: `Lists the latest sync runs recorded in BigQuery. Requires
BIGQUERY_PROJECT; without it no runs are recorded.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of runs to show")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	a, ctx, err := open(cmd.Context(), cmd, opts.RootOptions, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.Engine.History(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read history", err)
	}

	return emit(cmd.OutOrStdout(), opts.Format, runs, func(w io.Writer) {
		if len(runs) == 0 {
			fmt.Fprintln(w, "No sync runs recorded.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "STARTED\tTRIGGER\tSTATUS\tACCOUNTS\tFAILED\tCHANGED\tADJUSTMENTS")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
				r.StartedAt.Format(time.RFC3339), r.Trigger, r.Status, r.AccountsTotal, r.AccountsFailed, r.Changed, r.Adjustments)
		}
		tw.Flush()
	})
}
