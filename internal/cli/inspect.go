package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/state"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "inspect",
		Short:         "Show the stored directories and mapping",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(rootOpts, cmd)
		},
	}
}

func runInspect(opts *RootOptions, cmd *cobra.Command) error {
	a, ctx, err := open(cmd.Context(), cmd, opts, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.Engine.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load state", err)
	}

	return emit(cmd.OutOrStdout(), opts.Format, doc, func(w io.Writer) {
		printMapping(w, doc, a.Engine.Backends())
	})
}

func printMapping(w io.Writer, doc *state.Document, backends []domain.Backend) {
	fmt.Fprintf(w, "Source accounts: %d\n", len(doc.SourceAccounts))
	for _, b := range backends {
		fmt.Fprintf(w, "%s accounts: %d\n", b, len(doc.TargetAccounts[b]))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"SOURCE"}
	for _, b := range backends {
		header = append(header, strings.ToUpper(b.String()), "SYNCED")
	}
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for _, e := range doc.Mapping {
		row := []string{e.SourceName}
		for _, b := range backends {
			link := e.Link(b)
			if link == nil {
				row = append(row, "-", "-")
				continue
			}
			name := link.AccountName
			if t, ok := doc.Target(b, link.AccountID); ok && t.Tracking() {
				name += " (tracking)"
			}
			synced := "never"
			if link.SyncedAt != nil {
				synced = link.SyncedAt.Format(time.RFC3339)
			}
			row = append(row, name, synced)
		}
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}
