package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/mapper"
	"github.com/dvloznov/ledger-sync/internal/state"
	"github.com/dvloznov/ledger-sync/internal/syncer"
)

// RefreshOptions holds flags for the refresh command.
type RefreshOptions struct {
	*RootOptions
	Yes bool
}

// NewRefreshCommand creates the refresh command.
func NewRefreshCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RefreshOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Reload account directories from Akahu and every backend",
		Long: `Reloads the source and backend account lists. Accounts that disappeared
are removed from the mapping; you are asked to confirm before any link
is cleared.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefresh(opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "clear vacated links without asking")

	return cmd
}

func runRefresh(opts *RefreshOptions, cmd *cobra.Command) error {
	a, ctx, err := open(cmd.Context(), cmd, opts.RootOptions, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	var confirm syncer.ConfirmFunc
	if !opts.Yes {
		prompter := mapper.NewTerminalPrompter(cmd.InOrStdin(), out)
		confirm = func(ctx context.Context, v state.Vacancies) (bool, error) {
			printVacancies(out, v)
			return prompter.Confirm(ctx, "Apply these changes?")
		}
	}

	report, err := a.Engine.RefreshDirectory(ctx, confirm)
	if err != nil {
		return WrapExitError(ExitFailure, "directory refresh failed", err)
	}
	if !report.Applied {
		return NewExitError(ExitCommandError, "refresh declined; nothing was saved")
	}

	return emit(out, opts.Format, report, func(w io.Writer) {
		fmt.Fprintf(w, "Source accounts: %d\n", report.Sources)
		for _, b := range a.Engine.Backends() {
			fmt.Fprintf(w, "%s accounts: %d\n", b, report.Targets[b])
		}
		if report.Vacancies.Empty() {
			fmt.Fprintln(w, "No mappings affected.")
		} else if opts.Yes {
			printVacancies(w, report.Vacancies)
		}
	})
}

func printVacancies(w io.Writer, v state.Vacancies) {
	for _, e := range v.RemovedEntries {
		fmt.Fprintf(w, "Source account %s (%s) is gone; its mapping will be removed.\n", e.SourceName, e.SourceID)
	}
	for _, l := range v.ClearedLinks {
		fmt.Fprintf(w, "%s account %s (%s) is gone; the link from %s will be cleared.\n", l.Backend, l.TargetName, l.TargetID, l.SourceName)
	}
}
