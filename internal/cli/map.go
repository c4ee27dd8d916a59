package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dvloznov/ledger-sync/internal/app"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/mapper"
)

// MapOptions holds flags for the map command.
type MapOptions struct {
	*RootOptions
	Backends []string
	Yes      bool
}

// NewMapCommand creates the map command.
func NewMapCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MapOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "map",
		Short: "Link source accounts to backend accounts",
		Long: `Offers every unmapped source account with the backend's open accounts
and a suggested match. Progress is saved after each backend, so an
interrupted session resumes where it stopped.

Examples:
  ledger-sync map
  ledger-sync map --backend actual
  ledger-sync map --yes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMap(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Backends, "backend", nil, "only map these backends (ynab, actual)")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "accept every suggestion without prompting")

	return cmd
}

func runMap(opts *MapOptions, cmd *cobra.Command) error {
	var backends []domain.Backend
	for _, name := range opts.Backends {
		b, err := domain.ParseBackend(name)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --backend", err)
		}
		backends = append(backends, b)
	}

	a, ctx, err := open(cmd.Context(), cmd, opts.RootOptions, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	suggester, err := a.Suggester(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up suggestions", err)
	}

	var prompter mapper.Prompter = mapper.AutoConfirm{}
	if !opts.Yes {
		prompter = mapper.NewTerminalPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	results, err := a.Engine.Map(ctx, mapper.New(suggester, prompter), backends...)
	if err != nil {
		return WrapExitError(ExitFailure, "mapping stopped", err)
	}

	return emit(cmd.OutOrStdout(), opts.Format, results, func(w io.Writer) {
		for _, b := range a.Engine.Backends() {
			r, ok := results[b]
			if !ok {
				continue
			}
			fmt.Fprintf(w, "%s: %d mapped, %d skipped, %d left unmapped, %d already mapped\n",
				b, r.Mapped, r.Skipped, r.Unmapped, r.AlreadyMapped)
		}
	})
}
