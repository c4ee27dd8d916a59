package syncer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/ledger-sync/internal/directory"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/mapper"
	"github.com/dvloznov/ledger-sync/internal/state"
)

// ConfirmFunc approves removing links before a refresh is saved.
type ConfirmFunc func(ctx context.Context, v state.Vacancies) (bool, error)

// RefreshReport describes a directory refresh.
type RefreshReport struct {
	Sources        int
	Targets        map[domain.Backend]int
	RemovedSources []string
	RemovedTargets map[domain.Backend][]string
	Vacancies      state.Vacancies
	// Applied is false when confirm declined and nothing was saved.
	Applied bool
}

// RefreshDirectory reloads the source and every backend directory
// concurrently, merges them into the stored directory and clears links to
// accounts that disappeared. When links would be cleared, confirm (if not
// nil) decides whether the result is saved.
func (e *Engine) RefreshDirectory(ctx context.Context, confirm ConfirmFunc) (RefreshReport, error) {
	log := logger.FromContext(ctx)

	var (
		sources []domain.SourceAccount
		mu      sync.Mutex
		targets = make(map[domain.Backend][]domain.TargetAccount, len(e.backends))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		accounts, err := e.source.ListAccounts(gctx)
		if err != nil {
			return fmt.Errorf("RefreshDirectory: source accounts: %w", err)
		}
		sources = accounts
		return nil
	})
	for _, b := range e.backends {
		ledger := e.ledgers[b]
		g.Go(func() error {
			accounts, err := ledger.ListAccounts(gctx)
			if err != nil {
				return fmt.Errorf("RefreshDirectory: %s accounts: %w", b, err)
			}
			mu.Lock()
			targets[b] = accounts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RefreshReport{}, err
	}

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return RefreshReport{}, err
	}
	defer sess.Close()
	doc := sess.Doc
	now := e.now().UTC()

	report := RefreshReport{
		Targets:        make(map[domain.Backend]int, len(targets)),
		RemovedTargets: make(map[domain.Backend][]string),
	}
	doc.SourceAccounts, report.RemovedSources = directory.Refresh(sources, doc.SourceAccounts, now)
	report.Sources = len(doc.SourceAccounts)

	for _, b := range e.backends {
		var removed []string
		doc.TargetAccounts[b], removed = directory.Refresh(targets[b], doc.TargetAccounts[b], now)
		report.Targets[b] = len(doc.TargetAccounts[b])
		if len(removed) > 0 {
			report.RemovedTargets[b] = removed
		}
	}

	report.Vacancies = state.ReconcileRemovals(doc, report.RemovedSources, report.RemovedTargets)
	if !report.Vacancies.Empty() && confirm != nil {
		ok, err := confirm(ctx, report.Vacancies)
		if err != nil {
			return report, fmt.Errorf("RefreshDirectory: confirm: %w", err)
		}
		if !ok {
			log.Warn().Int("vacancies", report.Vacancies.Len()).Msg("Directory refresh declined; nothing saved")
			return report, nil
		}
	}

	if err := e.checkpoint(ctx, sess); err != nil {
		return report, fmt.Errorf("RefreshDirectory: %w", err)
	}
	report.Applied = true

	for _, v := range report.Vacancies.RemovedEntries {
		log.Warn().Str("source_account_id", v.SourceID).Str("source_name", v.SourceName).Msg("Source account removed; mapping entry deleted")
	}
	for _, v := range report.Vacancies.ClearedLinks {
		log.Warn().
			Str("source_account_id", v.SourceID).
			Str("backend", v.Backend.String()).
			Str("target_account_id", v.TargetID).
			Msg("Target account removed; link cleared")
	}
	log.Info().Int("sources", report.Sources).Int("vacancies", report.Vacancies.Len()).Msg("Directory refreshed")
	return report, nil
}

// Map runs m for every configured backend (or only the given ones), saving
// after each backend so an interrupted session keeps what was decided.
func (e *Engine) Map(ctx context.Context, m *mapper.Mapper, backends ...domain.Backend) (map[domain.Backend]mapper.Result, error) {
	if len(backends) == 0 {
		backends = e.backends
	}
	for _, b := range backends {
		if _, ok := e.ledgers[b]; !ok {
			return nil, &domain.ValidationError{Field: "backend", Reason: fmt.Sprintf("%s is not configured", b)}
		}
	}

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	results := make(map[domain.Backend]mapper.Result, len(backends))
	for _, b := range backends {
		res, runErr := m.Run(ctx, sess.Doc, b)
		results[b] = res
		if err := e.checkpoint(ctx, sess); err != nil {
			return results, fmt.Errorf("Map: %w", err)
		}
		if runErr != nil {
			return results, fmt.Errorf("Map: %s: %w", b, runErr)
		}
	}
	return results, nil
}
