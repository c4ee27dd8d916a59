package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/ledger-sync/internal/audit"
	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/importer"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/state"
)

// Account sync modes.
const (
	ModeImport  = "import"
	ModeBalance = "balance"
)

// RunSummary describes one full sync.
type RunSummary struct {
	RunID          string
	Trigger        string
	StartedAt      time.Time
	Duration       time.Duration
	Accounts       int
	AccountsFailed int
	Skipped        int
	Changed        int
	Failed         int
	Adjustments    int
	DryRun         bool
	// Shared is true when the caller joined a run that was already in flight.
	Shared bool
}

// FullSync brings every linked backend account up to date: tracking accounts
// get a balance adjustment and the rest import transactions since their
// checkpoint. A failure in one account is logged and counted and the run
// carries on. Calls that arrive while a run is in flight share its result.
func (e *Engine) FullSync(ctx context.Context, trigger string) (RunSummary, error) {
	v, err, shared := e.group.Do("full-sync", func() (interface{}, error) {
		return e.fullSync(ctx, trigger)
	})
	summary, _ := v.(RunSummary)
	summary.Shared = shared
	return summary, err
}

func (e *Engine) fullSync(ctx context.Context, trigger string) (RunSummary, error) {
	summary := RunSummary{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		StartedAt: e.now().UTC(),
		DryRun:    e.dryRun,
	}
	log := logger.FromContext(ctx).With().Str("run_id", summary.RunID).Str("trigger", trigger).Logger()
	ctx = logger.WithContext(ctx, log)
	log.Info().Bool("dry_run", e.dryRun).Msg("Full sync started")

	sess, err := e.store.Begin(ctx)
	if err != nil {
		e.finishRun(ctx, &summary, err)
		return summary, err
	}
	defer sess.Close()
	doc := sess.Doc

	for _, entry := range append([]*domain.MappingEntry(nil), doc.Mapping...) {
		if err := ctx.Err(); err != nil {
			e.finishRun(ctx, &summary, err)
			return summary, err
		}
		if !entry.HasLinks() {
			log.Warn().Str("source_account_id", entry.SourceID).Str("source_name", entry.SourceName).Msg("Mapping entry has no backend links, skipping")
			summary.Skipped++
			continue
		}

		failed := false
		for _, b := range e.backends {
			link := entry.Link(b)
			if link == nil || link.AccountID == "" {
				continue
			}
			if !e.syncLink(ctx, doc, entry, b, link, &summary) {
				failed = true
			}
		}

		summary.Accounts++
		if failed {
			summary.AccountsFailed++
		}
		if err := e.checkpoint(ctx, sess); err != nil {
			e.finishRun(ctx, &summary, err)
			return summary, err
		}
	}

	e.finishRun(ctx, &summary, nil)
	return summary, nil
}

// syncLink handles one (source account, backend) pair and reports success.
func (e *Engine) syncLink(ctx context.Context, doc *state.Document, entry *domain.MappingEntry, b domain.Backend, link *domain.BackendLink, summary *RunSummary) bool {
	actx, log := logger.ForAccount(ctx, entry.SourceID, b.String())
	ledger := e.ledgers[b]
	start := e.now()

	row := audit.AccountSync{
		RunID:           summary.RunID,
		SourceAccountID: entry.SourceID,
		Backend:         b.String(),
		TargetAccountID: link.AccountID,
		Mode:            ModeImport,
	}

	target, ok := doc.Target(b, link.AccountID)
	var err error
	switch {
	case !ok:
		err = &domain.ValidationError{Field: "link", Reason: "target account " + link.AccountID + " is not in the directory"}
	case target.Closed:
		err = &domain.ValidationError{Field: "link", Reason: "target account " + link.AccountID + " is closed"}
	case target.Tracking():
		row.Mode = ModeBalance
		err = e.syncBalance(actx, entry.SourceID, ledger, link, summary)
	default:
		var stats importer.Stats
		stats, err = e.importer.Sync(actx, entry.SourceID, ledger, link)
		row.Fetched, row.Changed, row.Failed = stats.Fetched, stats.Changed, stats.Failed
		summary.Changed += stats.Changed
		summary.Failed += stats.Failed
		e.metrics.RecordTransactions(b.String(), stats.Reconciled, stats.Changed, stats.Failed)
	}

	row.Duration = e.now().Sub(start)
	row.RecordedAt = e.now().UTC()
	row.Outcome = "success"
	if err != nil {
		row.Outcome = domain.ClassifyError(err)
		row.ErrorMessage = audit.TruncateError(err)
		log.Error().Err(err).Str("mode", row.Mode).Msg("Account sync failed")
	}
	e.metrics.RecordAccountSync(b.String(), row.Outcome, row.Duration)
	if aerr := e.audit.RecordAccountSync(actx, row); aerr != nil {
		log.Warn().Err(aerr).Msg("Failed to record account sync")
	}
	return err == nil
}

func (e *Engine) syncBalance(ctx context.Context, sourceID string, ledger budget.Ledger, link *domain.BackendLink, summary *RunSummary) error {
	res, err := e.balance.Reconcile(ctx, sourceID, ledger, link)
	if err != nil {
		return err
	}
	if res.Adjusted() {
		summary.Adjustments++
		e.metrics.RecordBalanceAdjustment(ledger.Backend().String())
	}
	synced := e.now().UTC()
	link.SyncedAt = &synced
	return nil
}

func (e *Engine) finishRun(ctx context.Context, summary *RunSummary, runErr error) {
	log := logger.FromContext(ctx)
	summary.Duration = e.now().Sub(summary.StartedAt)

	status := audit.StatusSuccess
	switch {
	case runErr != nil:
		status = audit.StatusFailed
	case summary.AccountsFailed > 0:
		status = audit.StatusPartial
	}

	run := audit.Run{
		RunID:          summary.RunID,
		Trigger:        summary.Trigger,
		StartedAt:      summary.StartedAt,
		FinishedAt:     e.now().UTC(),
		Status:         status,
		AccountsTotal:  summary.Accounts,
		AccountsFailed: summary.AccountsFailed,
		Changed:        summary.Changed,
		Failed:         summary.Failed,
		Adjustments:    summary.Adjustments,
		ErrorMessage:   audit.TruncateError(runErr),
	}
	if err := e.audit.RecordRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record sync run")
	}
	e.metrics.RecordSyncRun(summary.Trigger, summary.AccountsFailed, summary.Duration)

	ev := log.Info()
	if runErr != nil {
		ev = log.Error().Err(runErr)
	}
	ev.Str("status", status).
		Int("accounts", summary.Accounts).
		Int("accounts_failed", summary.AccountsFailed).
		Int("changed", summary.Changed).
		Int("adjustments", summary.Adjustments).
		Dur("duration", summary.Duration).
		Msg("Full sync finished")
}

// ReconcileTransactions imports transactions delivered outside a full sync,
// grouped by source account, into every linked on-budget backend account.
// Checkpoints are left alone. Transactions of unmapped accounts are logged
// and dropped.
func (e *Engine) ReconcileTransactions(ctx context.Context, txns []domain.Transaction) error {
	log := logger.FromContext(ctx)

	var order []string
	groups := make(map[string][]domain.Transaction)
	for _, tx := range txns {
		if _, ok := groups[tx.AccountID]; !ok {
			order = append(order, tx.AccountID)
		}
		groups[tx.AccountID] = append(groups[tx.AccountID], tx)
	}

	sess, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()
	doc := sess.Doc

	for _, sourceID := range order {
		entry := doc.Entry(sourceID)
		if entry == nil || !entry.HasLinks() {
			log.Warn().Str("source_account_id", sourceID).Int("transactions", len(groups[sourceID])).Msg("No mapping for source account, ignoring transactions")
			continue
		}

		for _, b := range e.backends {
			link := entry.Link(b)
			if link == nil || link.AccountID == "" {
				continue
			}
			actx, alog := logger.ForAccount(ctx, sourceID, b.String())
			target, ok := doc.Target(b, link.AccountID)
			if !ok || target.Closed {
				alog.Warn().Str("target_account_id", link.AccountID).Msg("Linked account unavailable, skipping")
				continue
			}
			if target.Tracking() {
				alog.Debug().Msg("Tracking account, left to the balance reconciler")
				continue
			}

			stats := e.importer.Reconcile(actx, groups[sourceID], e.ledgers[b], link.AccountID)
			e.metrics.RecordTransactions(b.String(), stats.Reconciled, stats.Changed, stats.Failed)
			alog.Info().
				Int("changed", stats.Changed).
				Int("failed", stats.Failed).
				Msg("Reconciled delivered transactions")
		}
	}
	return nil
}
