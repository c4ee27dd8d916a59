// Package importer moves source transactions into a backend ledger. It is the
// single reconciliation path shared by scheduled syncs and webhooks.
package importer

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/ledger-sync/internal/akahu"
	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

const (
	// DefaultLookback is subtracted from the checkpoint so late-posting
	// transactions are picked up again.
	DefaultLookback = 7 * 24 * time.Hour
	// DefaultMaxPages stops a cursor loop that never ends.
	DefaultMaxPages = 1000
)

// DefaultSyncStart is used for links that have never been synced.
var DefaultSyncStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Source pages through one account's transactions.
type Source interface {
	FetchTransactionsPage(ctx context.Context, accountID string, start time.Time, cursor string) (akahu.Page, error)
}

// Stats counts what happened to one account's transactions.
type Stats struct {
	Fetched    int
	Reconciled int
	Changed    int
	Failed     int
	Duplicates int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Fetched += other.Fetched
	s.Reconciled += other.Reconciled
	s.Changed += other.Changed
	s.Failed += other.Failed
	s.Duplicates += other.Duplicates
}

// Importer fetches and reconciles transactions.
type Importer struct {
	Source       Source
	Lookback     time.Duration
	MaxPages     int
	DefaultStart time.Time
	// Location decides which calendar day a transaction is posted on.
	Location *time.Location
	Now      func() time.Time
}

// New creates an importer with the default lookback, page guard and start.
func New(src Source) *Importer {
	return &Importer{
		Source:       src,
		Lookback:     DefaultLookback,
		MaxPages:     DefaultMaxPages,
		DefaultStart: DefaultSyncStart,
		Location:     time.UTC,
		Now:          time.Now,
	}
}

// StartFor returns where fetching begins for a checkpoint.
func (im *Importer) StartFor(checkpoint *time.Time) time.Time {
	if checkpoint == nil || checkpoint.IsZero() {
		return im.DefaultStart
	}
	return checkpoint.Add(-im.Lookback)
}

// FetchSince returns every transaction of sourceID from the checkpoint minus
// the lookback, following cursors until none is returned.
func (im *Importer) FetchSince(ctx context.Context, sourceID string, checkpoint *time.Time) ([]domain.Transaction, error) {
	log := logger.FromContext(ctx)
	start := im.StartFor(checkpoint)
	maxPages := im.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var all []domain.Transaction
	seenCursors := make(map[string]bool)
	cursor := ""
	for pages := 0; ; pages++ {
		if pages >= maxPages {
			return nil, &domain.UpstreamRequestError{
				Service:   "akahu",
				Operation: "fetch transactions",
				Err:       fmt.Errorf("gave up after %d pages", maxPages),
			}
		}

		page, err := im.Source.FetchTransactionsPage(ctx, sourceID, start, cursor)
		if err != nil {
			return nil, fmt.Errorf("FetchSince: page %d: %w", pages+1, err)
		}
		all = append(all, page.Transactions...)
		log.Debug().Int("page", pages+1).Int("count", len(page.Transactions)).Msg("Fetched transaction page")

		if page.NextCursor == "" {
			break
		}
		if seenCursors[page.NextCursor] {
			return nil, &domain.UpstreamRequestError{
				Service:   "akahu",
				Operation: "fetch transactions",
				Err:       fmt.Errorf("cursor %q repeated", page.NextCursor),
			}
		}
		seenCursors[page.NextCursor] = true
		cursor = page.NextCursor
	}

	log.Info().Time("start", start).Int("count", len(all)).Msg("Fetched transactions")
	return all, nil
}

// Convert shapes a source transaction for a backend account.
func (im *Importer) Convert(tx domain.Transaction, convention domain.SignConvention, targetAccountID string) domain.TargetTransaction {
	loc := im.Location
	if loc == nil {
		loc = time.UTC
	}
	return domain.TargetTransaction{
		AccountID:  targetAccountID,
		Date:       civil.DateOf(tx.Date.In(loc)),
		Payee:      tx.Payee(),
		Amount:     convention.Apply(tx.Amount),
		Notes:      "Akahu transaction: " + tx.Description,
		ImportedID: tx.ID,
		Cleared:    true,
	}
}

// Reconcile hands txns to ledger in order. A transaction already reconciled in
// this call is skipped. Failures are logged and counted; they never stop the
// remaining transactions.
func (im *Importer) Reconcile(ctx context.Context, txns []domain.Transaction, ledger budget.Ledger, targetAccountID string) Stats {
	log := logger.FromContext(ctx)
	stats := Stats{Fetched: len(txns)}
	done := make(map[string]bool, len(txns))

	for _, tx := range txns {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("Reconcile interrupted")
			stats.Failed += len(txns) - stats.Reconciled - stats.Failed - stats.Duplicates
			break
		}
		if done[tx.ID] {
			stats.Duplicates++
			continue
		}

		changed, err := ledger.ReconcileTransaction(ctx, im.Convert(tx, ledger.Convention(), targetAccountID))
		if err != nil {
			log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to reconcile transaction")
			stats.Failed++
			continue
		}
		done[tx.ID] = true
		stats.Reconciled++
		if changed {
			stats.Changed++
		}
	}

	return stats
}

// Sync fetches from the link's checkpoint, reconciles into the linked account
// and moves the checkpoint to now. A fetch failure leaves the checkpoint alone.
func (im *Importer) Sync(ctx context.Context, sourceID string, ledger budget.Ledger, link *domain.BackendLink) (Stats, error) {
	now := im.Now
	if now == nil {
		now = time.Now
	}

	txns, err := im.FetchSince(ctx, sourceID, link.SyncedAt)
	if err != nil {
		return Stats{}, err
	}

	stats := im.Reconcile(ctx, txns, ledger, link.AccountID)
	synced := now().UTC()
	link.SyncedAt = &synced

	log := logger.FromContext(ctx)
	log.Info().
		Int("fetched", stats.Fetched).
		Int("changed", stats.Changed).
		Int("failed", stats.Failed).
		Msg("Imported transactions")
	return stats, nil
}
