// Package balance keeps tracking accounts in line with the source balance by
// writing one adjustment transaction whenever the two diverge.
package balance

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

const (
	// AdjustmentPayee is the payee on every adjustment transaction.
	AdjustmentPayee = "Balance Adjustment"
	// DefaultCurrency formats adjustment notes.
	DefaultCurrency = money.NZD
)

// Source reports the current balance of a source account in major units.
type Source interface {
	FetchAccountBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Result describes one reconciliation.
type Result struct {
	SourceCents int64
	TargetCents int64
	Adjustment  *domain.TargetTransaction // nil when the balances already matched
}

// Adjusted reports whether a transaction was written.
func (r Result) Adjusted() bool { return r.Adjustment != nil }

// Reconciler compares balances and writes adjustments.
type Reconciler struct {
	Source   Source
	Currency string
	// Location decides which calendar day "today" is.
	Location *time.Location
	Now      func() time.Time
}

// New creates a reconciler formatting notes in DefaultCurrency.
func New(src Source) *Reconciler {
	return &Reconciler{
		Source:   src,
		Currency: DefaultCurrency,
		Location: time.UTC,
		Now:      time.Now,
	}
}

// Reconcile brings the target account of link to the source balance of
// sourceID. Amounts are written in the backend's own balance space.
func (r *Reconciler) Reconcile(ctx context.Context, sourceID string, ledger budget.Ledger, link *domain.BackendLink) (Result, error) {
	log := logger.FromContext(ctx)

	sourceBalance, err := r.Source.FetchAccountBalance(ctx, sourceID)
	if err != nil {
		return Result{}, fmt.Errorf("Reconcile: source balance: %w", err)
	}
	targetCents, err := ledger.GetAccountBalance(ctx, link.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("Reconcile: target balance: %w", err)
	}

	res := Result{
		SourceCents: budget.MinorUnits(sourceBalance),
		TargetCents: targetCents,
	}
	if res.SourceCents == res.TargetCents {
		log.Info().Int64("balance_cents", res.TargetCents).Msg("No balance adjustment needed")
		return res, nil
	}

	now := r.now()
	adj := domain.TargetTransaction{
		AccountID:  link.AccountID,
		Date:       civil.DateOf(now.In(r.location())),
		Payee:      AdjustmentPayee,
		Amount:     budget.FromMinorUnits(res.SourceCents - res.TargetCents),
		Notes:      r.Notes(res.TargetCents, res.SourceCents),
		ImportedID: "adjustment_" + now.UTC().Format(time.RFC3339Nano),
		Cleared:    true,
	}
	if err := ledger.CreateTransaction(ctx, adj); err != nil {
		return Result{}, fmt.Errorf("Reconcile: create adjustment: %w", err)
	}

	res.Adjustment = &adj
	log.Info().
		Str("amount", adj.Amount.StringFixed(2)).
		Int64("from_cents", res.TargetCents).
		Int64("to_cents", res.SourceCents).
		Msg("Created balance adjustment")
	return res, nil
}

// Notes renders the memo of an adjustment from one balance to another.
func (r *Reconciler) Notes(fromCents, toCents int64) string {
	currency := r.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return fmt.Sprintf("Adjusted from %s to %s to reconcile tracking account.",
		money.New(fromCents, currency).Display(),
		money.New(toCents, currency).Display())
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

func (r *Reconciler) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}
