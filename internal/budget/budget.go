// Package budget defines what the sync engine needs from a budgeting
// backend. Implementations live in the subpackages.
package budget

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Ledger is one budgeting backend.
type Ledger interface {
	// Backend identifies the implementation.
	Backend() domain.Backend
	// Convention tells how source amounts map onto this backend's signs.
	Convention() domain.SignConvention
	// ListAccounts returns every account, closed ones included.
	ListAccounts(ctx context.Context) ([]domain.TargetAccount, error)
	// ReconcileTransaction creates tx unless a transaction with the same
	// imported id already exists. changed is false when nothing was written.
	ReconcileTransaction(ctx context.Context, tx domain.TargetTransaction) (changed bool, err error)
	// CreateTransaction writes tx unconditionally.
	CreateTransaction(ctx context.Context, tx domain.TargetTransaction) error
	// GetAccountBalance returns the balance in integer minor units.
	GetAccountBalance(ctx context.Context, accountID string) (int64, error)
}

// MinorUnits converts a major-unit amount to integer cents, rounding half away
// from zero.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts integer cents to a major-unit amount.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
