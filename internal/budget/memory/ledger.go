// Package memory is an in-process budget.Ledger. Tests use it directly and
// dry runs use Shadow to keep writes away from a real backend.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Ledger keeps accounts and transactions in memory.
type Ledger struct {
	backend    domain.Backend
	convention domain.SignConvention

	mu       sync.RWMutex
	accounts []domain.TargetAccount
	opening  map[string]int64
	txns     map[string][]domain.TargetTransaction
	failing  map[string]error
}

// New creates a ledger that reports itself as backend.
func New(backend domain.Backend, convention domain.SignConvention, accounts ...domain.TargetAccount) *Ledger {
	l := &Ledger{
		backend:    backend,
		convention: convention,
		opening:    make(map[string]int64),
		txns:       make(map[string][]domain.TargetTransaction),
		failing:    make(map[string]error),
	}
	for _, a := range accounts {
		a.Backend = backend
		l.accounts = append(l.accounts, a)
	}
	return l
}

// Backend implements budget.Ledger.
func (l *Ledger) Backend() domain.Backend { return l.backend }

// Convention implements budget.Ledger.
func (l *Ledger) Convention() domain.SignConvention { return l.convention }

// SetOpeningBalance sets the balance an account has before any transaction.
func (l *Ledger) SetOpeningBalance(accountID string, cents int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opening[accountID] = cents
}

// FailImport makes ReconcileTransaction return err for importedID.
func (l *Ledger) FailImport(importedID string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failing[importedID] = err
}

// AddAccount appends an account to the directory.
func (l *Ledger) AddAccount(a domain.TargetAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a.Backend = l.backend
	l.accounts = append(l.accounts, a)
}

// Transactions returns a copy of the transactions in an account.
func (l *Ledger) Transactions(accountID string) []domain.TargetTransaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.TargetTransaction(nil), l.txns[accountID]...)
}

// ListAccounts implements budget.Ledger.
func (l *Ledger) ListAccounts(context.Context) ([]domain.TargetAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.TargetAccount(nil), l.accounts...), nil
}

// ReconcileTransaction implements budget.Ledger. A transaction with the same
// imported id is left alone; an unmarked transaction with the same date and
// amount adopts the imported id; otherwise tx is appended.
func (l *Ledger) ReconcileTransaction(_ context.Context, tx domain.TargetTransaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.failing[tx.ImportedID]; err != nil {
		return false, err
	}
	if !l.known(tx.AccountID) {
		return false, fmt.Errorf("ReconcileTransaction: unknown account %q", tx.AccountID)
	}

	existing := l.txns[tx.AccountID]
	for _, e := range existing {
		if tx.ImportedID != "" && e.ImportedID == tx.ImportedID {
			return false, nil
		}
	}
	for i, e := range existing {
		if e.ImportedID == "" && e.Date == tx.Date && e.Amount.Equal(tx.Amount) {
			existing[i].ImportedID = tx.ImportedID
			existing[i].Cleared = tx.Cleared
			return true, nil
		}
	}

	l.txns[tx.AccountID] = append(existing, tx)
	return true, nil
}

// CreateTransaction implements budget.Ledger.
func (l *Ledger) CreateTransaction(_ context.Context, tx domain.TargetTransaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.known(tx.AccountID) {
		return fmt.Errorf("CreateTransaction: unknown account %q", tx.AccountID)
	}
	l.txns[tx.AccountID] = append(l.txns[tx.AccountID], tx)
	return nil
}

// GetAccountBalance implements budget.Ledger.
func (l *Ledger) GetAccountBalance(_ context.Context, accountID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if !l.known(accountID) {
		return 0, fmt.Errorf("GetAccountBalance: unknown account %q", accountID)
	}
	total := l.opening[accountID]
	for _, tx := range l.txns[accountID] {
		total += budget.MinorUnits(tx.Amount)
	}
	return total, nil
}

func (l *Ledger) known(accountID string) bool {
	for _, a := range l.accounts {
		if a.ID == accountID {
			return true
		}
	}
	return false
}

// Shadow reads from a real backend and keeps every write in memory.
type Shadow struct {
	base  budget.Ledger
	local *Ledger
}

// NewShadow wraps base.
func NewShadow(base budget.Ledger) *Shadow {
	return &Shadow{base: base, local: New(base.Backend(), base.Convention())}
}

// Backend implements budget.Ledger.
func (s *Shadow) Backend() domain.Backend { return s.base.Backend() }

// Convention implements budget.Ledger.
func (s *Shadow) Convention() domain.SignConvention { return s.base.Convention() }

// ListAccounts implements budget.Ledger.
func (s *Shadow) ListAccounts(ctx context.Context) ([]domain.TargetAccount, error) {
	return s.base.ListAccounts(ctx)
}

// ReconcileTransaction records tx locally.
func (s *Shadow) ReconcileTransaction(ctx context.Context, tx domain.TargetTransaction) (bool, error) {
	s.ensure(tx.AccountID)
	return s.local.ReconcileTransaction(ctx, tx)
}

// CreateTransaction records tx locally.
func (s *Shadow) CreateTransaction(ctx context.Context, tx domain.TargetTransaction) error {
	s.ensure(tx.AccountID)
	return s.local.CreateTransaction(ctx, tx)
}

// GetAccountBalance returns the real balance plus local writes.
func (s *Shadow) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	remote, err := s.base.GetAccountBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	s.ensure(accountID)
	local, err := s.local.GetAccountBalance(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return remote + local, nil
}

// Recorded returns the writes captured for an account.
func (s *Shadow) Recorded(accountID string) []domain.TargetTransaction {
	return s.local.Transactions(accountID)
}

func (s *Shadow) ensure(accountID string) {
	s.local.mu.Lock()
	defer s.local.mu.Unlock()
	if !s.local.known(accountID) {
		s.local.accounts = append(s.local.accounts, domain.TargetAccount{ID: accountID, Backend: s.local.backend})
	}
}
