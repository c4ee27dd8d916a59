// Package syncer is the application context: it owns the clients, the state
// store and the per-run bookkeeping, and drives directory refreshes, mapping
// and synchronization.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dvloznov/ledger-sync/internal/audit"
	"github.com/dvloznov/ledger-sync/internal/balance"
	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/budget/memory"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/importer"
	"github.com/dvloznov/ledger-sync/internal/metrics"
	"github.com/dvloznov/ledger-sync/internal/state"
)

// Triggers recorded on sync runs.
const (
	TriggerSchedule = "schedule"
	TriggerHTTP     = "http"
	TriggerCLI      = "cli"
	TriggerWebhook  = "webhook"
)

// Source is everything the engine needs from the bank-aggregation provider.
type Source interface {
	importer.Source
	balance.Source
	ListAccounts(ctx context.Context) ([]domain.SourceAccount, error)
}

// Options configures an Engine.
type Options struct {
	Source  Source
	Ledgers []budget.Ledger
	Store   *state.Store

	// Audit and Metrics default to no-ops.
	Audit   audit.Recorder
	Metrics metrics.Collector

	// Location decides calendar days for posted transactions and adjustments.
	Location         *time.Location
	DefaultSyncStart time.Time
	Currency         string

	// DryRun keeps every backend write in memory and never saves state.
	DryRun bool

	Now func() time.Time
}

// Engine runs synchronizations. It is safe for concurrent use; state changes
// are serialized by the store session.
type Engine struct {
	source   Source
	ledgers  map[domain.Backend]budget.Ledger
	backends []domain.Backend
	store    *state.Store
	audit    audit.Recorder
	metrics  metrics.Collector
	importer *importer.Importer
	balance  *balance.Reconciler
	dryRun   bool
	now      func() time.Time

	group singleflight.Group
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, &domain.ConfigurationError{Reason: "no source client"}
	}
	if opts.Store == nil {
		return nil, &domain.ConfigurationError{Reason: "no state store"}
	}
	if len(opts.Ledgers) == 0 {
		return nil, &domain.ConfigurationError{Reason: "no backend configured"}
	}

	e := &Engine{
		source:  opts.Source,
		ledgers: make(map[domain.Backend]budget.Ledger, len(opts.Ledgers)),
		store:   opts.Store,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		dryRun:  opts.DryRun,
		now:     opts.Now,
	}
	if e.audit == nil || e.dryRun {
		e.audit = audit.NoOpRecorder{}
	}
	if e.metrics == nil {
		e.metrics = metrics.NoOpCollector{}
	}
	if e.now == nil {
		e.now = time.Now
	}

	for _, l := range opts.Ledgers {
		if _, dup := e.ledgers[l.Backend()]; dup {
			return nil, &domain.ConfigurationError{Reason: fmt.Sprintf("backend %s configured twice", l.Backend())}
		}
		if e.dryRun {
			l = memory.NewShadow(l)
		}
		e.ledgers[l.Backend()] = l
	}
	for _, b := range domain.Backends {
		if _, ok := e.ledgers[b]; ok {
			e.backends = append(e.backends, b)
		}
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	e.importer = importer.New(opts.Source)
	e.importer.Location = loc
	e.importer.Now = e.now
	if !opts.DefaultSyncStart.IsZero() {
		e.importer.DefaultStart = opts.DefaultSyncStart
	}

	e.balance = balance.New(opts.Source)
	e.balance.Location = loc
	e.balance.Now = e.now
	if opts.Currency != "" {
		e.balance.Currency = opts.Currency
	}

	return e, nil
}

// Close releases the store and the audit recorder.
func (e *Engine) Close() error {
	return errors.Join(e.store.Close(), e.audit.Close())
}

// Backends lists the configured backends in display order.
func (e *Engine) Backends() []domain.Backend {
	return append([]domain.Backend(nil), e.backends...)
}

// Ledger returns the client for a backend. In dry-run mode it is the
// in-memory shadow.
func (e *Engine) Ledger(b domain.Backend) (budget.Ledger, bool) {
	l, ok := e.ledgers[b]
	return l, ok
}

// DryRun reports whether writes are kept in memory.
func (e *Engine) DryRun() bool { return e.dryRun }

// Store returns the state store.
func (e *Engine) Store() *state.Store { return e.store }

// Snapshot loads the current state document without taking the lock.
func (e *Engine) Snapshot(ctx context.Context) (*state.Document, error) {
	return e.store.Load(ctx)
}

// History returns the latest audited runs.
func (e *Engine) History(ctx context.Context, limit int) ([]audit.Run, error) {
	return e.audit.ListRecent(ctx, limit)
}

func (e *Engine) checkpoint(ctx context.Context, sess *state.Session) error {
	if e.dryRun {
		return nil
	}
	return sess.Checkpoint(ctx)
}
