// Package app assembles the sync engine and its collaborators from
// configuration. Every binary builds through here.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/ledger-sync/internal/akahu"
	"github.com/dvloznov/ledger-sync/internal/audit"
	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/budget/actual"
	"github.com/dvloznov/ledger-sync/internal/budget/ynab"
	"github.com/dvloznov/ledger-sync/internal/config"
	"github.com/dvloznov/ledger-sync/internal/jobs"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/matching"
	"github.com/dvloznov/ledger-sync/internal/metrics"
	"github.com/dvloznov/ledger-sync/internal/resilience"
	"github.com/dvloznov/ledger-sync/internal/state"
	"github.com/dvloznov/ledger-sync/internal/syncer"
	"github.com/dvloznov/ledger-sync/internal/webhook"
)

// ShutdownTimeout bounds graceful shutdown in every binary.
const ShutdownTimeout = 30 * time.Second

// Options tunes Build.
type Options struct {
	// DryRun keeps backend writes in memory and leaves the state untouched.
	DryRun bool
	// Metrics defaults to a no-op collector.
	Metrics metrics.Collector
	// Audit overrides the recorder chosen from configuration.
	Audit audit.Recorder
}

// App is a built process.
type App struct {
	Config  config.Config
	Engine  *syncer.Engine
	Source  *akahu.Client
	Metrics metrics.Collector

	log zerolog.Logger
}

// Build connects every configured client. cfg should already be validated.
func Build(ctx context.Context, cfg config.Config, log zerolog.Logger, opts Options) (*App, error) {
	mc := opts.Metrics
	if mc == nil {
		mc = metrics.NoOpCollector{}
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Metrics: mc, log: log}
	a.Source = akahu.NewClient(cfg.Akahu.BaseURL, cfg.Akahu.UserToken, cfg.Akahu.AppToken, a.httpClient("akahu"))

	ledgers := Ledgers(cfg, a.httpClient)

	store, err := state.Open(ctx, cfg.StateURI)
	if err != nil {
		return nil, fmt.Errorf("Build: opening state %s: %w", cfg.StateURI, err)
	}

	rec := opts.Audit
	if rec == nil {
		rec, err = Recorder(ctx, cfg)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("Build: %w", err)
		}
	}

	engine, err := syncer.New(syncer.Options{
		Source:           a.Source,
		Ledgers:          ledgers,
		Store:            store,
		Audit:            rec,
		Metrics:          mc,
		Location:         loc,
		DefaultSyncStart: cfg.DefaultSyncStart,
		Currency:         cfg.Currency,
		DryRun:           opts.DryRun,
	})
	if err != nil {
		store.Close()
		rec.Close()
		return nil, fmt.Errorf("Build: %w", err)
	}
	a.Engine = engine

	log.Info().
		Str("state", store.Location()).
		Strs("backends", backendNames(engine)).
		Bool("dry_run", opts.DryRun).
		Msg("Sync engine ready")
	return a, nil
}

// Close releases the engine.
func (a *App) Close() error {
	return a.Engine.Close()
}

// Suggester returns the advisory matcher when a Gemini key is configured,
// falling back to the name heuristic, and the heuristic alone otherwise.
func (a *App) Suggester(ctx context.Context) (matching.Suggester, error) {
	h := matching.Heuristic{Threshold: a.Config.MatchThreshold}
	if a.Config.Gemini.APIKey == "" {
		return h, nil
	}
	completer, err := matching.NewGeminiCompleter(ctx, a.Config.Gemini.APIKey, a.Config.Gemini.Model)
	if err != nil {
		return nil, fmt.Errorf("Suggester: %w", err)
	}
	return Ranked(completer, h, a.Config.AdvisorTimeout), nil
}

// Ranked puts the model advisor ahead of the heuristic. The advisor carries no
// fallback of its own; the chain moves on when it declines.
func Ranked(c matching.Completer, h matching.Heuristic, timeout time.Duration) matching.Chain {
	return matching.Chain{matching.NewAdvisory(c, nil, timeout), h}
}

// Ingress builds the webhook ingress on top of the engine.
func (a *App) Ingress() (*webhook.Ingress, error) {
	v, err := webhook.NewVerifier(a.Config.Akahu.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("Ingress: %w", err)
	}
	return webhook.NewIngress(v, a.Engine, a.Metrics), nil
}

func (a *App) httpClient(service string) *http.Client {
	rc := resilience.DefaultConfig(service)
	rc.Timeout = a.Config.HTTPTimeout
	return resilience.NewHTTPClient(rc, a.Metrics, a.log)
}

// Ledgers builds a client for every configured backend. newClient supplies
// the HTTP client for a service name.
func Ledgers(cfg config.Config, newClient func(service string) *http.Client) []budget.Ledger {
	var out []budget.Ledger
	if cfg.YNABEnabled() {
		out = append(out, ynab.NewClient(cfg.YNAB.BaseURL, cfg.YNAB.Token, cfg.YNAB.BudgetID, newClient("ynab")))
	}
	if cfg.ActualEnabled() {
		out = append(out, actual.NewClient(cfg.Actual.ServerURL, cfg.Actual.APIKey, cfg.Actual.SyncID, cfg.Actual.EncryptionKey, newClient("actual")))
	}
	return out
}

// Recorder returns the BigQuery recorder when a project is configured and a
// no-op recorder otherwise.
func Recorder(ctx context.Context, cfg config.Config) (audit.Recorder, error) {
	if cfg.BigQuery.Project == "" {
		return audit.NoOpRecorder{}, nil
	}
	rec, err := audit.NewBigQueryRecorder(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func backendNames(e *syncer.Engine) []string {
	var out []string
	for _, b := range e.Backends() {
		out = append(out, string(b))
	}
	return out
}

// JobHandler runs queued jobs against the engine. Directory refreshes from
// the queue never clear links; a refresh that would is left for the CLI.
func (a *App) JobHandler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		sj, ok := job.(*jobs.SyncJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
			"job_id":   sj.GetID(),
			"job_type": string(sj.GetType()),
		})
		ctx = logger.WithContext(ctx, log)

		switch sj.GetType() {
		case jobs.JobTypeFullSync:
			trigger := sj.Trigger
			if trigger == "" {
				trigger = syncer.TriggerSchedule
			}
			summary, err := a.Engine.FullSync(ctx, trigger)
			sj.RunID = summary.RunID
			sj.AccountsFailed = summary.AccountsFailed
			sj.Changed = summary.Changed
			return err
		case jobs.JobTypeRefreshDirectory:
			_, err := a.Engine.RefreshDirectory(ctx, declineVacancies)
			return err
		default:
			return fmt.Errorf("unknown job type %q", sj.GetType())
		}
	}
}

func declineVacancies(ctx context.Context, v state.Vacancies) (bool, error) {
	log := logger.FromContext(ctx)
	log.Warn().Int("vacancies", v.Len()).Msg("Refresh would clear links; run the CLI refresh to confirm")
	return false, nil
}
