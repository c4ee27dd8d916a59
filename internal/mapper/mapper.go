// Package mapper links source accounts to backend accounts, one backend at a
// time, with a suggestion for each and a decision from a Prompter.
package mapper

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/ledger-sync/internal/directory"
	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
	"github.com/dvloznov/ledger-sync/internal/matching"
	"github.com/dvloznov/ledger-sync/internal/state"
)

// DefaultMaxAttempts is how many invalid answers are tolerated per account.
const DefaultMaxAttempts = 3

// Question is what a Prompter is asked for one source account.
type Question struct {
	Source     domain.SourceAccount
	Backend    domain.Backend
	Candidates []domain.TargetAccount
	Mapped     map[string]bool
	Suggestion int    // 1-based, zero when there is none
	Problem    string // why the previous answer was rejected
}

// Prompter obtains a decision. An empty answer skips the account.
type Prompter interface {
	Choose(ctx context.Context, q Question) (string, error)
}

// Result summarizes one mapping pass.
type Result struct {
	Mapped        int
	Skipped       int
	Unmapped      int
	AlreadyMapped int
}

// Mapper runs mapping passes over a state document.
type Mapper struct {
	Suggester   matching.Suggester
	Prompter    Prompter
	MaxAttempts int
	Now         func() time.Time
}

// New creates a Mapper with default attempts and the wall clock.
func New(s matching.Suggester, p Prompter) *Mapper {
	return &Mapper{
		Suggester:   s,
		Prompter:    p,
		MaxAttempts: DefaultMaxAttempts,
		Now:         time.Now,
	}
}

// Run offers every source account that has no link for backend. Accounts that
// are already linked are left alone, so an interrupted pass can be resumed.
func (m *Mapper) Run(ctx context.Context, doc *state.Document, backend domain.Backend) (Result, error) {
	var res Result
	candidates := directory.Candidates(doc.TargetAccounts[backend])

	for _, src := range doc.SourceAccounts {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("Run: %w", err)
		}
		_, log := logger.ForAccount(ctx, src.ID, backend.String())

		if doc.Entry(src.ID).Link(backend) != nil {
			log.Debug().Msg("Already mapped, skipping")
			res.AlreadyMapped++
			continue
		}

		mapped := make(map[string]bool)
		for id := range doc.MappedTargets(backend) {
			mapped[id] = true
		}
		if !anyUnmapped(candidates, mapped) {
			log.Info().Str("source_account_name", src.Name).Msg("No unmapped target accounts left")
			res.Unmapped++
			continue
		}

		q := Question{Source: src, Backend: backend, Candidates: candidates, Mapped: mapped}
		if m.Suggester != nil {
			if idx, ok := m.Suggester.Suggest(ctx, src, candidates, mapped); ok {
				q.Suggestion = idx
			}
		}

		outcome, err := m.decide(ctx, doc, q)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeMapped:
			link := doc.Entry(src.ID).Link(backend)
			log.Info().Str("source_account_name", src.Name).Str("target_account_name", link.AccountName).Msg("Mapped account")
			res.Mapped++
		case outcomeSkipped:
			res.Skipped++
		default:
			log.Warn().Str("source_account_name", src.Name).Msg("Too many invalid answers, leaving unmapped")
			res.Unmapped++
		}
	}

	return res, nil
}

type outcome int

const (
	outcomeMapped outcome = iota
	outcomeSkipped
	outcomeGaveUp
)

func (m *Mapper) decide(ctx context.Context, doc *state.Document, q Question) (outcome, error) {
	attempts := m.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	now := m.Now
	if now == nil {
		now = time.Now
	}

	for i := 0; i < attempts; i++ {
		answer, err := m.Prompter.Choose(ctx, q)
		if err != nil {
			return outcomeGaveUp, fmt.Errorf("decide: prompting for %s: %w", q.Source.ID, err)
		}
		if answer == "" {
			return outcomeSkipped, nil
		}

		idx, err := matching.ValidateIndex(answer, q.Candidates, q.Mapped)
		if err == nil {
			err = doc.Assign(q.Source.ID, q.Source.Name, q.Candidates[idx-1], now())
		}
		if err == nil {
			return outcomeMapped, nil
		}
		q.Problem = err.Error()
	}
	return outcomeGaveUp, nil
}

func anyUnmapped(candidates []domain.TargetAccount, mapped map[string]bool) bool {
	for _, c := range candidates {
		if !mapped[c.ID] {
			return true
		}
	}
	return false
}
