// Package matching proposes which target account a source account most
// likely corresponds to.
package matching

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Suggester proposes a 1-based position in candidates for source. Candidates
// whose id is in mapped are never proposed. ok is false when there is no
// confident suggestion.
type Suggester interface {
	Suggest(ctx context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (index int, ok bool)
}

// SuggesterFunc adapts a function to Suggester.
type SuggesterFunc func(ctx context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (int, bool)

// Suggest implements Suggester.
func (f SuggesterFunc) Suggest(ctx context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (int, bool) {
	return f(ctx, source, candidates, mapped)
}

// ValidateIndex parses raw as a 1-based candidate number and checks that it
// is in range and not already mapped. The same rule applies to model answers
// and to human input.
func ValidateIndex(raw string, candidates []domain.TargetAccount, mapped map[string]bool) (int, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: "index", Reason: fmt.Sprintf("%q is not a number", raw)}
	}
	if n < 1 || n > len(candidates) {
		return 0, &domain.ValidationError{Field: "index", Reason: fmt.Sprintf("%d is not between 1 and %d", n, len(candidates))}
	}
	if mapped[candidates[n-1].ID] {
		return 0, &domain.ValidationError{Field: "index", Reason: fmt.Sprintf("%d (%s) is already mapped", n, candidates[n-1].Name)}
	}
	return n, nil
}

// Chain tries each suggester in order and returns the first validated index.
type Chain []Suggester

// Suggest implements Suggester.
func (c Chain) Suggest(ctx context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (int, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		idx, ok := s.Suggest(ctx, source, candidates, mapped)
		if !ok {
			continue
		}
		if _, err := ValidateIndex(strconv.Itoa(idx), candidates, mapped); err != nil {
			continue
		}
		return idx, true
	}
	return 0, false
}
