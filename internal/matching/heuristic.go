package matching

import (
	"context"
	"strings"
	"unicode"

	"github.com/texttheater/golang-levenshtein/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// DefaultThreshold is the minimum similarity score (0-100) a heuristic match
// needs.
const DefaultThreshold = 50.0

// Heuristic suggests the unmapped candidate whose name is most similar to the
// source account.
type Heuristic struct {
	Threshold float64
}

// NewHeuristic returns a Heuristic with DefaultThreshold.
func NewHeuristic() Heuristic {
	return Heuristic{Threshold: DefaultThreshold}
}

// Suggest implements Suggester. Ties go to the earlier candidate.
func (h Heuristic) Suggest(_ context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (int, bool) {
	best, bestScore := 0, -1.0
	for i, c := range candidates {
		if mapped[c.ID] {
			continue
		}
		if score := Score(source, c); score > bestScore {
			best, bestScore = i+1, score
		}
	}
	if best == 0 || bestScore < h.Threshold {
		return 0, false
	}
	return best, true
}

// Score rates how similar a target's name is to a source account, from 0 to
// 100. The primary key is "<connection> <name>". The name alone is scored as
// well and the higher ratio wins, so a target named only after the account
// (no bank prefix) still clears the threshold. Taking the maximum never
// rejects a match the composite key alone would accept.
func Score(source domain.SourceAccount, target domain.TargetAccount) float64 {
	t := normalize(target.Name)
	score := ratio(normalize(source.Name), t)
	if source.Connection != "" {
		if s := ratio(normalize(source.Connection+" "+source.Name), t); s > score {
			score = s
		}
	}
	return score
}

func ratio(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	return 100 * levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

// normalize folds case, strips accents and collapses whitespace.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(cases.Fold().String(stripped)), " ")
}
