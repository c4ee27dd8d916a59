// Package directory keeps the local copy of the source and target account
// lists in step with what the providers currently report.
package directory

import (
	"sort"
	"time"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Record is an account that can be merged into a directory.
type Record[T any] interface {
	Key() string
	FirstSeen() time.Time
	WithFirstSeen(time.Time) T
}

// Refresh merges the latest listing with the existing directory.
//
// Records keep the first-seen time they already had; ids appearing for the
// first time are stamped with now. Ids present only in existing are returned
// in removed, sorted, and dropped from merged. The result follows the order of
// latest.
func Refresh[T Record[T]](latest, existing []T, now time.Time) (merged []T, removed []string) {
	known := make(map[string]time.Time, len(existing))
	for _, rec := range existing {
		known[rec.Key()] = rec.FirstSeen()
	}

	merged = make([]T, 0, len(latest))
	seen := make(map[string]bool, len(latest))
	for _, rec := range latest {
		key := rec.Key()
		if seen[key] {
			continue
		}
		seen[key] = true

		first, ok := known[key]
		if !ok || first.IsZero() {
			first = now
		}
		merged = append(merged, rec.WithFirstSeen(first))
	}

	for key := range known {
		if !seen[key] {
			removed = append(removed, key)
		}
	}
	sort.Strings(removed)

	return merged, removed
}

// Candidates returns the targets that can be offered for mapping, in directory
// order. Position i in the result is candidate number i+1.
func Candidates(targets []domain.TargetAccount) []domain.TargetAccount {
	out := make([]domain.TargetAccount, 0, len(targets))
	for _, t := range targets {
		if t.Closed {
			continue
		}
		out = append(out, t)
	}
	return out
}
