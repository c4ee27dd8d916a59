// Package state holds the durable document that records both account
// directories and the mapping between them.
package state

import (
	"fmt"
	"time"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// Document is the whole persisted state. It is loaded at the start of a run,
// mutated in memory and written back in full.
type Document struct {
	SourceAccounts []domain.SourceAccount                    `json:"source_accounts"`
	TargetAccounts map[domain.Backend][]domain.TargetAccount `json:"target_accounts"`
	Mapping        []*domain.MappingEntry                    `json:"mapping"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	doc := &Document{}
	doc.normalize()
	return doc
}

func (d *Document) normalize() {
	if d.SourceAccounts == nil {
		d.SourceAccounts = []domain.SourceAccount{}
	}
	if d.TargetAccounts == nil {
		d.TargetAccounts = map[domain.Backend][]domain.TargetAccount{}
	}
	for _, b := range domain.Backends {
		if d.TargetAccounts[b] == nil {
			d.TargetAccounts[b] = []domain.TargetAccount{}
		}
	}
	if d.Mapping == nil {
		d.Mapping = []*domain.MappingEntry{}
	}
	for _, e := range d.Mapping {
		if e.Links == nil {
			e.Links = map[domain.Backend]*domain.BackendLink{}
		}
	}
}

// Source looks up a source account by id.
func (d *Document) Source(id string) (domain.SourceAccount, bool) {
	for _, a := range d.SourceAccounts {
		if a.ID == id {
			return a, true
		}
	}
	return domain.SourceAccount{}, false
}

// Target looks up a target account by backend and id.
func (d *Document) Target(b domain.Backend, id string) (domain.TargetAccount, bool) {
	for _, a := range d.TargetAccounts[b] {
		if a.ID == id {
			return a, true
		}
	}
	return domain.TargetAccount{}, false
}

// Entry returns the mapping entry for a source account, or nil.
func (d *Document) Entry(sourceID string) *domain.MappingEntry {
	for _, e := range d.Mapping {
		if e.SourceID == sourceID {
			return e
		}
	}
	return nil
}

// MappedTargets returns the ids of targets in b that are already linked, with
// the source account each one is linked to.
func (d *Document) MappedTargets(b domain.Backend) map[string]string {
	out := make(map[string]string)
	for _, e := range d.Mapping {
		if l := e.Link(b); l != nil && l.AccountID != "" {
			out[l.AccountID] = e.SourceID
		}
	}
	return out
}

// Assign links a source account to a target account. The target must exist in
// the directory, must not be closed and must not already be linked to a
// different source account for the same backend.
func (d *Document) Assign(sourceID, sourceName string, target domain.TargetAccount, now time.Time) error {
	if sourceID == "" {
		return &domain.ValidationError{Field: "source_id", Reason: "empty"}
	}

	known, ok := d.Target(target.Backend, target.ID)
	if !ok {
		return &domain.ValidationError{
			Field:  "target",
			Reason: fmt.Sprintf("%s account %q is not in the directory", target.Backend, target.ID),
		}
	}
	if known.Closed {
		return &domain.ValidationError{
			Field:  "target",
			Reason: fmt.Sprintf("%s account %q is closed", target.Backend, target.ID),
		}
	}
	if owner, taken := d.MappedTargets(target.Backend)[target.ID]; taken && owner != sourceID {
		return &domain.ValidationError{
			Field:  "target",
			Reason: fmt.Sprintf("%s account %q is already mapped to %s", target.Backend, target.ID, owner),
		}
	}

	entry := d.Entry(sourceID)
	if entry == nil {
		entry = &domain.MappingEntry{
			SourceID:    sourceID,
			SourceName:  sourceName,
			MatchedDate: now,
			Links:       map[domain.Backend]*domain.BackendLink{},
		}
		d.Mapping = append(d.Mapping, entry)
	}
	if entry.Links == nil {
		entry.Links = map[domain.Backend]*domain.BackendLink{}
	}

	if existing := entry.Links[target.Backend]; existing != nil && existing.AccountID == known.ID {
		existing.AccountName = known.Name
		return nil
	}

	entry.Links[target.Backend] = &domain.BackendLink{
		AccountID:   known.ID,
		AccountName: known.Name,
	}
	entry.MatchedDate = now
	return nil
}

// Vacancy describes a link or entry removed by a directory refresh.
type Vacancy struct {
	SourceID   string
	SourceName string
	Backend    domain.Backend // empty when the whole entry was removed
	TargetID   string
	TargetName string
}

// Vacancies summarizes what ReconcileRemovals changed.
type Vacancies struct {
	RemovedEntries []Vacancy
	ClearedLinks   []Vacancy
}

// Empty reports whether nothing was removed.
func (v Vacancies) Empty() bool {
	return len(v.RemovedEntries) == 0 && len(v.ClearedLinks) == 0
}

// Len returns the number of removed entries plus cleared links.
func (v Vacancies) Len() int {
	return len(v.RemovedEntries) + len(v.ClearedLinks)
}

// ReconcileRemovals drops the mapping entries of removed source accounts and
// clears only the affected backend link for removed target accounts.
func ReconcileRemovals(doc *Document, removedSources []string, removedTargets map[domain.Backend][]string) Vacancies {
	var v Vacancies

	gone := make(map[string]bool, len(removedSources))
	for _, id := range removedSources {
		gone[id] = true
	}

	kept := doc.Mapping[:0]
	for _, e := range doc.Mapping {
		if !gone[e.SourceID] {
			kept = append(kept, e)
			continue
		}
		v.RemovedEntries = append(v.RemovedEntries, Vacancy{SourceID: e.SourceID, SourceName: e.SourceName})
	}
	doc.Mapping = kept

	for _, b := range domain.Backends {
		ids := removedTargets[b]
		if len(ids) == 0 {
			continue
		}
		removed := make(map[string]bool, len(ids))
		for _, id := range ids {
			removed[id] = true
		}

		for _, e := range doc.Mapping {
			l := e.Link(b)
			if l == nil || !removed[l.AccountID] {
				continue
			}
			v.ClearedLinks = append(v.ClearedLinks, Vacancy{
				SourceID:   e.SourceID,
				SourceName: e.SourceName,
				Backend:    b,
				TargetID:   l.AccountID,
				TargetName: l.AccountName,
			})
			delete(e.Links, b)
		}
	}

	return v
}
