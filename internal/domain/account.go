package domain

import (
	"fmt"
	"strings"
	"time"
)

// Backend identifies a budgeting system that transactions are synchronized to.
type Backend string

const (
	// BackendYNAB is the YNAB budgeting service.
	BackendYNAB Backend = "ynab"
	// BackendActual is a self-hosted Actual Budget server.
	BackendActual Backend = "actual"
)

// Backends lists every supported backend in display order.
var Backends = []Backend{BackendYNAB, BackendActual}

// ParseBackend converts a tag into a Backend, rejecting unknown values.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Backends {
		if b == known {
			return b, nil
		}
	}
	return "", &ValidationError{Field: "backend", Reason: fmt.Sprintf("unknown backend %q", s)}
}

// String implements fmt.Stringer.
func (b Backend) String() string { return string(b) }

// SourceAccount is an account reported by the bank-aggregation provider.
type SourceAccount struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Connection  string    `json:"connection"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Key returns the account ID.
func (a SourceAccount) Key() string { return a.ID }

// FirstSeen returns when the account was first loaded.
func (a SourceAccount) FirstSeen() time.Time { return a.FirstSeenAt }

// WithFirstSeen returns a copy stamped with t.
func (a SourceAccount) WithFirstSeen(t time.Time) SourceAccount {
	a.FirstSeenAt = t
	return a
}

// TargetAccount is an account inside a budgeting backend.
type TargetAccount struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Backend     Backend   `json:"backend"`
	OnBudget    bool      `json:"on_budget"`
	Closed      bool      `json:"closed"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

// Key returns the account ID.
func (a TargetAccount) Key() string { return a.ID }

// FirstSeen returns when the account was first loaded.
func (a TargetAccount) FirstSeen() time.Time { return a.FirstSeenAt }

// WithFirstSeen returns a copy stamped with t.
func (a TargetAccount) WithFirstSeen(t time.Time) TargetAccount {
	a.FirstSeenAt = t
	return a
}

// Tracking reports whether the account is kept in sync by balance adjustments
// rather than by importing every transaction.
func (a TargetAccount) Tracking() bool { return !a.OnBudget }

// BackendLink ties a source account to one account in a backend.
type BackendLink struct {
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name"`

	// SyncedAt is the watermark before which transactions are assumed imported.
	SyncedAt *time.Time `json:"synced_at,omitempty"`
}

// MappingEntry links one source account to at most one account per backend.
type MappingEntry struct {
	SourceID    string                   `json:"source_id"`
	SourceName  string                   `json:"source_name"`
	MatchedDate time.Time                `json:"matched_date"`
	Links       map[Backend]*BackendLink `json:"links"`
}

// Link returns the link for a backend, or nil when the entry has none.
func (e *MappingEntry) Link(b Backend) *BackendLink {
	if e == nil || e.Links == nil {
		return nil
	}
	return e.Links[b]
}

// HasLinks reports whether any backend is linked.
func (e *MappingEntry) HasLinks() bool {
	for _, l := range e.Links {
		if l != nil && l.AccountID != "" {
			return true
		}
	}
	return false
}
