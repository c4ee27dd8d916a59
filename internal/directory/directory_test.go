package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

func TestRefresh(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		latest      []domain.SourceAccount
		existing    []domain.SourceAccount
		wantIDs     []string
		wantFirst   map[string]time.Time
		wantRemoved []string
	}{
		{
			name:      "first load stamps now",
			latest:    []domain.SourceAccount{{ID: "a1", Name: "Everyday"}},
			wantIDs:   []string{"a1"},
			wantFirst: map[string]time.Time{"a1": now},
		},
		{
			name:      "existing keeps first seen and takes new name",
			latest:    []domain.SourceAccount{{ID: "a1", Name: "Renamed"}},
			existing:  []domain.SourceAccount{{ID: "a1", Name: "Everyday", FirstSeenAt: t0}},
			wantIDs:   []string{"a1"},
			wantFirst: map[string]time.Time{"a1": t0},
		},
		{
			name:        "missing ids are removed",
			latest:      []domain.SourceAccount{{ID: "a2"}},
			existing:    []domain.SourceAccount{{ID: "a3", FirstSeenAt: t0}, {ID: "a1", FirstSeenAt: t0}},
			wantIDs:     []string{"a2"},
			wantFirst:   map[string]time.Time{"a2": now},
			wantRemoved: []string{"a1", "a3"},
		},
		{
			name:      "duplicates in latest collapse",
			latest:    []domain.SourceAccount{{ID: "a1"}, {ID: "a1"}},
			wantIDs:   []string{"a1"},
			wantFirst: map[string]time.Time{"a1": now},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			merged, removed := Refresh(tt.latest, tt.existing, now)

			var ids []string
			for _, rec := range merged {
				ids = append(ids, rec.ID)
				assert.Equal(t, tt.wantFirst[rec.ID], rec.FirstSeenAt, "first seen of %s", rec.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantRemoved, removed)
		})
	}
}

func TestRefresh_RenameKeepsName(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	merged, _ := Refresh(
		[]domain.TargetAccount{{ID: "t1", Name: "New name", Backend: domain.BackendYNAB}},
		[]domain.TargetAccount{{ID: "t1", Name: "Old name", Backend: domain.BackendYNAB, FirstSeenAt: t0}},
		time.Now(),
	)

	assert.Equal(t, "New name", merged[0].Name)
	assert.Equal(t, t0, merged[0].FirstSeenAt)
}

func TestCandidates(t *testing.T) {
	targets := []domain.TargetAccount{
		{ID: "t1", Name: "Checking"},
		{ID: "t2", Name: "Old", Closed: true},
		{ID: "t3", Name: "Savings"},
	}

	got := Candidates(targets)

	assert.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].ID)
	assert.Equal(t, "t3", got[1].ID)
	assert.Len(t, targets, 3)
}
