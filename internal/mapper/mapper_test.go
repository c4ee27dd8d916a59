package mapper

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/matching"
	"github.com/dvloznov/ledger-sync/internal/state"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newDoc(sources []domain.SourceAccount, targets []domain.TargetAccount) *state.Document {
	doc := state.NewDocument()
	doc.SourceAccounts = sources
	for _, t := range targets {
		doc.TargetAccounts[t.Backend] = append(doc.TargetAccounts[t.Backend], t)
	}
	return doc
}

func always(idx int) matching.Suggester {
	return matching.SuggesterFunc(func(context.Context, domain.SourceAccount, []domain.TargetAccount, map[string]bool) (int, bool) {
		return idx, idx > 0
	})
}

// scripted answers in order and records every question.
type scripted struct {
	answers   []string
	questions []Question
	err       error
}

func (s *scripted) Choose(_ context.Context, q Question) (string, error) {
	s.questions = append(s.questions, q)
	if s.err != nil {
		return "", s.err
	}
	if len(s.answers) == 0 {
		return "", nil
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

func newMapper(s matching.Suggester, p Prompter) *Mapper {
	m := New(s, p)
	m.Now = func() time.Time { return fixedNow }
	return m
}

func TestRun_ConfirmSuggestion(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{{ID: "a1", Name: "Everyday"}},
		[]domain.TargetAccount{{ID: "t1", Name: "Checking", Backend: domain.BackendYNAB}},
	)
	out := &bytes.Buffer{}
	m := newMapper(always(1), NewTerminalPrompter(strings.NewReader("1\n"), out))

	res, err := m.Run(context.Background(), doc, domain.BackendYNAB)

	require.NoError(t, err)
	assert.Equal(t, Result{Mapped: 1}, res)
	e := doc.Entry("a1")
	require.NotNil(t, e)
	assert.Equal(t, "t1", e.Link(domain.BackendYNAB).AccountID)
	assert.Equal(t, fixedNow, e.MatchedDate)
	assert.Contains(t, out.String(), "Suggested match: 1. Checking")
}

func TestRun_AutoConfirm(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{
			{ID: "a1", Name: "Everyday", Connection: "ANZ"},
			{ID: "a2", Name: "Visa Platinum", Connection: "Westpac"},
		},
		[]domain.TargetAccount{
			{ID: "t1", Name: "Everyday Account", Backend: domain.BackendActual},
			{ID: "t2", Name: "Groceries Float", Backend: domain.BackendActual},
		},
	)
	m := newMapper(matching.NewHeuristic(), AutoConfirm{})

	res, err := m.Run(context.Background(), doc, domain.BackendActual)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Mapped)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "t1", doc.Entry("a1").Link(domain.BackendActual).AccountID)
	assert.Nil(t, doc.Entry("a2"))
}

func TestRun_IsResumable(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{{ID: "a1", Name: "Everyday"}, {ID: "a2", Name: "Savings"}},
		[]domain.TargetAccount{
			{ID: "t1", Name: "Checking", Backend: domain.BackendYNAB},
			{ID: "t2", Name: "Savings", Backend: domain.BackendYNAB},
		},
	)
	require.NoError(t, doc.Assign("a1", "Everyday", doc.TargetAccounts[domain.BackendYNAB][0], fixedNow))
	p := &scripted{answers: []string{"2"}}

	res, err := newMapper(nil, p).Run(context.Background(), doc, domain.BackendYNAB)

	require.NoError(t, err)
	assert.Equal(t, Result{Mapped: 1, AlreadyMapped: 1}, res)
	require.Len(t, p.questions, 1)
	assert.Equal(t, "a2", p.questions[0].Source.ID)
	assert.True(t, p.questions[0].Mapped["t1"])
}

func TestRun_RejectsMappedTargetAndReprompts(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{{ID: "a1", Name: "Everyday"}, {ID: "a2", Name: "Savings"}},
		[]domain.TargetAccount{
			{ID: "t1", Name: "Checking", Backend: domain.BackendYNAB},
			{ID: "t2", Name: "Savings", Backend: domain.BackendYNAB},
		},
	)
	require.NoError(t, doc.Assign("a1", "Everyday", doc.TargetAccounts[domain.BackendYNAB][0], fixedNow))
	p := &scripted{answers: []string{"1", "7", "2"}}

	res, err := newMapper(nil, p).Run(context.Background(), doc, domain.BackendYNAB)

	require.NoError(t, err)
	assert.Equal(t, 1, res.Mapped)
	require.Len(t, p.questions, 3)
	assert.Contains(t, p.questions[1].Problem, "already mapped")
	assert.Contains(t, p.questions[2].Problem, "not between")
	assert.Equal(t, "t2", doc.Entry("a2").Link(domain.BackendYNAB).AccountID)
	assert.Equal(t, "t1", doc.Entry("a1").Link(domain.BackendYNAB).AccountID)
}

func TestRun_GivesUpAfterMaxAttempts(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{{ID: "a1", Name: "Everyday"}},
		[]domain.TargetAccount{{ID: "t1", Name: "Checking", Backend: domain.BackendYNAB}},
	)
	p := &scripted{answers: []string{"x", "x", "x", "1"}}

	res, err := newMapper(nil, p).Run(context.Background(), doc, domain.BackendYNAB)

	require.NoError(t, err)
	assert.Equal(t, Result{Unmapped: 1}, res)
	assert.Len(t, p.questions, DefaultMaxAttempts)
	assert.Nil(t, doc.Entry("a1"))
}

func TestRun_ClosedTargetsAreNotOffered(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{{ID: "a1", Name: "Everyday"}},
		[]domain.TargetAccount{
			{ID: "t1", Name: "Old", Backend: domain.BackendYNAB, Closed: true},
			{ID: "t2", Name: "Everyday", Backend: domain.BackendYNAB},
		},
	)
	p := &scripted{answers: []string{"1"}}

	_, err := newMapper(nil, p).Run(context.Background(), doc, domain.BackendYNAB)

	require.NoError(t, err)
	require.Len(t, p.questions[0].Candidates, 1)
	assert.Equal(t, "t2", doc.Entry("a1").Link(domain.BackendYNAB).AccountID)
}

func TestRun_NoCandidatesLeft(t *testing.T) {
	doc := newDoc([]domain.SourceAccount{{ID: "a1", Name: "Everyday"}}, nil)
	p := &scripted{}

	res, err := newMapper(nil, p).Run(context.Background(), doc, domain.BackendActual)

	require.NoError(t, err)
	assert.Equal(t, Result{Unmapped: 1}, res)
	assert.Empty(t, p.questions)
}

func TestRun_PrompterError(t *testing.T) {
	doc := newDoc(
		[]domain.SourceAccount{{ID: "a1", Name: "Everyday"}},
		[]domain.TargetAccount{{ID: "t1", Name: "Checking", Backend: domain.BackendYNAB}},
	)

	_, err := newMapper(nil, &scripted{err: errors.New("tty gone")}).Run(context.Background(), doc, domain.BackendYNAB)

	assert.ErrorContains(t, err, "tty gone")
}

func TestTerminalPrompter_MarksMappedAccounts(t *testing.T) {
	out := &bytes.Buffer{}
	p := NewTerminalPrompter(strings.NewReader(""), out)

	answer, err := p.Choose(context.Background(), Question{
		Source:     domain.SourceAccount{Name: "Everyday", Connection: "ANZ"},
		Backend:    domain.BackendYNAB,
		Candidates: []domain.TargetAccount{{ID: "t1", Name: "Checking"}, {ID: "t2", Name: "Savings"}},
		Mapped:     map[string]bool{"t1": true},
	})

	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Contains(t, out.String(), "Source account: Everyday (Connection: ANZ)")
	assert.Contains(t, out.String(), "1. Checking (Already Mapped)")
	assert.Contains(t, out.String(), "2. Savings\n")
	assert.NotContains(t, out.String(), "Suggested match")
}

func TestTerminalPrompter_Confirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}

	for _, tt := range tests {
		p := NewTerminalPrompter(strings.NewReader(tt.input), &bytes.Buffer{})
		got, err := p.Confirm(context.Background(), "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}
