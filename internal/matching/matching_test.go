package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

var candidates = []domain.TargetAccount{
	{ID: "t1", Name: "Checking"},
	{ID: "t2", Name: "Everyday Account"},
	{ID: "t3", Name: "Bonus Saver"},
}

func TestValidateIndex(t *testing.T) {
	mapped := map[string]bool{"t3": true}

	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{raw: "1", want: 1},
		{raw: " 2\n", want: 2},
		{raw: "0", wantErr: true},
		{raw: "4", wantErr: true},
		{raw: "3", wantErr: true},
		{raw: "two", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ValidateIndex(tt.raw, candidates, mapped)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeuristic(t *testing.T) {
	h := NewHeuristic()
	ctx := context.Background()

	tests := []struct {
		name   string
		source domain.SourceAccount
		mapped map[string]bool
		want   int
		wantOK bool
	}{
		{
			name:   "similar name wins",
			source: domain.SourceAccount{ID: "a1", Name: "Everyday", Connection: "ANZ"},
			want:   2,
			wantOK: true,
		},
		{
			name:   "case and accents are ignored",
			source: domain.SourceAccount{ID: "a1", Name: "BONUS SAVÉR"},
			want:   3,
			wantOK: true,
		},
		{
			name:   "below threshold",
			source: domain.SourceAccount{ID: "a1", Name: "Visa Platinum", Connection: "Westpac"},
		},
		{
			name:   "mapped candidate is never suggested",
			source: domain.SourceAccount{ID: "a1", Name: "Everyday"},
			mapped: map[string]bool{"t2": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := h.Suggest(ctx, tt.source, candidates, tt.mapped)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeuristic_NoCandidates(t *testing.T) {
	_, ok := NewHeuristic().Suggest(context.Background(), domain.SourceAccount{Name: "Everyday"}, nil, nil)
	assert.False(t, ok)
}

func TestScore(t *testing.T) {
	src := domain.SourceAccount{Name: "Everyday"}

	assert.InDelta(t, 100.0, Score(src, domain.TargetAccount{Name: "everyday"}), 0.001)
	assert.InDelta(t, 12.5, Score(src, domain.TargetAccount{Name: "Checking"}), 0.001)
	assert.Zero(t, Score(src, domain.TargetAccount{Name: ""}))
}

func TestScore_ConnectionKey(t *testing.T) {
	src := domain.SourceAccount{Name: "Everyday", Connection: "ANZ"}

	assert.InDelta(t, 100.0, Score(src, domain.TargetAccount{Name: "ANZ Everyday"}), 0.001)
	assert.InDelta(t, 100.0, Score(src, domain.TargetAccount{Name: "Everyday"}), 0.001)
	assert.Greater(t, Score(src, domain.TargetAccount{Name: "anz everyday"}), Score(domain.SourceAccount{Name: "Everyday"}, domain.TargetAccount{Name: "anz everyday"}))
}

type fakeCompleter struct {
	answer string
	err    error
	delay  time.Duration
	calls  int
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, _, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.answer, f.err
}

func fixed(idx int) Suggester {
	return SuggesterFunc(func(context.Context, domain.SourceAccount, []domain.TargetAccount, map[string]bool) (int, bool) {
		return idx, idx > 0
	})
}

func TestAdvisory(t *testing.T) {
	src := domain.SourceAccount{ID: "a1", Name: "Everyday", Connection: "ANZ"}

	tests := []struct {
		name      string
		completer *fakeCompleter
		mapped    map[string]bool
		want      int
		wantOK    bool
	}{
		{name: "valid answer", completer: &fakeCompleter{answer: "1"}, want: 1, wantOK: true},
		{name: "fenced answer", completer: &fakeCompleter{answer: "```\n3\n```"}, want: 3, wantOK: true},
		{name: "chatty answer", completer: &fakeCompleter{answer: "The best match is 3."}, want: 3, wantOK: true},
		{name: "garbage falls back", completer: &fakeCompleter{answer: "none"}, want: 2, wantOK: true},
		{name: "out of range falls back", completer: &fakeCompleter{answer: "9"}, want: 2, wantOK: true},
		{name: "mapped index falls back", completer: &fakeCompleter{answer: "1"}, mapped: map[string]bool{"t1": true}, want: 2, wantOK: true},
		{name: "error falls back", completer: &fakeCompleter{err: errors.New("quota")}, want: 2, wantOK: true},
		{name: "slow model falls back", completer: &fakeCompleter{answer: "1", delay: 200 * time.Millisecond}, want: 2, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdvisory(tt.completer, fixed(2), 50*time.Millisecond)

			got, ok := a.Suggest(context.Background(), src, candidates, tt.mapped)

			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
			if tt.completer.delay == 0 {
				assert.Equal(t, 1, tt.completer.calls)
			}
		})
	}
}

func TestAdvisory_NoCompleterUsesFallback(t *testing.T) {
	a := NewAdvisory(nil, NewHeuristic(), 0)

	got, ok := a.Suggest(context.Background(), domain.SourceAccount{Name: "Everyday"}, candidates, nil)

	assert.True(t, ok)
	assert.Equal(t, 2, got)
	assert.Equal(t, DefaultAdvisorTimeout, a.Timeout)
}

func TestAdvisory_NoFallback(t *testing.T) {
	a := NewAdvisory(&fakeCompleter{answer: "x"}, nil, time.Second)
	_, ok := a.Suggest(context.Background(), domain.SourceAccount{Name: "Everyday"}, candidates, nil)
	assert.False(t, ok)
}

func TestBuildPrompt_SkipsMappedCandidates(t *testing.T) {
	prompt := BuildPrompt(
		domain.SourceAccount{Name: "Everyday", Connection: "ANZ"},
		candidates,
		map[string]bool{"t2": true},
	)

	assert.Contains(t, prompt, "Name: Everyday")
	assert.Contains(t, prompt, "Connection: ANZ")
	assert.Contains(t, prompt, "1. Checking")
	assert.Contains(t, prompt, "3. Bonus Saver")
	assert.NotContains(t, prompt, "Everyday Account")
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	src := domain.SourceAccount{Name: "x"}

	got, ok := Chain{fixed(0), fixed(9), fixed(3), fixed(1)}.Suggest(ctx, src, candidates, nil)
	assert.True(t, ok)
	assert.Equal(t, 3, got, "out of range suggestions are skipped")

	got, ok = Chain{fixed(3), fixed(1)}.Suggest(ctx, src, candidates, map[string]bool{"t3": true})
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = Chain{}.Suggest(ctx, src, candidates, nil)
	assert.False(t, ok)
}

func TestCleanAnswer(t *testing.T) {
	assert.Equal(t, "12", cleanAnswer(" 12 "))
	assert.Equal(t, "4", cleanAnswer("```json\n4\n```"))
	assert.Equal(t, "nope", cleanAnswer("nope"))
}
