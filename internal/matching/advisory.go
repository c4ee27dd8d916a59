package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

// DefaultAdvisorTimeout bounds a single model call.
const DefaultAdvisorTimeout = 5 * time.Second

// Completer answers a prompt with free text.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Advisory asks a language model to pick the candidate. Any failure, timeout
// or unusable answer falls through to Fallback.
type Advisory struct {
	Completer Completer
	Fallback  Suggester
	Timeout   time.Duration
}

// NewAdvisory builds an Advisory. A zero timeout means DefaultAdvisorTimeout.
func NewAdvisory(c Completer, fallback Suggester, timeout time.Duration) *Advisory {
	if timeout <= 0 {
		timeout = DefaultAdvisorTimeout
	}
	return &Advisory{Completer: c, Fallback: fallback, Timeout: timeout}
}

// Suggest implements Suggester.
func (a *Advisory) Suggest(ctx context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (int, bool) {
	log := logger.FromContext(ctx).With().Str("source_account_id", source.ID).Logger()

	if a.Completer != nil && hasUnmapped(candidates, mapped) {
		answer, err := a.ask(ctx, source, candidates, mapped)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Advisor unavailable, using fallback")
		default:
			idx, verr := ValidateIndex(cleanAnswer(answer), candidates, mapped)
			if verr == nil {
				return idx, true
			}
			log.Warn().Err(verr).Str("answer", answer).Msg("Advisor answer rejected, using fallback")
		}
	}

	if a.Fallback == nil {
		return 0, false
	}
	return a.Fallback.Suggest(ctx, source, candidates, mapped)
}

type completion struct {
	text string
	err  error
}

func (a *Advisory) ask(ctx context.Context, source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) (string, error) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultAdvisorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan completion, 1)
	go func() {
		text, err := a.Completer.Complete(ctx, systemPrompt, BuildPrompt(source, candidates, mapped))
		done <- completion{text: text, err: err}
	}()

	select {
	case c := <-done:
		return c.text, c.err
	case <-ctx.Done():
		return "", fmt.Errorf("advisor: %w", ctx.Err())
	}
}

func hasUnmapped(candidates []domain.TargetAccount, mapped map[string]bool) bool {
	for _, c := range candidates {
		if !mapped[c.ID] {
			return true
		}
	}
	return false
}

const systemPrompt = "You select a financial account match. Respond strictly with a single number: " +
	"no explanations, no commentary, nothing but the number. Any other output is treated as invalid."

// BuildPrompt lists the unmapped candidates under their 1-based numbers.
func BuildPrompt(source domain.SourceAccount, candidates []domain.TargetAccount, mapped map[string]bool) string {
	var b strings.Builder
	b.WriteString("Match the bank account below with one of the budget accounts. ")
	b.WriteString("Give the number of the best match. Even if you are not certain, make the best choice you can.\n\n")
	b.WriteString("Bank account:\n")
	fmt.Fprintf(&b, "Name: %s\n", source.Name)
	fmt.Fprintf(&b, "Connection: %s\n\n", source.Connection)
	b.WriteString("Budget accounts:\n")
	for i, c := range candidates {
		if mapped[c.ID] {
			continue
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, c.Name)
	}
	b.WriteString("\nReply with the number of the best match:")
	return b.String()
}

// cleanAnswer strips Markdown fences and surrounding text, keeping the first
// run of digits.
func cleanAnswer(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
	if start == -1 {
		return s
	}
	end := start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[start:end]
}
