package mapper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// AutoConfirm accepts whatever was suggested and skips accounts without a
// suggestion.
type AutoConfirm struct{}

// Choose implements Prompter.
func (AutoConfirm) Choose(_ context.Context, q Question) (string, error) {
	if q.Suggestion == 0 {
		return "", nil
	}
	return strconv.Itoa(q.Suggestion), nil
}

// Confirm always agrees.
func (AutoConfirm) Confirm(context.Context, string) (bool, error) { return true, nil }

// TerminalPrompter asks on a line-oriented terminal.
type TerminalPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewTerminalPrompter reads answers from in and writes prompts to out.
func NewTerminalPrompter(in io.Reader, out io.Writer) *TerminalPrompter {
	return &TerminalPrompter{in: bufio.NewReader(in), out: out}
}

// Choose implements Prompter. End of input counts as a skip.
func (p *TerminalPrompter) Choose(ctx context.Context, q Question) (string, error) {
	if q.Problem != "" {
		fmt.Fprintf(p.out, "Invalid input: %s\n", q.Problem)
	} else {
		fmt.Fprintf(p.out, "\nSource account: %s (Connection: %s)\n", q.Source.Name, q.Source.Connection)
		fmt.Fprintf(p.out, "Here is a list of %s accounts:\n", q.Backend)
		for i, c := range q.Candidates {
			if q.Mapped[c.ID] {
				fmt.Fprintf(p.out, "%d. %s (Already Mapped)\n", i+1, c.Name)
				continue
			}
			fmt.Fprintf(p.out, "%d. %s\n", i+1, c.Name)
		}
		if q.Suggestion > 0 && q.Suggestion <= len(q.Candidates) {
			fmt.Fprintf(p.out, "Suggested match: %d. %s\n", q.Suggestion, q.Candidates[q.Suggestion-1].Name)
		}
	}

	fmt.Fprint(p.out, "Enter the number corresponding to the best match (or press Enter to skip): ")
	return p.readLine(ctx)
}

// Confirm asks a yes/no question; anything but y or yes is a no.
func (p *TerminalPrompter) Confirm(ctx context.Context, message string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", message)
	answer, err := p.readLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *TerminalPrompter) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}
