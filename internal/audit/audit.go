// Package audit keeps a durable trail of sync runs.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Run statuses.
const (
	StatusRunning = "RUNNING"
	StatusSuccess = "SUCCESS"
	StatusPartial = "PARTIAL"
	StatusFailed  = "FAILED"
)

const maxErrorLen = 2000

// Run summarizes one sync run.
type Run struct {
	RunID      string
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string

	AccountsTotal  int
	AccountsFailed int
	Changed        int
	Failed         int
	Adjustments    int

	ErrorMessage string
}

// AccountSync is the outcome of one (source account, backend) pair in a run.
type AccountSync struct {
	RunID           string
	SourceAccountID string
	Backend         string
	TargetAccountID string
	Mode            string // "import" or "balance"
	Outcome         string
	Fetched         int
	Changed         int
	Failed          int
	Duration        time.Duration
	ErrorMessage    string
	RecordedAt      time.Time
}

// Recorder stores audit rows. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordRun(ctx context.Context, run Run) error
	RecordAccountSync(ctx context.Context, row AccountSync) error
	// ListRecent returns the latest runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]Run, error)
	Close() error
}

// TruncateError shortens an error message to what the audit table keeps.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

// NoOpRecorder discards everything.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordRun(context.Context, Run) error { return nil }
func (NoOpRecorder) RecordAccountSync(context.Context, AccountSync) error { return nil }
func (NoOpRecorder) ListRecent(context.Context, int) ([]Run, error) { return nil, nil }
func (NoOpRecorder) Close() error { return nil }

// MemoryRecorder keeps rows in process memory.
type MemoryRecorder struct {
	mu       sync.Mutex
	runs     []Run
	accounts []AccountSync
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// RecordRun implements Recorder.
func (m *MemoryRecorder) RecordRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// RecordAccountSync implements Recorder.
func (m *MemoryRecorder) RecordAccountSync(_ context.Context, row AccountSync) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, row)
	return nil
}

// ListRecent implements Recorder.
func (m *MemoryRecorder) ListRecent(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := append([]Run(nil), m.runs...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// AccountSyncs returns every recorded account row in insertion order.
func (m *MemoryRecorder) AccountSyncs() []AccountSync {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AccountSync(nil), m.accounts...)
}

// Close implements Recorder.
func (m *MemoryRecorder) Close() error { return nil }
