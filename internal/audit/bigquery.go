package audit

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/dvloznov/ledger-sync/internal/logger"
)

const (
	DefaultDataset   = "ledger_sync"
	syncRunsTable    = "sync_runs"
	accountSyncTable = "account_syncs"
)

// SyncRunRow is a row of sync_runs.
type SyncRunRow struct {
	RunID   string `bigquery:"run_id"`  // REQUIRED
	Trigger string `bigquery:"trigger"` // REQUIRED

	StartedTS  bigquery.NullTimestamp `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"`
	ErrorMessage string `bigquery:"error_message"` // NULLABLE

	AccountsTotal       int64 `bigquery:"accounts_total"`
	AccountsFailed      int64 `bigquery:"accounts_failed"`
	TransactionsChanged int64 `bigquery:"transactions_changed"`
	TransactionsFailed  int64 `bigquery:"transactions_failed"`
	Adjustments         int64 `bigquery:"adjustments"`
}

// AccountSyncRow is a row of account_syncs.
type AccountSyncRow struct {
	RunID           string `bigquery:"run_id"`            // REQUIRED
	SourceAccountID string `bigquery:"source_account_id"` // REQUIRED
	Backend         string `bigquery:"backend"`           // REQUIRED
	TargetAccountID string `bigquery:"target_account_id"`
	Mode            string `bigquery:"mode"`
	Outcome         string `bigquery:"outcome"`

	Fetched    int64 `bigquery:"fetched"`
	Changed    int64 `bigquery:"changed"`
	Failed     int64 `bigquery:"failed"`
	DurationMS int64 `bigquery:"duration_ms"`

	ErrorMessage string                 `bigquery:"error_message"` // NULLABLE
	RecordedTS   bigquery.NullTimestamp `bigquery:"recorded_ts"`
}

// ToRow converts a run to its table form.
func (r Run) ToRow() *SyncRunRow {
	row := &SyncRunRow{
		RunID:               r.RunID,
		Trigger:             r.Trigger,
		StartedTS:           bigquery.NullTimestamp{Timestamp: r.StartedAt, Valid: !r.StartedAt.IsZero()},
		FinishedTS:          bigquery.NullTimestamp{Timestamp: r.FinishedAt, Valid: !r.FinishedAt.IsZero()},
		Status:              r.Status,
		ErrorMessage:        r.ErrorMessage,
		AccountsTotal:       int64(r.AccountsTotal),
		AccountsFailed:      int64(r.AccountsFailed),
		TransactionsChanged: int64(r.Changed),
		TransactionsFailed:  int64(r.Failed),
		Adjustments:         int64(r.Adjustments),
	}
	return row
}

// ToRun converts a table row back.
func (row *SyncRunRow) ToRun() Run {
	run := Run{
		RunID:          row.RunID,
		Trigger:        row.Trigger,
		Status:         row.Status,
		ErrorMessage:   row.ErrorMessage,
		AccountsTotal:  int(row.AccountsTotal),
		AccountsFailed: int(row.AccountsFailed),
		Changed:        int(row.TransactionsChanged),
		Failed:         int(row.TransactionsFailed),
		Adjustments:    int(row.Adjustments),
	}
	if row.StartedTS.Valid {
		run.StartedAt = row.StartedTS.Timestamp
	}
	if row.FinishedTS.Valid {
		run.FinishedAt = row.FinishedTS.Timestamp
	}
	return run
}

// ToRow converts an account sync to its table form.
func (a AccountSync) ToRow() *AccountSyncRow {
	return &AccountSyncRow{
		RunID:           a.RunID,
		SourceAccountID: a.SourceAccountID,
		Backend:         a.Backend,
		TargetAccountID: a.TargetAccountID,
		Mode:            a.Mode,
		Outcome:         a.Outcome,
		Fetched:         int64(a.Fetched),
		Changed:         int64(a.Changed),
		Failed:          int64(a.Failed),
		DurationMS:      a.Duration.Milliseconds(),
		ErrorMessage:    a.ErrorMessage,
		RecordedTS:      bigquery.NullTimestamp{Timestamp: a.RecordedAt, Valid: !a.RecordedAt.IsZero()},
	}
}

// BigQueryRecorder streams audit rows into a BigQuery dataset. It holds one
// shared client for its lifetime.
type BigQueryRecorder struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewBigQueryRecorder connects to projectID. credentialsFile may be empty to
// use application default credentials.
func NewBigQueryRecorder(ctx context.Context, projectID, datasetID, credentialsFile string) (*BigQueryRecorder, error) {
	if datasetID == "" {
		datasetID = DefaultDataset
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryRecorder: creating client: %w", err)
	}
	return &BigQueryRecorder{client: client, projectID: projectID, datasetID: datasetID}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryRecorder) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// RecordRun inserts a row into sync_runs.
func (r *BigQueryRecorder) RecordRun(ctx context.Context, run Run) error {
	inserter := r.client.DatasetInProject(r.projectID, r.datasetID).Table(syncRunsTable).Inserter()
	if err := inserter.Put(ctx, []*SyncRunRow{run.ToRow()}); err != nil {
		return fmt.Errorf("RecordRun: inserting row: %w", err)
	}
	return nil
}

// RecordAccountSync inserts a row into account_syncs.
func (r *BigQueryRecorder) RecordAccountSync(ctx context.Context, row AccountSync) error {
	inserter := r.client.DatasetInProject(r.projectID, r.datasetID).Table(accountSyncTable).Inserter()
	if err := inserter.Put(ctx, []*AccountSyncRow{row.ToRow()}); err != nil {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("run_id", row.RunID).
			Str("source_account_id", row.SourceAccountID).
			Msg("RecordAccountSync: inserting row")
		return fmt.Errorf("RecordAccountSync: inserting row: %w", err)
	}
	return nil
}

// ListRecent reads the latest runs, newest first.
func (r *BigQueryRecorder) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	q := r.client.Query(fmt.Sprintf(`
		SELECT
			run_id,
			trigger,
			started_ts,
			finished_ts,
			status,
			error_message,
			accounts_total,
			accounts_failed,
			transactions_changed,
			transactions_failed,
			adjustments
		FROM `+"`%s.%s.%s`"+`
		ORDER BY started_ts DESC
		LIMIT @limit
	`, r.projectID, r.datasetID, syncRunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "limit", Value: limit},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListRecent: reading query: %w", err)
	}

	var runs []Run
	for {
		var row SyncRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListRecent: iterating: %w", err)
		}
		runs = append(runs, row.ToRun())
	}
	return runs, nil
}
