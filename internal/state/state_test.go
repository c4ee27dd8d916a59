package state

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/logger"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleDocument() *Document {
	doc := NewDocument()
	doc.SourceAccounts = []domain.SourceAccount{
		{ID: "a1", Name: "Everyday", Connection: "ANZ", FirstSeenAt: now},
		{ID: "a2", Name: "Savings", Connection: "ANZ", FirstSeenAt: now},
	}
	doc.TargetAccounts[domain.BackendYNAB] = []domain.TargetAccount{
		{ID: "t1", Name: "Checking", Backend: domain.BackendYNAB, OnBudget: true, FirstSeenAt: now},
		{ID: "t2", Name: "Old", Backend: domain.BackendYNAB, Closed: true, FirstSeenAt: now},
		{ID: "t3", Name: "Savings", Backend: domain.BackendYNAB, FirstSeenAt: now},
	}
	doc.TargetAccounts[domain.BackendActual] = []domain.TargetAccount{
		{ID: "x1", Name: "Everyday", Backend: domain.BackendActual, OnBudget: true, FirstSeenAt: now},
	}
	return doc
}

func target(doc *Document, b domain.Backend, id string) domain.TargetAccount {
	t, _ := doc.Target(b, id)
	if t.ID == "" {
		return domain.TargetAccount{ID: id, Backend: b}
	}
	return t
}

func TestAssign(t *testing.T) {
	doc := sampleDocument()

	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendYNAB, "t1"), now))
	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendActual, "x1"), now))

	e := doc.Entry("a1")
	require.NotNil(t, e)
	assert.Equal(t, "t1", e.Link(domain.BackendYNAB).AccountID)
	assert.Equal(t, "Checking", e.Link(domain.BackendYNAB).AccountName)
	assert.Equal(t, "x1", e.Link(domain.BackendActual).AccountID)
	assert.Len(t, doc.Mapping, 1)
}

func TestAssign_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		source string
		target domain.TargetAccount
	}{
		{"unknown target", "a2", domain.TargetAccount{ID: "nope", Backend: domain.BackendYNAB}},
		{"closed target", "a2", domain.TargetAccount{ID: "t2", Backend: domain.BackendYNAB}},
		{"target owned by another source", "a2", domain.TargetAccount{ID: "t1", Backend: domain.BackendYNAB}},
		{"empty source", "", domain.TargetAccount{ID: "t3", Backend: domain.BackendYNAB}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := sampleDocument()
			require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendYNAB, "t1"), now))

			err := doc.Assign(tt.source, "x", tt.target, now)

			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
			assert.Nil(t, doc.Entry("a2"))
		})
	}
}

func TestAssign_SameTargetKeepsCheckpoint(t *testing.T) {
	doc := sampleDocument()
	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendYNAB, "t1"), now))
	synced := now.Add(time.Hour)
	doc.Entry("a1").Links[domain.BackendYNAB].SyncedAt = &synced

	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendYNAB, "t1"), now.Add(2*time.Hour)))

	assert.Equal(t, synced, *doc.Entry("a1").Link(domain.BackendYNAB).SyncedAt)
}

func TestReconcileRemovals(t *testing.T) {
	doc := sampleDocument()
	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendYNAB, "t1"), now))
	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendActual, "x1"), now))
	require.NoError(t, doc.Assign("a2", "Savings", target(doc, domain.BackendYNAB, "t3"), now))

	v := ReconcileRemovals(doc, []string{"a2"}, map[domain.Backend][]string{
		domain.BackendYNAB: {"t1"},
	})

	assert.Equal(t, 2, v.Len())
	require.Len(t, v.RemovedEntries, 1)
	assert.Equal(t, "a2", v.RemovedEntries[0].SourceID)
	require.Len(t, v.ClearedLinks, 1)
	assert.Equal(t, Vacancy{SourceID: "a1", SourceName: "Everyday", Backend: domain.BackendYNAB, TargetID: "t1", TargetName: "Checking"}, v.ClearedLinks[0])

	assert.Nil(t, doc.Entry("a2"))
	e := doc.Entry("a1")
	require.NotNil(t, e)
	assert.Nil(t, e.Link(domain.BackendYNAB))
	assert.Equal(t, "x1", e.Link(domain.BackendActual).AccountID)
}

func TestReconcileRemovals_NothingRemoved(t *testing.T) {
	doc := sampleDocument()
	v := ReconcileRemovals(doc, nil, nil)
	assert.True(t, v.Empty())
}

func TestStore_MissingFileLoadsEmpty(t *testing.T) {
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "state.json")))
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(buf))

	doc, err := store.Load(ctx)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No state document yet")
	assert.Empty(t, doc.SourceAccounts)
	assert.Empty(t, doc.Mapping)
	assert.NotNil(t, doc.TargetAccounts[domain.BackendYNAB])
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	store := NewStore(NewFileBackend(path))

	_, err := store.Load(context.Background())

	require.Error(t, err)
	assert.True(t, domain.IsCorruptState(err))

	raw, _ := os.ReadFile(path)
	assert.Equal(t, "{not json", string(raw), "corrupt file must be left untouched")
}

func TestStore_UnknownBackendIsCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"target_accounts":{"mint":[]}}`), 0o600))

	_, err := NewStore(NewFileBackend(path)).Load(context.Background())

	assert.True(t, domain.IsCorruptState(err))
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	store := NewStore(NewFileBackend(path))

	doc := sampleDocument()
	require.NoError(t, doc.Assign("a1", "Everyday", target(doc, domain.BackendYNAB, "t1"), now))
	synced := now.Add(time.Hour)
	doc.Entry("a1").Links[domain.BackendYNAB].SyncedAt = &synced

	require.NoError(t, store.Save(ctx, doc))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, doc, loaded)

	require.NoError(t, store.Save(ctx, loaded))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	assert.Contains(t, string(first), `"source_accounts"`)
	assert.Contains(t, string(first), `"target_accounts"`)
	assert.Contains(t, string(first), `"mapping"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSession_SerializesWriters(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "state.json")))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := store.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer sess.Close()

			sess.Doc.SourceAccounts = append(sess.Doc.SourceAccounts, domain.SourceAccount{ID: "a"})
			assert.NoError(t, sess.Checkpoint(ctx))
		}()
	}
	wg.Wait()

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.SourceAccounts, 10)
}

func TestSession_BeginHonorsContext(t *testing.T) {
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "state.json")))
	sess, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer sess.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = store.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSession_CloseTwice(t *testing.T) {
	store := NewStore(NewFileBackend(filepath.Join(t.TempDir(), "state.json")))
	sess, err := store.Begin(context.Background())
	require.NoError(t, err)

	sess.Close()
	sess.Close()
	assert.Error(t, sess.Checkpoint(context.Background()))

	again, err := store.Begin(context.Background())
	require.NoError(t, err)
	again.Close()
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantObject string
		wantErr    bool
	}{
		{uri: "gs://bucket/state/sync.json", wantBucket: "bucket", wantObject: "state/sync.json"},
		{uri: "gs://bucket", wantErr: true},
		{uri: "gs://bucket/", wantErr: true},
		{uri: "/tmp/state.json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, object, err := ParseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantObject, object)
		})
	}
}

func TestOpen_LocalPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := Open(context.Background(), "file://"+path)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, path, store.Location())
}
