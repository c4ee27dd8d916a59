package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-sync/internal/domain"
	"github.com/dvloznov/ledger-sync/internal/state"

	_ "time/tzdata"
)

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"map", "refresh", "sync", "inspect", "history"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	syncCmd, _, err := cmd.Find([]string{"sync"})
	require.NoError(t, err)
	require.NotNil(t, syncCmd.Flags().Lookup("dry-run"))

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad config", errors.New("missing"))))
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, "", "inspect", "--format", "yaml")

	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

// fakeUpstream serves one Akahu account and one Actual account.
func fakeUpstream(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/accounts", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success":true,"items":[{"_id":"acc_1","name":"Everyday","connection":{"name":"ANZ"}}]}`)
	})
	mux.HandleFunc("/accounts/acc_1/transactions", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items":[],"cursor":{"next":null}}`)
	})
	mux.HandleFunc("/v1/budgets/sync-1/accounts", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[{"id":"x1","name":"Everyday","offbudget":false,"closed":false}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setEnv(t *testing.T, baseURL, statePath string) {
	t.Setenv("LEDGER_SYNC_CONFIG", "")
	t.Setenv("AKAHU_USER_TOKEN", "user")
	t.Setenv("AKAHU_APP_TOKEN", "app")
	t.Setenv("AKAHU_BASE_URL", baseURL)
	t.Setenv("ACTUAL_SERVER_URL", baseURL)
	t.Setenv("ACTUAL_API_KEY", "key")
	t.Setenv("ACTUAL_SYNC_ID", "sync-1")
	t.Setenv("STATE_URI", statePath)
	t.Setenv("YNAB_BEARER_TOKEN", "")
	t.Setenv("YNAB_BUDGET_ID", "")
	t.Setenv("BIGQUERY_PROJECT", "")
	t.Setenv("GEMINI_API_KEY", "")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	return out.String(), err
}

func TestRefreshMapInspectSync(t *testing.T) {
	srv := fakeUpstream(t)
	statePath := filepath.Join(t.TempDir(), "state.json")
	setEnv(t, srv.URL, statePath)

	out, err := run(t, "", "refresh", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Source accounts: 1")
	assert.Contains(t, out, "actual accounts: 1")

	out, err = run(t, "", "map", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "actual: 1 mapped")

	out, err = run(t, "", "inspect", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string         `json:"status"`
		Data   state.Document `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Mapping, 1)
	assert.Equal(t, "x1", resp.Data.Mapping[0].Link(domain.BackendActual).AccountID)

	out, err = run(t, "", "sync", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "[dry run] Synced 1 accounts")

	store := state.NewStore(state.NewFileBackend(statePath))
	doc, err := store.Load(t.Context())
	require.NoError(t, err)
	assert.Nil(t, doc.Mapping[0].Link(domain.BackendActual).SyncedAt, "dry run leaves checkpoints alone")

	out, err = run(t, "", "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No sync runs recorded.")
}

func TestInteractiveMapSkip(t *testing.T) {
	srv := fakeUpstream(t)
	setEnv(t, srv.URL, filepath.Join(t.TempDir(), "state.json"))

	_, err := run(t, "", "refresh", "--yes")
	require.NoError(t, err)

	out, err := run(t, "\n", "map", "--backend", "actual")
	require.NoError(t, err)
	assert.Contains(t, out, "Suggested match: 1. Everyday")
	assert.Contains(t, out, "actual: 0 mapped, 1 skipped")
}
