package ynab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/domain"
)

var _ budget.Ledger = (*Client)(nil)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "secret", "budget-1", srv.Client())
}

func sampleTx() domain.TargetTransaction {
	return domain.TargetTransaction{
		AccountID:  "acc-y",
		Date:       civil.Date{Year: 2024, Month: 2, Day: 3},
		Payee:      "Countdown",
		Amount:     decimal.RequireFromString("-12.34"),
		Notes:      "Akahu transaction: POS COUNTDOWN",
		ImportedID: "trans_1",
		Cleared:    true,
	}
}

func TestListAccounts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/budgets/budget-1/accounts", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		io.WriteString(w, `{"data":{"accounts":[
			{"id":"y1","name":"Checking","on_budget":true,"closed":false,"deleted":false},
			{"id":"y2","name":"KiwiSaver","on_budget":false,"closed":false,"deleted":false},
			{"id":"y3","name":"Gone","on_budget":true,"closed":true,"deleted":true}
		]}}`)
	})

	accounts, err := c.ListAccounts(context.Background())

	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, domain.TargetAccount{ID: "y1", Name: "Checking", Backend: domain.BackendYNAB, OnBudget: true}, accounts[0])
	assert.True(t, accounts[1].Tracking())
}

func TestReconcileTransaction(t *testing.T) {
	var got map[string]transactionJSON
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/budgets/budget-1/transactions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"data":{"transaction_ids":["new-1"],"duplicate_import_ids":[]}}`)
	})

	changed, err := c.ReconcileTransaction(context.Background(), sampleTx())

	require.NoError(t, err)
	assert.True(t, changed)
	tx := got["transaction"]
	assert.Equal(t, int64(-12340), tx.Amount)
	assert.Equal(t, "2024-02-03", tx.Date)
	assert.Equal(t, "trans_1", tx.ImportID)
	assert.Equal(t, "cleared", tx.Cleared)
	assert.Equal(t, "Countdown", tx.PayeeName)
}

func TestReconcileTransaction_Duplicate(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"reported duplicate", http.StatusCreated, `{"data":{"transaction_ids":[],"duplicate_import_ids":["trans_1"]}}`},
		{"conflict", http.StatusConflict, `{"error":{"id":"409","name":"conflict"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			changed, err := c.ReconcileTransaction(context.Background(), sampleTx())

			require.NoError(t, err)
			assert.False(t, changed)
		})
	}
}

func TestReconcileTransaction_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.ReconcileTransaction(context.Background(), sampleTx())

	assert.True(t, domain.IsUpstream(err))
}

func TestCreateTransaction_LongImportID(t *testing.T) {
	var sent []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Transaction transactionJSON `json:"transaction"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sent = append(sent, body.Transaction.ImportID)
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"data":{}}`)
	})
	tx := sampleTx()
	tx.ImportedID = "adjustment_2024-02-03T04:05:06.123456789Z"

	require.NoError(t, c.CreateTransaction(context.Background(), tx))
	require.NoError(t, c.CreateTransaction(context.Background(), tx))

	require.Len(t, sent, 2)
	assert.NotEmpty(t, sent[0])
	assert.LessOrEqual(t, len(sent[0]), maxImportIDLen)
	assert.Equal(t, sent[0], sent[1])
}

func TestImportID(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		same bool
	}{
		{name: "short ids pass through", a: "txn_abc", b: "txn_abc", same: true},
		{name: "long ids are stable", a: strings.Repeat("x", 50), b: strings.Repeat("x", 50), same: true},
		{name: "distinct long ids differ", a: "adjustment_2024-02-03T04:05:06.1Z" + "aaaaa", b: "adjustment_2024-02-03T04:05:06.1Z" + "bbbbb", same: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := ImportID(tt.a), ImportID(tt.b)
			assert.LessOrEqual(t, len(a), maxImportIDLen)
			assert.Equal(t, tt.same, a == b)
		})
	}
	assert.Equal(t, "txn_abc", ImportID("txn_abc"))
}

func TestGetAccountBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/budgets/budget-1/accounts/y2", r.URL.Path)
		io.WriteString(w, `{"data":{"account":{"id":"y2","balance":1234560}}}`)
	})

	cents, err := c.GetAccountBalance(context.Background(), "y2")

	require.NoError(t, err)
	assert.Equal(t, int64(123456), cents)
}

func TestConversions(t *testing.T) {
	assert.Equal(t, int64(-12340), Milliunits(decimal.RequireFromString("-12.34")))
	assert.Equal(t, int64(-1234), MilliunitsToCents(-12340))
	assert.Equal(t, domain.SignPreserved, (&Client{}).Convention())
}
