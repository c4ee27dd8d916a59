// Package actual implements budget.Ledger for Actual Budget through the
// actual-http-api REST bridge. Amounts are exchanged in integer cents.
package actual

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/dvloznov/ledger-sync/internal/budget"
	"github.com/dvloznov/ledger-sync/internal/domain"
)

const service = "actual"

// Client talks to one Actual budget file.
type Client struct {
	baseURL            string
	apiKey             string
	syncID             string
	encryptionPassword string
	http               *http.Client
}

// NewClient creates a client for the budget identified by syncID.
// encryptionPassword may be empty for unencrypted budgets.
func NewClient(baseURL, apiKey, syncID, encryptionPassword string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:            strings.TrimRight(baseURL, "/"),
		apiKey:             apiKey,
		syncID:             syncID,
		encryptionPassword: encryptionPassword,
		http:               hc,
	}
}

// Backend implements budget.Ledger.
func (c *Client) Backend() domain.Backend { return domain.BackendActual }

// Convention implements budget.Ledger. Source amounts are negated on the way
// in.
func (c *Client) Convention() domain.SignConvention { return domain.SignInverted }

type accountJSON struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OffBudget bool   `json:"offbudget"`
	Closed    bool   `json:"closed"`
}

// ListAccounts implements budget.Ledger.
func (c *Client) ListAccounts(ctx context.Context) ([]domain.TargetAccount, error) {
	var body struct {
		Data []accountJSON `json:"data"`
	}
	if err := c.do(ctx, "list accounts", http.MethodGet, c.budgetPath("/accounts"), nil, &body); err != nil {
		return nil, err
	}

	accounts := make([]domain.TargetAccount, 0, len(body.Data))
	for _, a := range body.Data {
		accounts = append(accounts, domain.TargetAccount{
			ID:       a.ID,
			Name:     a.Name,
			Backend:  domain.BackendActual,
			OnBudget: !a.OffBudget,
			Closed:   a.Closed,
		})
	}
	return accounts, nil
}

type transactionJSON struct {
	Account       string `json:"account"`
	Date          string `json:"date"`
	Amount        int64  `json:"amount"`
	PayeeName     string `json:"payee_name,omitempty"`
	ImportedPayee string `json:"imported_payee,omitempty"`
	Notes         string `json:"notes,omitempty"`
	ImportedID    string `json:"imported_id,omitempty"`
	Cleared       bool   `json:"cleared"`
}

func toJSON(tx domain.TargetTransaction) transactionJSON {
	return transactionJSON{
		Account:       tx.AccountID,
		Date:          tx.Date.String(),
		Amount:        budget.MinorUnits(tx.Amount),
		PayeeName:     tx.Payee,
		ImportedPayee: tx.Payee,
		Notes:         tx.Notes,
		ImportedID:    tx.ImportedID,
		Cleared:       tx.Cleared,
	}
}

// ReconcileTransaction implements budget.Ledger. The import endpoint matches
// on imported_id and reports the ids it added or updated; an empty report
// means the transaction was already there.
func (c *Client) ReconcileTransaction(ctx context.Context, tx domain.TargetTransaction) (bool, error) {
	var body struct {
		Data struct {
			Added   []string `json:"added"`
			Updated []string `json:"updated"`
			Errors  []struct {
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"data"`
	}
	payload := map[string]interface{}{"transactions": []transactionJSON{toJSON(tx)}}
	path := c.budgetPath("/accounts/" + url.PathEscape(tx.AccountID) + "/transactions/import")
	if err := c.do(ctx, "reconcile transaction", http.MethodPost, path, payload, &body); err != nil {
		return false, err
	}
	if len(body.Data.Errors) > 0 {
		return false, &domain.UpstreamRequestError{
			Service:   service,
			Operation: "reconcile transaction",
			Err:       fmt.Errorf("import rejected %s: %s", tx.ImportedID, body.Data.Errors[0].Message),
		}
	}
	return len(body.Data.Added)+len(body.Data.Updated) > 0, nil
}

// CreateTransaction implements budget.Ledger.
func (c *Client) CreateTransaction(ctx context.Context, tx domain.TargetTransaction) error {
	payload := map[string]interface{}{"transaction": toJSON(tx)}
	path := c.budgetPath("/accounts/" + url.PathEscape(tx.AccountID) + "/transactions")
	return c.do(ctx, "create transaction", http.MethodPost, path, payload, nil)
}

// GetAccountBalance implements budget.Ledger.
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	var body struct {
		Data int64 `json:"data"`
	}
	path := c.budgetPath("/accounts/" + url.PathEscape(accountID) + "/balance")
	if err := c.do(ctx, "get balance", http.MethodGet, path, nil, &body); err != nil {
		return 0, err
	}
	return body.Data, nil
}

func (c *Client) budgetPath(suffix string) string {
	return "/v1/budgets/" + url.PathEscape(c.syncID) + suffix
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &domain.UpstreamRequestError{Service: service, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	if c.encryptionPassword != "" {
		req.Header.Set("budget-encryption-password", c.encryptionPassword)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.UpstreamRequestError{Service: service, Operation: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &domain.UpstreamRequestError{
			Service:    service,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(snippet))),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamRequestError{Service: service, Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
