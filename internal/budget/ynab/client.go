// Package ynab implements budget.Ledger on the YNAB REST API. Amounts are
// exchanged in milliunits.
package ynab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.ynab.com/v1"

const (
	service        = "ynab"
	maxImportIDLen = 36
	maxMemoLen     = 200
	maxPayeeLen    = 200
)

// Client talks to one YNAB budget.
type Client struct {
	baseURL  string
	token    string
	budgetID string
	http     *http.Client
}

// NewClient creates a client for budgetID. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL, token, budgetID string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		budgetID: budgetID,
		http:     hc,
	}
}

// Backend implements budget.Ledger.
func (c *Client) Backend() domain.Backend { return domain.BackendYNAB }

// Convention implements budget.Ledger. YNAB uses positive amounts for
// inflows, as the source does.
func (c *Client) Convention() domain.SignConvention { return domain.SignPreserved }

type accountJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OnBudget bool   `json:"on_budget"`
	Closed   bool   `json:"closed"`
	Deleted  bool   `json:"deleted"`
	Balance  int64  `json:"balance"`
}

// ListAccounts implements budget.Ledger. Deleted accounts are left out.
func (c *Client) ListAccounts(ctx context.Context) ([]domain.TargetAccount, error) {
	var body struct {
		Data struct {
			Accounts []accountJSON `json:"accounts"`
		} `json:"data"`
	}
	if err := c.do(ctx, "list accounts", http.MethodGet, c.budgetPath("/accounts"), nil, &body); err != nil {
		return nil, err
	}

	accounts := make([]domain.TargetAccount, 0, len(body.Data.Accounts))
	for _, a := range body.Data.Accounts {
		if a.Deleted {
			continue
		}
		accounts = append(accounts, domain.TargetAccount{
			ID:       a.ID,
			Name:     a.Name,
			Backend:  domain.BackendYNAB,
			OnBudget: a.OnBudget,
			Closed:   a.Closed,
		})
	}
	return accounts, nil
}

type transactionJSON struct {
	AccountID string `json:"account_id"`
	Date      string `json:"date"`
	Amount    int64  `json:"amount"`
	PayeeName string `json:"payee_name,omitempty"`
	Memo      string `json:"memo,omitempty"`
	Cleared   string `json:"cleared"`
	Approved  bool   `json:"approved"`
	ImportID  string `json:"import_id,omitempty"`
}

type saveResponse struct {
	Data struct {
		TransactionIDs     []string `json:"transaction_ids"`
		DuplicateImportIDs []string `json:"duplicate_import_ids"`
	} `json:"data"`
}

// ReconcileTransaction implements budget.Ledger. YNAB deduplicates on
// import_id: a duplicate is reported back and nothing is written.
func (c *Client) ReconcileTransaction(ctx context.Context, tx domain.TargetTransaction) (bool, error) {
	var body saveResponse
	err := c.do(ctx, "reconcile transaction", http.MethodPost, c.budgetPath("/transactions"),
		map[string]interface{}{"transaction": toJSON(tx)}, &body)

	if err != nil {
		var upstream *domain.UpstreamRequestError
		if errors.As(err, &upstream) && upstream.StatusCode == http.StatusConflict {
			return false, nil
		}
		return false, err
	}
	return len(body.Data.DuplicateImportIDs) == 0, nil
}

// CreateTransaction implements budget.Ledger.
func (c *Client) CreateTransaction(ctx context.Context, tx domain.TargetTransaction) error {
	return c.do(ctx, "create transaction", http.MethodPost, c.budgetPath("/transactions"),
		map[string]interface{}{"transaction": toJSON(tx)}, nil)
}

// GetAccountBalance implements budget.Ledger.
func (c *Client) GetAccountBalance(ctx context.Context, accountID string) (int64, error) {
	var body struct {
		Data struct {
			Account accountJSON `json:"account"`
		} `json:"data"`
	}
	if err := c.do(ctx, "get balance", http.MethodGet, c.budgetPath("/accounts/"+url.PathEscape(accountID)), nil, &body); err != nil {
		return 0, err
	}
	return MilliunitsToCents(body.Data.Account.Balance), nil
}

// Milliunits converts a major-unit amount.
func Milliunits(amount decimal.Decimal) int64 {
	return amount.Shift(3).Round(0).IntPart()
}

// MilliunitsToCents converts milliunits to integer cents.
func MilliunitsToCents(m int64) int64 {
	return decimal.New(m, -1).Round(0).IntPart()
}

func toJSON(tx domain.TargetTransaction) transactionJSON {
	cleared := "uncleared"
	if tx.Cleared {
		cleared = "cleared"
	}
	out := transactionJSON{
		AccountID: tx.AccountID,
		Date:      tx.Date.String(),
		Amount:    Milliunits(tx.Amount),
		PayeeName: truncate(tx.Payee, maxPayeeLen),
		Memo:      truncate(tx.Notes, maxMemoLen),
		Cleared:   cleared,
		Approved:  true,
	}
	out.ImportID = ImportID(tx.ImportedID)
	return out
}

// importIDSpace namespaces the derived ids of ImportID.
var importIDSpace = uuid.MustParse("5d0c3f0e-8a51-4b8e-9c39-2f6b1a7e4d20")

// ImportID returns id unchanged when YNAB accepts its length, otherwise a
// name-based UUID of it. The mapping is stable so retries still deduplicate.
func ImportID(id string) string {
	if len(id) <= maxImportIDLen {
		return id
	}
	return uuid.NewSHA1(importIDSpace, []byte(id)).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func (c *Client) budgetPath(suffix string) string {
	return "/budgets/" + url.PathEscape(c.budgetID) + suffix
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
	req.Header.Set("Authorization", "Bearer "+c.token)
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
