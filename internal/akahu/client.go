// Package akahu is a client for the Akahu bank-aggregation API.
package akahu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/ledger-sync/internal/domain"
)

// DefaultBaseURL is the production API root.
const DefaultBaseURL = "https://api.akahu.io/v1"

const service = "akahu"

// Client talks to Akahu with a user token and an app token.
type Client struct {
	baseURL   string
	userToken string
	appToken  string
	http      *http.Client
}

// NewClient creates a client. An empty baseURL selects DefaultBaseURL and a
// nil http client selects http.DefaultClient.
func NewClient(baseURL, userToken, appToken string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userToken: userToken,
		appToken:  appToken,
		http:      hc,
	}
}

// Page is one page of transactions. NextCursor is empty on the last page.
type Page struct {
	Transactions []domain.Transaction
	NextCursor   string
}

type accountJSON struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Connection struct {
		Name string `json:"name"`
	} `json:"connection"`
	Balance *struct {
		Current decimal.Decimal `json:"current"`
	} `json:"balance"`
}

// TransactionJSON is the wire form of an Akahu transaction.
type TransactionJSON struct {
	ID          string          `json:"_id"`
	Account     string          `json:"_account"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Merchant    *struct {
		Name string `json:"name"`
	} `json:"merchant,omitempty"`
}

// ToDomain converts the wire form.
func (t TransactionJSON) ToDomain() domain.Transaction {
	tx := domain.Transaction{
		ID:          t.ID,
		AccountID:   t.Account,
		Date:        t.Date,
		Amount:      t.Amount,
		Description: t.Description,
	}
	if t.Merchant != nil {
		tx.MerchantName = t.Merchant.Name
	}
	return tx
}

// ParseTransaction decodes one transaction object.
func ParseTransaction(raw []byte) (domain.Transaction, error) {
	var t TransactionJSON
	if err := json.Unmarshal(raw, &t); err != nil {
		return domain.Transaction{}, fmt.Errorf("ParseTransaction: %w", err)
	}
	if t.ID == "" || t.Account == "" {
		return domain.Transaction{}, &domain.ValidationError{Field: "transaction", Reason: "missing _id or _account"}
	}
	return t.ToDomain(), nil
}

// ListAccounts returns every account the user has connected.
func (c *Client) ListAccounts(ctx context.Context) ([]domain.SourceAccount, error) {
	var body struct {
		Items []accountJSON `json:"items"`
	}
	if err := c.get(ctx, "list accounts", "/accounts", nil, &body); err != nil {
		return nil, err
	}

	accounts := make([]domain.SourceAccount, 0, len(body.Items))
	for _, a := range body.Items {
		accounts = append(accounts, domain.SourceAccount{
			ID:         a.ID,
			Name:       a.Name,
			Connection: a.Connection.Name,
		})
	}
	return accounts, nil
}

// FetchTransactionsPage returns transactions posted at or after start. An
// empty cursor requests the first page.
func (c *Client) FetchTransactionsPage(ctx context.Context, accountID string, start time.Time, cursor string) (Page, error) {
	q := url.Values{}
	q.Set("start", start.UTC().Format(time.RFC3339))
	if cursor != "" {
		q.Set("cursor", cursor)
	}

	var body struct {
		Items  []TransactionJSON `json:"items"`
		Cursor *struct {
			Next *string `json:"next"`
		} `json:"cursor"`
	}
	path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
	if err := c.get(ctx, "fetch transactions", path, q, &body); err != nil {
		return Page{}, err
	}

	page := Page{Transactions: make([]domain.Transaction, 0, len(body.Items))}
	for _, t := range body.Items {
		tx := t.ToDomain()
		if tx.AccountID == "" {
			tx.AccountID = accountID
		}
		page.Transactions = append(page.Transactions, tx)
	}
	if body.Cursor != nil && body.Cursor.Next != nil {
		page.NextCursor = *body.Cursor.Next
	}
	return page, nil
}

// FetchAccountBalance returns the current balance in major units.
func (c *Client) FetchAccountBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var body struct {
		Item accountJSON `json:"item"`
	}
	if err := c.get(ctx, "fetch balance", "/accounts/"+url.PathEscape(accountID), nil, &body); err != nil {
		return decimal.Zero, err
	}
	if body.Item.Balance == nil {
		return decimal.Zero, &domain.UpstreamRequestError{
			Service:   service,
			Operation: "fetch balance",
			Err:       fmt.Errorf("account %s has no balance", accountID),
		}
	}
	return body.Item.Balance.Current, nil
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &domain.UpstreamRequestError{Service: service, Operation: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.userToken)
	req.Header.Set("X-Akahu-ID", c.appToken)

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

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.UpstreamRequestError{Service: service, Operation: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
