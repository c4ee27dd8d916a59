package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Transaction is one transaction as reported by the source provider.
// Amount follows the source convention: positive is money in.
type Transaction struct {
	ID           string
	AccountID    string
	Date         time.Time
	Amount       decimal.Decimal
	Description  string
	MerchantName string // empty when the provider has no merchant
}

// Payee prefers the merchant name and falls back to the description.
func (t Transaction) Payee() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Description
}

// TargetTransaction is the shape written into a backend ledger.
// ImportedID is the deduplication key carried over from the source.
type TargetTransaction struct {
	AccountID  string
	Date       civil.Date
	Payee      string
	Amount     decimal.Decimal
	Notes      string
	ImportedID string
	Cleared    bool
}

// SignConvention describes how a backend expects amount signs relative to the source.
type SignConvention int

const (
	// SignPreserved writes amounts exactly as the source reports them.
	SignPreserved SignConvention = iota
	// SignInverted negates source amounts before writing.
	SignInverted
)

// Apply converts a source amount into the backend's convention.
func (c SignConvention) Apply(amount decimal.Decimal) decimal.Decimal {
	if c == SignInverted {
		return amount.Neg()
	}
	return amount
}

// String implements fmt.Stringer.
func (c SignConvention) String() string {
	if c == SignInverted {
		return "inverted"
	}
	return "preserved"
}
