package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus tracks the purchase lifecycle.
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"
	PurchaseStatusPaid      PurchaseStatus = "paid"
	PurchaseStatusCompleted PurchaseStatus = "completed"
)

// Terminal reports whether the status is a settled success state.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseStatusPaid || s == PurchaseStatusCompleted
}

// Valid reports whether the status is one the ledger accepts.
func (s PurchaseStatus) Valid() bool {
	return s == PurchaseStatusPending || s.Terminal()
}

// PurchaseTypePurchase is the default transaction type of a purchase record.
const PurchaseTypePurchase = "purchase"

// UserRecord is the ledger document stored at users/{userId}. Other fields of
// the document belong to other systems and are left untouched.
type UserRecord struct {
	Tokens       int64                     `json:"tokens"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
	LastPurchase *LastPurchase             `json:"lastPurchase,omitempty"`
	Purchases    map[string]PurchaseRecord `json:"purchases,omitempty"`
}

// LastPurchase is the most-recent-purchase summary.
type LastPurchase struct {
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
	PriceID   string    `json:"priceId,omitempty"`
}

// PurchaseRecord is one entry of users/{userId}/purchases, keyed by transaction key.
type PurchaseRecord struct {
	Tokens        int64          `json:"tokens"`
	Amount        Amount         `json:"amount"`
	Date          time.Time      `json:"date"`
	Status        PurchaseStatus `json:"status"`
	PriceID       string         `json:"priceId,omitempty"`
	CustomerEmail string         `json:"customerEmail,omitempty"`
	Currency      string         `json:"currency"`
	Type          string         `json:"type"`
}

// Amount is a currency amount stored as a JSON number. Decoding accepts a
// number or a quoted string.
type Amount struct {
	decimal.Decimal
}

// NewAmount wraps d.
func NewAmount(d decimal.Decimal) Amount {
	return Amount{Decimal: d}
}

// MarshalJSON encodes the amount without quotes.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.String()), nil
}

// PurchaseMeta describes the purchase that backs a credit.
type PurchaseMeta struct {
	Amount        decimal.Decimal
	Currency      string
	Status        PurchaseStatus
	PriceID       string
	CustomerEmail string
	Type          string
}

// CreditParams holds the inputs for a ledger credit.
type CreditParams struct {
	UserID         string
	Tokens         int64
	TransactionKey string
	Purchase       PurchaseMeta
}

// CreditResult is the outcome of a ledger credit.
type CreditResult struct {
	PreviousBalance int64          `json:"previousTotal"`
	NewBalance      int64          `json:"newTotal"`
	TokensAdded     int64          `json:"tokensAdded"`
	Status          PurchaseStatus `json:"status"`
	// Idempotent is true when the transaction key was already settled and
	// nothing was written.
	Idempotent bool `json:"idempotent"`
}
