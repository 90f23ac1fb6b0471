package domain

import (
	"github.com/shopspring/decimal"
)

// PaymentStatusPaid is the processor's payment_status for a settled session.
const PaymentStatusPaid = "paid"

// EventCheckoutSessionCompleted is the only webhook event type that credits tokens.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// Session metadata keys written at checkout creation.
const (
	MetaUserID             = "userId"
	MetaCustomerName       = "customer_name"
	MetaCustomerEmail      = "customer_email"
	MetaPriceID            = "price_id"
	MetaSessionID          = "session_id"
	MetaTokens             = "tokens"
	MetaDirectVerification = "direct_verification"
)

// CheckoutConfig describes a checkout session to create.
type CheckoutConfig struct {
	PriceID               string
	Quantity              int64
	SuccessURL            string
	CancelURL             string
	CustomerID            string
	CustomerEmail         string
	Metadata              map[string]string
	PaymentIntentMetadata map[string]string
}

// CheckoutSession is the created session.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SessionInfo is a retrieved checkout session.
type SessionInfo struct {
	ID            string
	PaymentStatus string
	Metadata      map[string]string
	CustomerEmail string
}

// LineItem is one line of a checkout session.
type LineItem struct {
	Price       PriceInfo
	AmountTotal int64
	Currency    string
	Quantity    int64
}

// PriceInfo is a processor price object. UnitAmount is in minor units.
type PriceInfo struct {
	ID         string
	Active     bool
	UnitAmount int64
	Currency   string
	Metadata   map[string]string
}

// UnitAmountMajor returns the unit amount in currency units.
func (p PriceInfo) UnitAmountMajor() decimal.Decimal {
	return decimal.New(p.UnitAmount, -2)
}

// WebhookEvent is a verified processor event. Session is set for checkout.session.* events.
type WebhookEvent struct {
	ID      string
	Type    string
	Session *SessionInfo
}

// CustomerInfo is the optional customer block of a checkout request.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
