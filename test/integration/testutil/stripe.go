//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/provider"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// FakeStripe is an in-memory payment processor. Webhook verification goes
// through the real Stripe signature check.
type FakeStripe struct {
	mu        sync.Mutex
	verifier  *provider.StripeProvider
	secret    string
	sessions  map[string]*domain.SessionInfo
	lineItems map[string][]domain.LineItem
	prices    map[string]*domain.PriceInfo
	created   []domain.CheckoutConfig
	seq       int
}

// NewFakeStripe creates a FakeStripe that accepts payloads signed with secret.
func NewFakeStripe(secret string) *FakeStripe {
	return &FakeStripe{
		verifier:  provider.NewStripeProvider("", secret),
		secret:    secret,
		sessions:  make(map[string]*domain.SessionInfo),
		lineItems: make(map[string][]domain.LineItem),
		prices:    make(map[string]*domain.PriceInfo),
	}
}

// AddPrice registers an active price.
func (f *FakeStripe) AddPrice(p domain.PriceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[p.ID] = &p
}

// AddPaidSession registers a paid session for userID with one line item of price.
func (f *FakeStripe) AddPaidSession(sessionID, userID string, price domain.PriceInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[sessionID] = &domain.SessionInfo{
		ID:            sessionID,
		PaymentStatus: domain.PaymentStatusPaid,
		Metadata:      map[string]string{domain.MetaUserID: userID},
		CustomerEmail: "buyer@test.com",
	}
	f.lineItems[sessionID] = []domain.LineItem{{
		Price:       price,
		AmountTotal: price.UnitAmount,
		Currency:    price.Currency,
		Quantity:    1,
	}}
}

// MarkPaid flips an existing session to paid.
func (f *FakeStripe) MarkPaid(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[sessionID]; ok {
		s.PaymentStatus = domain.PaymentStatusPaid
	}
}

// Created returns the checkout configs seen so far.
func (f *FakeStripe) Created() []domain.CheckoutConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CheckoutConfig(nil), f.created...)
}

func (f *FakeStripe) CreateCheckoutSession(_ context.Context, cfg domain.CheckoutConfig) (*domain.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	price, ok := f.prices[cfg.PriceID]
	if !ok {
		return nil, missing("price", cfg.PriceID)
	}

	f.seq++
	id := fmt.Sprintf("cs_test_%03d", f.seq)
	f.created = append(f.created, cfg)
	f.sessions[id] = &domain.SessionInfo{
		ID:            id,
		PaymentStatus: "unpaid",
		Metadata:      cfg.Metadata,
		CustomerEmail: cfg.CustomerEmail,
	}
	f.lineItems[id] = []domain.LineItem{{
		Price:       *price,
		AmountTotal: price.UnitAmount * cfg.Quantity,
		Currency:    price.Currency,
		Quantity:    cfg.Quantity,
	}}
	return &domain.CheckoutSession{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (f *FakeStripe) RetrieveSession(_ context.Context, sessionID string) (*domain.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, missing("checkout session", sessionID)
	}
	cp := *s
	return &cp, nil
}

func (f *FakeStripe) ListLineItems(_ context.Context, sessionID string) ([]domain.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LineItem(nil), f.lineItems[sessionID]...), nil
}

func (f *FakeStripe) RetrievePrice(_ context.Context, priceID string) (*domain.PriceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.prices[priceID]
	if !ok {
		return nil, missing("price", priceID)
	}
	cp := *p
	return &cp, nil
}

func (f *FakeStripe) VerifyWebhook(payload []byte, sigHeader string) (*domain.WebhookEvent, error) {
	return f.verifier.VerifyWebhook(payload, sigHeader)
}

func (f *FakeStripe) FindOrCreateCustomer(_ context.Context, _, _, userID string) (string, error) {
	return "cus_" + userID, nil
}

// missing mirrors Stripe's 404 for an unknown object.
func missing(kind, id string) error {
	return &stripe.Error{
		Type:           stripe.ErrorTypeInvalidRequest,
		Code:           stripe.ErrorCodeResourceMissing,
		HTTPStatusCode: 404,
		Msg:            fmt.Sprintf("No such %s: '%s'", kind, id),
	}
}

// CheckoutCompletedEvent builds a signed checkout.session.completed event
// and returns the payload with its Stripe-Signature header.
func (f *FakeStripe) CheckoutCompletedEvent(eventID, sessionID, userID, paymentStatus string) ([]byte, string) {
	return f.SignedEvent(eventID, domain.EventCheckoutSessionCompleted, map[string]any{
		"id":             sessionID,
		"object":         "checkout.session",
		"payment_status": paymentStatus,
		"customer_email": "buyer@test.com",
		"metadata":       map[string]string{domain.MetaUserID: userID},
	})
}

// SignedEvent builds a signed event of eventType wrapping object.
func (f *FakeStripe) SignedEvent(eventID, eventType string, object map[string]any) ([]byte, string) {
	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-03-31.basil",
		"created":     time.Now().Unix(),
		"data":        map[string]any{"object": object},
	})
	if err != nil {
		panic(err)
	}
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    f.secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}
