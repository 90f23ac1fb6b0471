package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/decyphers/platform/internal/domain"
)

// ErrStripeNotConfigured is returned when no secret key is set.
var ErrStripeNotConfigured = domain.ErrNotConfigured("stripe secret key")

// StripeProvider wraps the Stripe API operations the payment flows need.
// Each instance carries its own key, so nothing touches stripe.Key.
type StripeProvider struct {
	configured    bool
	webhookSecret string
	sessions      *checkoutsession.Client
	prices        *price.Client
	customers     *customer.Client
}

// NewStripeProvider creates a provider against the live Stripe API.
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	return NewStripeProviderWithBackend(stripe.GetBackend(stripe.APIBackend), secretKey, webhookSecret)
}

// NewStripeProviderWithBackend creates a provider on an explicit backend.
func NewStripeProviderWithBackend(backend stripe.Backend, secretKey, webhookSecret string) *StripeProvider {
	return &StripeProvider{
		configured:    secretKey != "",
		webhookSecret: webhookSecret,
		sessions:      &checkoutsession.Client{B: backend, Key: secretKey},
		prices:        &price.Client{B: backend, Key: secretKey},
		customers:     &customer.Client{B: backend, Key: secretKey},
	}
}

// CreateCheckoutSession creates a one-off card payment session for a single price.
func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, cfg domain.CheckoutConfig) (*domain.CheckoutSession, error) {
	if !s.configured {
		return nil, ErrStripeNotConfigured
	}

	quantity := cfg.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(cfg.PriceID), Quantity: stripe.Int64(quantity)},
		},
		SuccessURL: stripe.String(cfg.SuccessURL),
		CancelURL:  stripe.String(cfg.CancelURL),
	}
	params.Context = ctx
	for k, v := range cfg.Metadata {
		params.AddMetadata(k, v)
	}
	if len(cfg.PaymentIntentMetadata) > 0 {
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: cfg.PaymentIntentMetadata,
		}
	}
	switch {
	case cfg.CustomerID != "":
		params.Customer = stripe.String(cfg.CustomerID)
	case cfg.CustomerEmail != "":
		params.CustomerEmail = stripe.String(cfg.CustomerEmail)
		params.CustomerCreation = stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways))
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &domain.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// RetrieveSession fetches a checkout session by id.
func (s *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (*domain.SessionInfo, error) {
	if !s.configured {
		return nil, ErrStripeNotConfigured
	}
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := s.sessions.Get(sessionID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
	}
	return toSessionInfo(sess), nil
}

// ListLineItems returns the line items of a checkout session with their prices.
func (s *StripeProvider) ListLineItems(ctx context.Context, sessionID string) ([]domain.LineItem, error) {
	if !s.configured {
		return nil, ErrStripeNotConfigured
	}
	params := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(sessionID)}
	params.Context = ctx

	var items []domain.LineItem
	iter := s.sessions.ListLineItems(params)
	for iter.Next() {
		li := iter.LineItem()
		item := domain.LineItem{
			AmountTotal: li.AmountTotal,
			Currency:    string(li.Currency),
			Quantity:    li.Quantity,
		}
		if li.Price != nil {
			item.Price = toPriceInfo(li.Price)
		}
		items = append(items, item)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list line items %s: %w", sessionID, err)
	}
	return items, nil
}

// RetrievePrice fetches a price by id.
func (s *StripeProvider) RetrievePrice(ctx context.Context, priceID string) (*domain.PriceInfo, error) {
	if !s.configured {
		return nil, ErrStripeNotConfigured
	}
	params := &stripe.PriceParams{}
	params.Context = ctx

	p, err := s.prices.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve price %s: %w", priceID, err)
	}
	info := toPriceInfo(p)
	return &info, nil
}

// FindOrCreateCustomer returns the id of the first customer with the given
// email, updating its name, or creates one tagged with the user id.
func (s *StripeProvider) FindOrCreateCustomer(ctx context.Context, name, email, userID string) (string, error) {
	if !s.configured {
		return "", ErrStripeNotConfigured
	}

	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Context = ctx
	listParams.Limit = stripe.Int64(1)
	iter := s.customers.List(listParams)
	if iter.Next() {
		c := iter.Customer()
		if name != "" && c.Name != name {
			upd := &stripe.CustomerParams{Name: stripe.String(name)}
			upd.Context = ctx
			if _, err := s.customers.Update(c.ID, upd); err != nil {
				return "", fmt.Errorf("update customer %s: %w", c.ID, err)
			}
		}
		return c.ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list customers: %w", err)
	}

	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx
	params.AddMetadata(domain.MetaUserID, userID)
	c, err := s.customers.New(params)
	if err != nil {
		return "", fmt.Errorf("create customer: %w", err)
	}
	return c.ID, nil
}

// VerifyWebhook checks the Stripe-Signature header and decodes the event.
// Any failure is an InvalidSignature error.
func (s *StripeProvider) VerifyWebhook(payload []byte, sigHeader string) (*domain.WebhookEvent, error) {
	if s.webhookSecret == "" {
		return nil, domain.ErrNotConfigured("stripe webhook secret")
	}
	if sigHeader == "" {
		return nil, domain.ErrInvalidSignature(errors.New("missing Stripe-Signature header"))
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, domain.ErrInvalidSignature(err)
	}

	out := &domain.WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil && len(event.Data.Raw) > 0 && isCheckoutSessionEvent(out.Type) {
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session in event %s: %w", event.ID, err)
		}
		out.Session = toSessionInfo(&sess)
	}
	return out, nil
}

func isCheckoutSessionEvent(eventType string) bool {
	const prefix = "checkout.session."
	return len(eventType) > len(prefix) && eventType[:len(prefix)] == prefix
}

func toSessionInfo(sess *stripe.CheckoutSession) *domain.SessionInfo {
	info := &domain.SessionInfo{
		ID:            sess.ID,
		PaymentStatus: string(sess.PaymentStatus),
		Metadata:      sess.Metadata,
		CustomerEmail: sess.CustomerEmail,
	}
	if info.CustomerEmail == "" && sess.CustomerDetails != nil {
		info.CustomerEmail = sess.CustomerDetails.Email
	}
	if info.Metadata == nil {
		info.Metadata = map[string]string{}
	}
	return info
}

func toPriceInfo(p *stripe.Price) domain.PriceInfo {
	return domain.PriceInfo{
		ID:         p.ID,
		Active:     p.Active,
		UnitAmount: p.UnitAmount,
		Currency:   string(p.Currency),
		Metadata:   p.Metadata,
	}
}
