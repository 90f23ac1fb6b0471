package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/guard"
	"github.com/decyphers/platform/internal/pricing"
)

// PaymentProcessor is the subset of the payment provider the flows use.
type PaymentProcessor interface {
	CreateCheckoutSession(ctx context.Context, cfg domain.CheckoutConfig) (*domain.CheckoutSession, error)
	RetrieveSession(ctx context.Context, sessionID string) (*domain.SessionInfo, error)
	ListLineItems(ctx context.Context, sessionID string) ([]domain.LineItem, error)
	RetrievePrice(ctx context.Context, priceID string) (*domain.PriceInfo, error)
	VerifyWebhook(payload []byte, sigHeader string) (*domain.WebhookEvent, error)
	FindOrCreateCustomer(ctx context.Context, name, email, userID string) (string, error)
}

// Ledger applies credits.
type Ledger interface {
	ApplyCredit(ctx context.Context, p domain.CreditParams) (*domain.CreditResult, error)
}

// PriceResolver maps a price to a token count.
type PriceResolver interface {
	Resolve(priceKey string, metadata map[string]string, unitAmount decimal.Decimal) (pricing.Resolution, error)
}

const processorCircuit = "payment_processor"

// PaymentService implements checkout creation and the three crediting entry
// points: synchronous session verification, webhook, and direct charge.
type PaymentService struct {
	processor   PaymentProcessor
	ledger      Ledger
	resolver    PriceResolver
	breaker     *guard.CircuitBreaker
	frontendURL string
	logger      *slog.Logger
}

// NewPaymentService creates a PaymentService. breaker may be nil.
func NewPaymentService(
	processor PaymentProcessor,
	ledger Ledger,
	resolver PriceResolver,
	breaker *guard.CircuitBreaker,
	frontendURL string,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		processor:   processor,
		ledger:      ledger,
		resolver:    resolver,
		breaker:     breaker,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// CheckoutInput is the body of create-checkout and direct-charge requests.
type CheckoutInput struct {
	PriceID      string               `json:"priceId"`
	UserID       string               `json:"userId"`
	CustomerInfo *domain.CustomerInfo `json:"customerInfo,omitempty"`
}

// CheckoutResult is a created checkout session.
type CheckoutResult struct {
	ID         string `json:"id"`
	SessionURL string `json:"sessionUrl"`
}

// CreditOutcome is returned by the crediting flows.
type CreditOutcome struct {
	SessionID     string `json:"sessionId,omitempty"`
	SessionURL    string `json:"sessionUrl,omitempty"`
	TokensAdded   int64  `json:"tokensAdded"`
	PreviousTotal int64  `json:"previousTotal"`
	NewTotal      int64  `json:"newTotal"`
	Idempotent    bool   `json:"idempotent,omitempty"`
}

// WebhookOutcome reports what a webhook delivery did.
type WebhookOutcome struct {
	EventID  string         `json:"eventId"`
	Type     string         `json:"type"`
	Credited bool           `json:"credited"`
	Reason   string         `json:"reason,omitempty"`
	Credit   *CreditOutcome `json:"credit,omitempty"`
}

func (in CheckoutInput) validate() error {
	if strings.TrimSpace(in.PriceID) == "" {
		return domain.ErrValidation("priceId is required")
	}
	if err := domain.ValidateDocumentKey("userId", in.UserID); err != nil {
		return domain.ErrValidation(err.Error())
	}
	if in.CustomerInfo != nil && in.CustomerInfo.Email != "" {
		if err := domain.ValidateEmail(in.CustomerInfo.Email); err != nil {
			return domain.ErrValidation("customerInfo.email: " + err.Error())
		}
	}
	return nil
}

func (in CheckoutInput) customer() domain.CustomerInfo {
	if in.CustomerInfo == nil {
		return domain.CustomerInfo{}
	}
	return *in.CustomerInfo
}

// CreateCheckout validates the price and opens a checkout session. Nothing
// is credited here.
func (s *PaymentService) CreateCheckout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.activePrice(ctx, in.PriceID); err != nil {
		return nil, err
	}

	sess, err := s.openSession(ctx, in, nil, nil)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{ID: sess.ID, SessionURL: sess.URL}, nil
}

// VerifySession credits a completed checkout session. The session id is the
// transaction key, so repeated verification is harmless.
func (s *PaymentService) VerifySession(ctx context.Context, sessionID string) (*CreditOutcome, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrValidation("session_id is required")
	}

	sess, err := s.retrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PaymentStatus != domain.PaymentStatusPaid {
		return nil, domain.ErrPaymentIncomplete(sess.PaymentStatus)
	}
	return s.creditSession(ctx, sess)
}

// HandleWebhook verifies a signed event and credits paid checkout sessions.
// Every other verified event is acknowledged without side effects.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*WebhookOutcome, error) {
	event, err := s.processor.VerifyWebhook(payload, sigHeader)
	if err != nil {
		s.logger.Warn("webhook rejected", "error", err)
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, domain.ErrInvalidSignature(err)
	}

	out := &WebhookOutcome{EventID: event.ID, Type: event.Type}
	log := s.logger.With("event_id", event.ID, "event_type", event.Type)

	switch {
	case event.Type != domain.EventCheckoutSessionCompleted:
		out.Reason = "event type ignored"
	case event.Session == nil:
		out.Reason = "event carries no session"
	case event.Session.PaymentStatus != domain.PaymentStatusPaid:
		out.Reason = "session not paid"
	case event.Session.Metadata[domain.MetaUserID] == "":
		out.Reason = "session has no userId"
	}
	if out.Reason != "" {
		log.Info("webhook acknowledged without credit", "reason", out.Reason)
		return out, nil
	}

	credit, err := s.creditSession(ctx, event.Session)
	if err != nil {
		log.Error("webhook credit failed", "session_id", event.Session.ID, "error", err)
		return nil, err
	}
	out.Credited = true
	out.Credit = credit
	return out, nil
}

// DirectCharge resolves tokens up front, opens a checkout session and credits
// it immediately as pending. A later paid verification of the same session
// promotes the record without crediting again.
func (s *PaymentService) DirectCharge(ctx context.Context, in CheckoutInput) (*CreditOutcome, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	log := s.logger.With("user_id", in.UserID, "price_id", in.PriceID)

	p, err := s.activePrice(ctx, in.PriceID)
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(p.ID, p.Metadata, p.UnitAmountMajor())
	if err != nil {
		log.Warn("token amount unresolvable", "error", err)
		return nil, err
	}
	log.Info("tokens resolved", "tokens", res.Tokens, "rule", res.Rule)

	sess, err := s.openSession(ctx, in,
		map[string]string{domain.MetaDirectVerification: "true"},
		map[string]string{domain.MetaTokens: strconv.FormatInt(res.Tokens, 10)},
	)
	if err != nil {
		return nil, err
	}

	c := in.customer()
	result, err := s.ledger.ApplyCredit(ctx, domain.CreditParams{
		UserID:         in.UserID,
		Tokens:         res.Tokens,
		TransactionKey: sess.ID,
		Purchase: domain.PurchaseMeta{
			Amount:        p.UnitAmountMajor(),
			Currency:      p.Currency,
			Status:        domain.PurchaseStatusPending,
			PriceID:       in.PriceID,
			CustomerEmail: c.Email,
			Type:          domain.PurchaseTypePurchase,
		},
	})
	if err != nil {
		log.Error("eager credit failed", "session_id", sess.ID, "error", err)
		return nil, err
	}

	return &CreditOutcome{
		SessionID:     sess.ID,
		SessionURL:    sess.URL,
		TokensAdded:   result.TokensAdded,
		PreviousTotal: result.PreviousBalance,
		NewTotal:      result.NewBalance,
		Idempotent:    result.Idempotent,
	}, nil
}

// creditSession resolves the tokens of a paid session from its first line
// item and credits them under the session id.
func (s *PaymentService) creditSession(ctx context.Context, sess *domain.SessionInfo) (*CreditOutcome, error) {
	log := s.logger.With("session_id", sess.ID)

	userID := sess.Metadata[domain.MetaUserID]
	if userID == "" {
		return nil, domain.ErrValidation("no user ID found in session metadata")
	}

	var items []domain.LineItem
	err := s.call(ctx, func() error {
		var err error
		items, err = s.processor.ListLineItems(ctx, sess.ID)
		return err
	})
	if err != nil {
		log.Error("list line items failed", "error", err)
		return nil, upstream("list line items", err)
	}
	if len(items) == 0 {
		return nil, domain.ErrValidation("no line items found for this session")
	}

	item := items[0]
	unit := pricing.FromMinorUnits(item.Price.UnitAmount)
	res, err := s.resolver.Resolve(item.Price.ID, item.Price.Metadata, unit)
	if err != nil {
		log.Warn("token amount unresolvable", "price_id", item.Price.ID, "error", err)
		return nil, err
	}

	currency := item.Currency
	if currency == "" {
		currency = item.Price.Currency
	}
	result, err := s.ledger.ApplyCredit(ctx, domain.CreditParams{
		UserID:         userID,
		Tokens:         res.Tokens,
		TransactionKey: sess.ID,
		Purchase: domain.PurchaseMeta{
			Amount:        pricing.FromMinorUnits(item.AmountTotal),
			Currency:      currency,
			Status:        domain.PurchaseStatusPaid,
			PriceID:       item.Price.ID,
			CustomerEmail: sess.CustomerEmail,
			Type:          domain.PurchaseTypePurchase,
		},
	})
	if err != nil {
		log.Error("session credit failed", "user_id", userID, "error", err)
		return nil, err
	}

	return &CreditOutcome{
		TokensAdded:   result.TokensAdded,
		PreviousTotal: result.PreviousBalance,
		NewTotal:      result.NewBalance,
		Idempotent:    result.Idempotent,
	}, nil
}

func (s *PaymentService) activePrice(ctx context.Context, priceID string) (*domain.PriceInfo, error) {
	var p *domain.PriceInfo
	err := s.call(ctx, func() error {
		var err error
		p, err = s.processor.RetrievePrice(ctx, priceID)
		return err
	})
	if err != nil {
		s.logger.Warn("retrieve price failed", "price_id", priceID, "error", err)
		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, domain.ErrValidation("Invalid or inactive price ID")
	}
	if !p.Active {
		return nil, domain.ErrValidation("Price is not active")
	}
	return p, nil
}

func (s *PaymentService) retrieveSession(ctx context.Context, sessionID string) (*domain.SessionInfo, error) {
	var sess *domain.SessionInfo
	err := s.call(ctx, func() error {
		var err error
		sess, err = s.processor.RetrieveSession(ctx, sessionID)
		return err
	})
	if err != nil {
		s.logger.Error("retrieve session failed", "session_id", sessionID, "error", err)
		return nil, upstream("retrieve checkout session", err)
	}
	return sess, nil
}

// openSession creates the checkout session shared by create-checkout and
// direct charge. Customer lookup is best effort.
func (s *PaymentService) openSession(ctx context.Context, in CheckoutInput, extraMeta, extraIntentMeta map[string]string) (*domain.CheckoutSession, error) {
	c := in.customer()
	cfg := domain.CheckoutConfig{
		PriceID:    in.PriceID,
		Quantity:   1,
		SuccessURL: s.frontendURL + "/profile?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.frontendURL + "/profile",
		Metadata: map[string]string{
			domain.MetaUserID:       in.UserID,
			domain.MetaCustomerName: c.Name,
		},
		PaymentIntentMetadata: map[string]string{
			domain.MetaUserID:        in.UserID,
			domain.MetaPriceID:       in.PriceID,
			domain.MetaSessionID:     "{CHECKOUT_SESSION_ID}",
			domain.MetaCustomerName:  c.Name,
			domain.MetaCustomerEmail: c.Email,
		},
	}
	for k, v := range extraMeta {
		cfg.Metadata[k] = v
	}
	for k, v := range extraIntentMeta {
		cfg.PaymentIntentMetadata[k] = v
	}

	if c.Email != "" {
		var customerID string
		err := s.call(ctx, func() error {
			var err error
			customerID, err = s.processor.FindOrCreateCustomer(ctx, c.Name, c.Email, in.UserID)
			return err
		})
		if err != nil {
			s.logger.Warn("customer lookup failed, continuing without customer", "user_id", in.UserID, "error", err)
		}
		if customerID != "" {
			cfg.CustomerID = customerID
		} else {
			cfg.CustomerEmail = c.Email
		}
	}

	var sess *domain.CheckoutSession
	err := s.call(ctx, func() error {
		var err error
		sess, err = s.processor.CreateCheckoutSession(ctx, cfg)
		return err
	})
	if err != nil {
		s.logger.Error("create checkout session failed", "user_id", in.UserID, "price_id", in.PriceID, "error", err)
		return nil, upstream("Failed to create checkout session", err)
	}
	return sess, nil
}

// call runs a processor request behind the circuit breaker.
func (s *PaymentService) call(ctx context.Context, fn func() error) error {
	if s.breaker == nil {
		return fn()
	}
	if res := s.breaker.Check(ctx, processorCircuit); !res.Allowed {
		return &domain.AppError{Code: domain.CodeUpstream, Message: "payment processor unavailable", Status: 503}
	}
	err := fn()
	if err != nil && !isClientError(err) {
		s.breaker.RecordFailure(processorCircuit)
		return err
	}
	s.breaker.RecordSuccess(processorCircuit)
	return err
}

// isClientError reports request-level rejections that say nothing about the
// processor's health.
func isClientError(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500
	}
	var appErr *domain.AppError
	return errors.As(err, &appErr) && appErr.Code == domain.CodeNotConfigured
}

func upstream(msg string, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return domain.ErrUpstream(msg, fmt.Errorf("%s: %w", msg, err))
}
