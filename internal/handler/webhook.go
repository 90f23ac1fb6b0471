package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/decyphers/platform/internal/domain"
)

// WebhookHandler handles Stripe webhook callbacks.
type WebhookHandler struct {
	paymentSvc PaymentFlows
	logger     *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(paymentSvc PaymentFlows, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{paymentSvc: paymentSvc, logger: logger}
}

// HandleStripeWebhook handles POST /stripe/webhook.
// The signature covers the exact bytes, so the body is read raw.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil || len(body) > MaxBodyBytes {
		h.logger.Error("read webhook body", "error", err, "bytes", len(body))
		RespondError(w, domain.ErrValidation("Invalid payload"))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.Warn("missing Stripe-Signature header")
		RespondError(w, domain.ErrInvalidSignature(errors.New("missing Stripe-Signature header")))
		return
	}

	result, err := h.paymentSvc.HandleWebhook(r.Context(), body, sigHeader)
	if err != nil {
		RespondError(w, err)
		return
	}

	// Stripe only needs a 2xx; ignored events are acknowledged the same way.
	fields := map[string]interface{}{
		"received": true,
		"eventId":  result.EventID,
		"credited": result.Credited,
	}
	if result.Credit != nil {
		fields["tokensAdded"] = result.Credit.TokensAdded
		fields["newTotal"] = result.Credit.NewTotal
	}
	RespondSuccess(w, http.StatusOK, fields)
}
