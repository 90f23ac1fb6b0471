package handler

import (
	"context"
	"net/http"

	"github.com/decyphers/platform/internal/service"
)

// PaymentFlows is the purchase surface the payment endpoints drive.
type PaymentFlows interface {
	CreateCheckout(ctx context.Context, in service.CheckoutInput) (*service.CheckoutResult, error)
	VerifySession(ctx context.Context, sessionID string) (*service.CreditOutcome, error)
	DirectCharge(ctx context.Context, in service.CheckoutInput) (*service.CreditOutcome, error)
	HandleWebhook(ctx context.Context, payload []byte, sigHeader string) (*service.WebhookOutcome, error)
}

// PaymentHandler handles checkout and verification endpoints.
type PaymentHandler struct {
	paymentSvc PaymentFlows
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc PaymentFlows) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc}
}

// CreateCheckout handles POST /stripe/create-checkout.
func (h *PaymentHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var input service.CheckoutInput
	if err := DecodeJSON(r, &input); err != nil {
		respondInvalidBody(w)
		return
	}

	result, err := h.paymentSvc.CreateCheckout(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]interface{}{
		"id":         result.ID,
		"sessionUrl": result.SessionURL,
	})
}

// VerifySession handles GET /stripe/verify-session?session_id=...
func (h *PaymentHandler) VerifySession(w http.ResponseWriter, r *http.Request) {
	result, err := h.paymentSvc.VerifySession(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]interface{}{
		"tokensAdded":   result.TokensAdded,
		"previousTotal": result.PreviousTotal,
		"newTotal":      result.NewTotal,
	})
}

// DirectCharge handles POST /stripe/verify-session.
func (h *PaymentHandler) DirectCharge(w http.ResponseWriter, r *http.Request) {
	var input service.CheckoutInput
	if err := DecodeJSON(r, &input); err != nil {
		respondInvalidBody(w)
		return
	}

	result, err := h.paymentSvc.DirectCharge(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]interface{}{
		"sessionId":     result.SessionID,
		"sessionUrl":    result.SessionURL,
		"tokensAdded":   result.TokensAdded,
		"previousTotal": result.PreviousTotal,
		"newTotal":      result.NewTotal,
	})
}
