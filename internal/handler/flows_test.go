package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decyphers/platform/internal/auth"
	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/provider"
	"github.com/decyphers/platform/internal/service"
)

type stubPayments struct {
	checkoutIn service.CheckoutInput
	sessionID  string
	payload    []byte
	sig        string
	err        error
	webhook    *service.WebhookOutcome
}

func (s *stubPayments) CreateCheckout(_ context.Context, in service.CheckoutInput) (*service.CheckoutResult, error) {
	s.checkoutIn = in
	if s.err != nil {
		return nil, s.err
	}
	return &service.CheckoutResult{ID: "cs_1", SessionURL: "https://checkout.example/cs_1"}, nil
}

func (s *stubPayments) VerifySession(_ context.Context, id string) (*service.CreditOutcome, error) {
	s.sessionID = id
	if s.err != nil {
		return nil, s.err
	}
	return &service.CreditOutcome{TokensAdded: 7000, PreviousTotal: 100, NewTotal: 7100}, nil
}

func (s *stubPayments) DirectCharge(_ context.Context, in service.CheckoutInput) (*service.CreditOutcome, error) {
	s.checkoutIn = in
	if s.err != nil {
		return nil, s.err
	}
	return &service.CreditOutcome{SessionID: "cs_2", SessionURL: "https://checkout.example/cs_2", TokensAdded: 40000, NewTotal: 40000}, nil
}

func (s *stubPayments) HandleWebhook(_ context.Context, payload []byte, sig string) (*service.WebhookOutcome, error) {
	s.payload, s.sig = payload, sig
	if s.err != nil {
		return nil, s.err
	}
	return s.webhook, nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestPaymentHandler_CreateCheckout(t *testing.T) {
	stub := &stubPayments{}
	h := NewPaymentHandler(stub)

	r := httptest.NewRequest(http.MethodPost, "/stripe/create-checkout",
		bytes.NewBufferString(`{"priceId":"price_1","userId":"u1","customerInfo":{"name":"Ada","email":"ada@example.com"}}`))
	w := httptest.NewRecorder()
	h.CreateCheckout(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "cs_1", body["id"])
	assert.Equal(t, "https://checkout.example/cs_1", body["sessionUrl"])
	assert.Equal(t, "price_1", stub.checkoutIn.PriceID)
	require.NotNil(t, stub.checkoutIn.CustomerInfo)
	assert.Equal(t, "ada@example.com", stub.checkoutIn.CustomerInfo.Email)
}

func TestPaymentHandler_InvalidBody(t *testing.T) {
	h := NewPaymentHandler(&stubPayments{})

	w := httptest.NewRecorder()
	h.CreateCheckout(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])

	w = httptest.NewRecorder()
	h.DirectCharge(w, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`nope`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_VerifySession(t *testing.T) {
	stub := &stubPayments{}
	h := NewPaymentHandler(stub)

	w := httptest.NewRecorder()
	h.VerifySession(w, httptest.NewRequest(http.MethodGet, "/stripe/verify-session?session_id=cs_1", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cs_1", stub.sessionID)
	body := decodeBody(t, w)
	assert.Equal(t, float64(7000), body["tokensAdded"])
	assert.Equal(t, float64(100), body["previousTotal"])
	assert.Equal(t, float64(7100), body["newTotal"])
}

func TestPaymentHandler_VerifySessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unpaid", domain.ErrPaymentIncomplete("unpaid"), 400, domain.CodePaymentIncomplete},
		{"unresolvable", domain.ErrUnresolvablePrice("price_x"), 400, domain.CodeUnresolvablePrice},
		{"unknown user", domain.ErrUserNotFound("u1"), 500, domain.CodeUserNotFound},
		{"mismatch", domain.ErrVerificationMismatch(7000, 6999), 500, domain.CodeVerificationMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPaymentHandler(&stubPayments{err: tt.err})
			w := httptest.NewRecorder()
			h.VerifySession(w, httptest.NewRequest(http.MethodGet, "/stripe/verify-session?session_id=cs_1", nil))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantCode, decodeBody(t, w)["code"])
		})
	}
}

func TestPaymentHandler_DirectCharge(t *testing.T) {
	stub := &stubPayments{}
	h := NewPaymentHandler(stub)

	w := httptest.NewRecorder()
	h.DirectCharge(w, httptest.NewRequest(http.MethodPost, "/stripe/verify-session",
		bytes.NewBufferString(`{"priceId":"price_2","userId":"u1"}`)))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "cs_2", body["sessionId"])
	assert.Equal(t, float64(40000), body["tokensAdded"])
	assert.Equal(t, "u1", stub.checkoutIn.UserID)
}

func TestWebhookHandler(t *testing.T) {
	t.Run("passes raw body and signature", func(t *testing.T) {
		stub := &stubPayments{webhook: &service.WebhookOutcome{
			EventID:  "evt_1",
			Credited: true,
			Credit:   &service.CreditOutcome{TokensAdded: 7000, NewTotal: 7000},
		}}
		h := NewWebhookHandler(stub, noopLogger())

		payload := `{"id":"evt_1",  "type":"checkout.session.completed"}`
		r := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(payload))
		r.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payload, string(stub.payload))
		assert.Equal(t, "t=1,v1=abc", stub.sig)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["credited"])
		assert.Equal(t, float64(7000), body["tokensAdded"])
	})

	t.Run("ignored event is 200", func(t *testing.T) {
		stub := &stubPayments{webhook: &service.WebhookOutcome{EventID: "evt_2", Reason: "event type ignored"}}
		h := NewWebhookHandler(stub, noopLogger())

		r := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`))
		r.Header.Set("Stripe-Signature", "t=1,v1=abc")
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, false, decodeBody(t, w)["credited"])
	})

	t.Run("missing signature", func(t *testing.T) {
		stub := &stubPayments{}
		h := NewWebhookHandler(stub, noopLogger())

		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`)))

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, domain.CodeInvalidSignature, decodeBody(t, w)["code"])
		assert.Nil(t, stub.payload)
	})

	t.Run("invalid signature", func(t *testing.T) {
		h := NewWebhookHandler(&stubPayments{err: domain.ErrInvalidSignature(nil)}, noopLogger())

		r := httptest.NewRequest(http.MethodPost, "/stripe/webhook", bytes.NewBufferString(`{}`))
		r.Header.Set("Stripe-Signature", "bad")
		w := httptest.NewRecorder()
		h.HandleStripeWebhook(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

type stubAuth struct {
	result    *service.AuthResult
	err       error
	loginIP   string
	loggedOut bool
}

func (s *stubAuth) Register(context.Context, service.RegisterInput) (*service.AuthResult, error) {
	return s.result, s.err
}

func (s *stubAuth) Login(_ context.Context, in service.LoginInput) (*service.AuthResult, error) {
	s.loginIP = in.IP
	return s.result, s.err
}

func (s *stubAuth) FirebaseLogin(_ context.Context, in service.FirebaseLoginInput) (*service.AuthResult, error) {
	s.loginIP = in.IP
	return s.result, s.err
}

func (s *stubAuth) CurrentUser(_ context.Context, claims *auth.Claims) (*domain.User, error) {
	if claims == nil {
		return nil, domain.ErrUnauthorized("not authenticated")
	}
	return s.result.User, nil
}

func (s *stubAuth) Logout(_ context.Context, claims *auth.Claims) error {
	if claims == nil {
		return domain.ErrUnauthorized("not authenticated")
	}
	s.loggedOut = true
	return nil
}

func authResult() *service.AuthResult {
	return &service.AuthResult{
		AccessToken: "jwt",
		TokenType:   "Bearer",
		ExpiresAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		User:        &domain.User{ID: uuid.MustParse("6f1c8a52-9d0b-4c36-9d6e-5c1a2b3c4d5e"), Name: "Ada", Email: "ada@example.com", PasswordHash: "hash"},
	}
}

func TestAuthHandler_Register(t *testing.T) {
	h := NewAuthHandler(&stubAuth{result: authResult()})

	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/register",
		bytes.NewBufferString(`{"name":"Ada","email":"ada@example.com","password":"password123"}`)))

	assert.Equal(t, http.StatusCreated, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "jwt", body["access_token"])
	assert.Equal(t, "Bearer", body["token_type"])
	assert.Equal(t, "6f1c8a52-9d0b-4c36-9d6e-5c1a2b3c4d5e", body["user_id"])
	assert.Equal(t, "Ada", body["name"])
	assert.NotContains(t, w.Body.String(), "hash")
}

func TestAuthHandler_LoginErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"bad credentials", domain.ErrUnauthorized("Invalid credentials"), 401},
		{"locked", domain.ErrAccountLocked("too many failed login attempts"), 429},
		{"conflict", domain.ErrConflict("This email is already registered."), 409},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAuthHandler(&stubAuth{err: tt.err})
			w := httptest.NewRecorder()
			h.FirebaseLogin(w, httptest.NewRequest(http.MethodPost, "/firebase-login", bytes.NewBufferString(`{"idToken":"x"}`)))
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, false, decodeBody(t, w)["success"])
		})
	}
}

func TestAuthHandler_LoginForwardsClientIP(t *testing.T) {
	stub := &stubAuth{result: authResult()}
	h := NewAuthHandler(stub)

	r := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString(`{"email":"ada@example.com","password":"password123"}`))
	r.RemoteAddr = "10.0.0.1:40000"
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	w := httptest.NewRecorder()
	ClientAddr(1)(http.HandlerFunc(h.Login)).ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "203.0.113.9", stub.loginIP)
	user, ok := decodeBody(t, w)["user"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", user["email"])
}

func TestAuthHandler_SessionEndpoints(t *testing.T) {
	stub := &stubAuth{result: authResult()}
	h := NewAuthHandler(stub)
	claims := &auth.Claims{}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/user", nil)
	h.CurrentUser(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/logout", nil)
	h.Logout(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Logged out", decodeBody(t, w)["message"])
	assert.True(t, stub.loggedOut)

	w = httptest.NewRecorder()
	h.CurrentUser(w, httptest.NewRequest(http.MethodGet, "/user", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

type stubRecaptcha struct {
	configured bool
	result     *provider.RecaptchaResult
	err        error
	token      string
}

func (s *stubRecaptcha) Configured() bool { return s.configured }

func (s *stubRecaptcha) Verify(_ context.Context, token, _ string) (*provider.RecaptchaResult, error) {
	s.token = token
	return s.result, s.err
}

func TestConfigHandler_PublicConfig(t *testing.T) {
	h := NewConfigHandler("site-key", "12345", nil, noopLogger())

	w := httptest.NewRecorder()
	h.RecaptchaConfig(w, httptest.NewRequest(http.MethodGet, "/config/recaptcha", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "site-key", decodeBody(t, w)["siteKey"])

	w = httptest.NewRecorder()
	h.TelegramConfig(w, httptest.NewRequest(http.MethodGet, "/config/telegram", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "12345", decodeBody(t, w)["bot_id"])

	unset := NewConfigHandler("", "", nil, noopLogger())
	w = httptest.NewRecorder()
	unset.RecaptchaConfig(w, httptest.NewRequest(http.MethodGet, "/config/recaptcha", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	unset.TelegramConfig(w, httptest.NewRequest(http.MethodGet, "/config/telegram", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Telegram bot ID is not configured", decodeBody(t, w)["message"])
}

func TestConfigHandler_VerifyRecaptcha(t *testing.T) {
	tests := []struct {
		name       string
		verifier   *stubRecaptcha
		body       string
		wantStatus int
	}{
		{"not configured", &stubRecaptcha{}, `{"token":"t"}`, 500},
		{"missing token", &stubRecaptcha{configured: true}, `{}`, 400},
		{"verified", &stubRecaptcha{configured: true, result: &provider.RecaptchaResult{Success: true}}, `{"token":"t"}`, 200},
		{"rejected", &stubRecaptcha{configured: true, result: &provider.RecaptchaResult{ErrorCodes: []string{"timeout-or-duplicate"}}}, `{"token":"t"}`, 400},
		{"upstream error", &stubRecaptcha{configured: true, err: assert.AnError}, `{"token":"t"}`, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewConfigHandler("", "", tt.verifier, noopLogger())
			w := httptest.NewRecorder()
			h.VerifyRecaptcha(w, httptest.NewRequest(http.MethodPost, "/verify-recaptcha", bytes.NewBufferString(tt.body)))
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestConfigHandler_VerifyRecaptchaErrorCodes(t *testing.T) {
	h := NewConfigHandler("", "", &stubRecaptcha{
		configured: true,
		result:     &provider.RecaptchaResult{ErrorCodes: []string{"invalid-input-response"}},
	}, noopLogger())

	w := httptest.NewRecorder()
	h.VerifyRecaptcha(w, httptest.NewRequest(http.MethodPost, "/verify-recaptcha", bytes.NewBufferString(`{"token":"t"}`)))
	body := decodeBody(t, w)
	assert.Equal(t, []interface{}{"invalid-input-response"}, body["errors"])
}
