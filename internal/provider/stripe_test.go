package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/decyphers/platform/internal/domain"
)

const testWebhookSecret = "whsec_test_secret"

func signedPayload(t *testing.T, payload []byte, secret string, at time.Time) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: at,
	})
	return sp.Header
}

func checkoutEvent(paymentStatus string) []byte {
	return []byte(`{
		"id": "evt_123",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": "cs_test_1",
			"object": "checkout.session",
			"payment_status": "` + paymentStatus + `",
			"customer_details": {"email": "ada@example.com"},
			"metadata": {"userId": "uid_1", "customer_name": "Ada"}
		}}
	}`)
}

func TestVerifyWebhook_Valid(t *testing.T) {
	p := NewStripeProvider("", testWebhookSecret)
	payload := checkoutEvent("paid")

	event, err := p.VerifyWebhook(payload, signedPayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_123", event.ID)
	assert.Equal(t, domain.EventCheckoutSessionCompleted, event.Type)
	require.NotNil(t, event.Session)
	assert.Equal(t, "cs_test_1", event.Session.ID)
	assert.Equal(t, domain.PaymentStatusPaid, event.Session.PaymentStatus)
	assert.Equal(t, "uid_1", event.Session.Metadata[domain.MetaUserID])
	assert.Equal(t, "ada@example.com", event.Session.CustomerEmail)
}

func TestVerifyWebhook_OtherEventHasNoSession(t *testing.T) {
	p := NewStripeProvider("", testWebhookSecret)
	payload := []byte(`{"id":"evt_9","object":"event","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`)

	event, err := p.VerifyWebhook(payload, signedPayload(t, payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "invoice.paid", event.Type)
	assert.Nil(t, event.Session)
}

func TestVerifyWebhook_InvalidSignature(t *testing.T) {
	p := NewStripeProvider("", testWebhookSecret)
	payload := checkoutEvent("paid")

	_, err := p.VerifyWebhook(payload, signedPayload(t, payload, "whsec_other", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature(nil)))
}

func TestVerifyWebhook_TamperedPayload(t *testing.T) {
	p := NewStripeProvider("", testWebhookSecret)
	header := signedPayload(t, checkoutEvent("unpaid"), testWebhookSecret, time.Now())

	_, err := p.VerifyWebhook(checkoutEvent("paid"), header)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature(nil)))
}

func TestVerifyWebhook_ExpiredTimestamp(t *testing.T) {
	p := NewStripeProvider("", testWebhookSecret)
	payload := checkoutEvent("paid")

	_, err := p.VerifyWebhook(payload, signedPayload(t, payload, testWebhookSecret, time.Now().Add(-10*time.Minute)))
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature(nil)))
}

func TestVerifyWebhook_MissingHeader(t *testing.T) {
	p := NewStripeProvider("", testWebhookSecret)
	_, err := p.VerifyWebhook([]byte(`{}`), "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidSignature(nil)))
}

func TestVerifyWebhook_NoSecret(t *testing.T) {
	p := NewStripeProvider("sk_test", "")
	_, err := p.VerifyWebhook([]byte(`{}`), "t=1,v1=abc")
	assert.True(t, errors.Is(err, domain.ErrNotConfigured("")))
}

func TestStripeProvider_NotConfigured(t *testing.T) {
	p := NewStripeProvider("", "")
	_, err := p.RetrieveSession(t.Context(), "cs_1")
	assert.ErrorIs(t, err, ErrStripeNotConfigured)
	_, err = p.RetrievePrice(t.Context(), "price_1")
	assert.ErrorIs(t, err, ErrStripeNotConfigured)
}

// fakeStripe serves canned Stripe API responses.
func fakeStripe(t *testing.T, routes map[string]string) *StripeProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such resource"}}`))
			return
		}
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeProviderWithBackend(backend, "sk_test_123", testWebhookSecret)
}

func TestRetrieveSession(t *testing.T) {
	p := fakeStripe(t, map[string]string{
		"GET /v1/checkout/sessions/cs_test_1": `{"id":"cs_test_1","object":"checkout.session","payment_status":"unpaid","customer_email":"ada@example.com","metadata":{"userId":"uid_1"}}`,
	})

	sess, err := p.RetrieveSession(t.Context(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, "unpaid", sess.PaymentStatus)
	assert.Equal(t, "ada@example.com", sess.CustomerEmail)
	assert.Equal(t, "uid_1", sess.Metadata["userId"])
}

func TestRetrieveSession_NotFound(t *testing.T) {
	p := fakeStripe(t, map[string]string{})
	_, err := p.RetrieveSession(t.Context(), "cs_missing")
	require.Error(t, err)

	var stripeErr *stripe.Error
	assert.True(t, errors.As(err, &stripeErr))
}

func TestListLineItems(t *testing.T) {
	p := fakeStripe(t, map[string]string{
		"GET /v1/checkout/sessions/cs_test_1/line_items": `{"object":"list","has_more":false,"data":[
			{"id":"li_1","object":"item","amount_total":999,"currency":"usd","quantity":1,
			 "price":{"id":"price_1R4cZ22NO6PNHfEnEhmEzX2y","object":"price","active":true,"unit_amount":999,"currency":"usd","metadata":{"tokens":"7000"}}}
		]}`,
	})

	items, err := p.ListLineItems(t.Context(), "cs_test_1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(999), items[0].AmountTotal)
	assert.Equal(t, "price_1R4cZ22NO6PNHfEnEhmEzX2y", items[0].Price.ID)
	assert.Equal(t, "7000", items[0].Price.Metadata["tokens"])
}

func TestRetrievePrice(t *testing.T) {
	p := fakeStripe(t, map[string]string{
		"GET /v1/prices/price_abc": `{"id":"price_abc","object":"price","active":false,"unit_amount":2500,"currency":"usd"}`,
	})

	info, err := p.RetrievePrice(t.Context(), "price_abc")
	require.NoError(t, err)
	assert.False(t, info.Active)
	assert.Equal(t, int64(2500), info.UnitAmount)
	assert.Equal(t, "usd", info.Currency)
}

func TestCreateCheckoutSession(t *testing.T) {
	var form string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm.Encode()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "cs_new", "object": "checkout.session", "url": "https://checkout.stripe.com/c/pay/cs_new",
		})
	}))
	defer srv.Close()
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	p := NewStripeProviderWithBackend(backend, "sk_test_123", "")

	sess, err := p.CreateCheckoutSession(t.Context(), domain.CheckoutConfig{
		PriceID:       "price_abc",
		SuccessURL:    "https://decyphers.com/profile?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://decyphers.com/profile",
		CustomerEmail: "ada@example.com",
		Metadata:      map[string]string{"userId": "uid_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_new", sess.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_new", sess.URL)
	assert.True(t, strings.Contains(form, "metadata%5BuserId%5D=uid_1"))
	assert.True(t, strings.Contains(form, "customer_creation=always"))
	assert.True(t, strings.Contains(form, "mode=payment"))
}
