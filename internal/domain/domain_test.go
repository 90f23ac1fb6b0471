package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Validator Tests ---

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
		errMsg  string
	}{
		{"valid email", "user@example.com", false, ""},
		{"valid email with dots", "first.last@example.co.uk", false, ""},
		{"valid email with plus", "user+tag@example.com", false, ""},
		{"empty string", "", true, "email is required"},
		{"no at sign", "userexample.com", true, "invalid email format"},
		{"no domain", "user@", true, "invalid email format"},
		{"double at", "user@@example.com", true, "invalid email format"},
		{"no tld", "user@example", true, "invalid email format"},
		{"spaces", "user @example.com", true, "invalid email format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	require.NoError(t, ValidatePassword("12345678"))
	err := ValidatePassword("1234567")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 8")
}

func TestValidateCurrency(t *testing.T) {
	tests := []struct {
		currency string
		wantErr  bool
	}{
		{"usd", false},
		{"EUR", false},
		{"us", true},
		{"euro", true},
		{"", true},
		{"123", true},
	}

	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			err := ValidateCurrency(tt.currency)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestValidateCredit(t *testing.T) {
	valid := CreditParams{
		UserID:         "uid_1",
		Tokens:         7000,
		TransactionKey: "cs_test_1",
		Purchase:       PurchaseMeta{Status: PurchaseStatusPaid, Currency: "usd", Amount: decimal.NewFromInt(5)},
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, ValidateCredit(valid))
	})

	tests := []struct {
		name   string
		mutate func(p *CreditParams)
		code   string
	}{
		{"zero tokens", func(p *CreditParams) { p.Tokens = 0 }, CodeInvalidCredit},
		{"negative tokens", func(p *CreditParams) { p.Tokens = -5 }, CodeInvalidCredit},
		{"missing user", func(p *CreditParams) { p.UserID = "" }, CodeValidation},
		{"user with slash", func(p *CreditParams) { p.UserID = "a/b" }, CodeValidation},
		{"missing key", func(p *CreditParams) { p.TransactionKey = " " }, CodeValidation},
		{"bad status", func(p *CreditParams) { p.Purchase.Status = "refunded" }, CodeValidation},
		{"bad currency", func(p *CreditParams) { p.Purchase.Currency = "dollars" }, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := ValidateCredit(p)
			var appErr *AppError
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.code, appErr.Code)
		})
	}
}

// --- Purchase Status Tests ---

func TestPurchaseStatus(t *testing.T) {
	assert.False(t, PurchaseStatusPending.Terminal())
	assert.True(t, PurchaseStatusPaid.Terminal())
	assert.True(t, PurchaseStatusCompleted.Terminal())
	assert.True(t, PurchaseStatusPending.Valid())
	assert.False(t, PurchaseStatus("").Valid())
}

func TestPriceInfo_UnitAmountMajor(t *testing.T) {
	p := PriceInfo{UnitAmount: 999}
	assert.True(t, decimal.RequireFromString("9.99").Equal(p.UnitAmountMajor()))
}

func TestUserRecord_DecodesLegacyAmount(t *testing.T) {
	raw := `{"tokens":7000,"updatedAt":"2025-03-01T12:00:00+00:00",
		"purchases":{"cs_1":{"tokens":7000,"amount":4.99,"date":"2025-03-01T12:00:00+00:00","status":"paid","currency":"usd","type":"purchase"}}}`
	var rec UserRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Equal(t, int64(7000), rec.Tokens)
	assert.True(t, decimal.RequireFromString("4.99").Equal(rec.Purchases["cs_1"].Amount.Decimal))
	assert.Equal(t, PurchaseStatusPaid, rec.Purchases["cs_1"].Status)
}

func TestPurchaseRecord_AmountIsJSONNumber(t *testing.T) {
	rec := PurchaseRecord{Tokens: 7000, Amount: NewAmount(decimal.RequireFromString("4.99")), Status: PurchaseStatusPaid}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"amount":4.99`)

	var back PurchaseRecord
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, decimal.RequireFromString("4.99").Equal(back.Amount.Decimal))
}

func TestAmount_DecodesQuotedString(t *testing.T) {
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"12.50"`), &a))
	assert.Equal(t, "12.5", a.String())
}

// --- Error Tests ---

func TestAppError_StatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *AppError
		status int
		code   string
	}{
		{"validation", ErrValidation("bad"), http.StatusBadRequest, CodeValidation},
		{"unauthorized", ErrUnauthorized("no"), http.StatusUnauthorized, CodeUnauthorized},
		{"conflict", ErrConflict("dup"), http.StatusConflict, CodeConflict},
		{"upstream", ErrUpstream("stripe", errors.New("boom")), http.StatusInternalServerError, CodeUpstream},
		{"unresolvable", ErrUnresolvablePrice("p"), http.StatusBadRequest, CodeUnresolvablePrice},
		{"user not found", ErrUserNotFound("u"), http.StatusInternalServerError, CodeUserNotFound},
		{"invalid credit", ErrInvalidCredit(0), http.StatusBadRequest, CodeInvalidCredit},
		{"mismatch", ErrVerificationMismatch(1, 2), http.StatusInternalServerError, CodeVerificationMismatch},
		{"signature", ErrInvalidSignature(nil), http.StatusBadRequest, CodeInvalidSignature},
		{"incomplete", ErrPaymentIncomplete("unpaid"), http.StatusBadRequest, CodePaymentIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.code, tt.err.Code)
		})
	}
}

func TestAppError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("apply credit: %w", ErrUpstream("ledger write failed", cause))

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrUpstream("", nil)))
	assert.False(t, errors.Is(err, ErrUserNotFound("")))
	assert.Contains(t, err.Error(), "connection reset")
}

// --- Event Factory Tests ---

func TestNewCreditAppliedEvent(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := CreditParams{
		UserID:         "uid_1",
		Tokens:         7000,
		TransactionKey: "cs_1",
		Purchase:       PurchaseMeta{Amount: decimal.RequireFromString("4.99"), Currency: "usd", PriceID: "7000_tokens"},
	}
	res := &CreditResult{PreviousBalance: 100, NewBalance: 7100, TokensAdded: 7000, Status: PurchaseStatusPaid}

	event := NewCreditAppliedEvent(p, res, at)

	assert.NotEqual(t, uuid.Nil, event.EventID)
	assert.Equal(t, EventCreditApplied, event.EventType)
	assert.Equal(t, "uid_1", event.PartitionKey)
	assert.Equal(t, at, event.OccurredAt)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, float64(7100), payload["new_balance"])
	assert.Equal(t, "4.99", payload["amount"])
	assert.Equal(t, "paid", payload["status"])
}

func TestNewUserCreatedEvent(t *testing.T) {
	id := uuid.New()
	event := NewUserCreatedEvent(id, "a@example.com", "firebase")
	assert.Equal(t, EventUserCreated, event.EventType)
	assert.Equal(t, id.String(), event.PartitionKey)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "firebase", payload["method"])
}
