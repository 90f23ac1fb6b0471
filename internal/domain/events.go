package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain event types.
type EventType string

const (
	EventCreditApplied EventType = "ledger.credit_applied"
	EventUserCreated   EventType = "auth.user.created"
)

// Event is a domain event handed to the publisher. PartitionKey keeps events
// for one user ordered.
type Event struct {
	EventID      uuid.UUID       `json:"eventId"`
	EventType    EventType       `json:"eventType"`
	PartitionKey string          `json:"partitionKey"`
	Payload      json.RawMessage `json:"payload"`
	OccurredAt   time.Time       `json:"occurredAt"`
}

// NewCreditAppliedEvent creates the ledger event for a committed credit.
func NewCreditAppliedEvent(p CreditParams, res *CreditResult, at time.Time) Event {
	payload, _ := json.Marshal(map[string]any{
		"user_id":          p.UserID,
		"transaction_key":  p.TransactionKey,
		"tokens_added":     res.TokensAdded,
		"previous_balance": res.PreviousBalance,
		"new_balance":      res.NewBalance,
		"status":           res.Status,
		"price_id":         p.Purchase.PriceID,
		"amount":           p.Purchase.Amount.String(),
		"currency":         p.Purchase.Currency,
	})
	return Event{
		EventID:      uuid.New(),
		EventType:    EventCreditApplied,
		PartitionKey: p.UserID,
		Payload:      payload,
		OccurredAt:   at,
	}
}

// NewUserCreatedEvent creates an account lifecycle event.
func NewUserCreatedEvent(userID uuid.UUID, email, method string) Event {
	payload, _ := json.Marshal(map[string]string{
		"user_id": userID.String(),
		"email":   email,
		"method":  method,
	})
	return Event{
		EventID:      uuid.New(),
		EventType:    EventUserCreated,
		PartitionKey: userID.String(),
		Payload:      payload,
		OccurredAt:   time.Now(),
	}
}
