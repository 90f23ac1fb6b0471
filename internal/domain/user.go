package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an account row from the users table.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirebaseUID  *string   `json:"firebase_uid,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Identity is a verified federated identity.
type Identity struct {
	Subject string
	Email   string
	Name    string
	Claims  map[string]any
}

// GuardResult is the outcome of a guard check.
type GuardResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Guard   string `json:"guard,omitempty"` // which guard blocked
}
