package provider

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"

	"github.com/decyphers/platform/internal/domain"
)

// IDTokenVerifier is satisfied by *auth.Client.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier turns Firebase ID tokens into identities.
type FirebaseVerifier struct {
	client IDTokenVerifier
}

// NewFirebaseVerifier creates a verifier over a Firebase auth client.
func NewFirebaseVerifier(client IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify checks the token signature, audience and expiry.
func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (*domain.Identity, error) {
	if v.client == nil {
		return nil, domain.ErrNotConfigured("firebase auth")
	}
	tok, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	id := &domain.Identity{Subject: tok.UID, Claims: tok.Claims}
	if tok.Claims != nil {
		id.Email, _ = tok.Claims["email"].(string)
		id.Name, _ = tok.Claims["name"].(string)
	}
	if id.Name == "" {
		id.Name = id.Email
	}
	return id, nil
}
