package handler

import (
	"context"
	"net/http"

	"github.com/decyphers/platform/internal/auth"
	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/service"
)

// AuthFlows is the account surface the auth endpoints drive.
type AuthFlows interface {
	Register(ctx context.Context, input service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, input service.LoginInput) (*service.AuthResult, error)
	FirebaseLogin(ctx context.Context, input service.FirebaseLoginInput) (*service.AuthResult, error)
	CurrentUser(ctx context.Context, claims *auth.Claims) (*domain.User, error)
	Logout(ctx context.Context, claims *auth.Claims) error
}

// AuthHandler handles registration, login and session endpoints.
type AuthHandler struct {
	authSvc AuthFlows
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc AuthFlows) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

// Register handles POST /register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := DecodeJSON(r, &input); err != nil {
		respondInvalidBody(w)
		return
	}

	result, err := h.authSvc.Register(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	fields := sessionFields(result)
	fields["user_id"] = result.User.ID
	fields["email"] = result.User.Email
	fields["name"] = result.User.Name
	RespondSuccess(w, http.StatusCreated, fields)
}

// Login handles POST /login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := DecodeJSON(r, &input); err != nil {
		respondInvalidBody(w)
		return
	}
	input.IP = ClientIP(r)

	result, err := h.authSvc.Login(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, sessionFields(result))
}

// FirebaseLogin handles POST /firebase-login.
func (h *AuthHandler) FirebaseLogin(w http.ResponseWriter, r *http.Request) {
	var input service.FirebaseLoginInput
	if err := DecodeJSON(r, &input); err != nil {
		respondInvalidBody(w)
		return
	}
	input.IP = ClientIP(r)

	result, err := h.authSvc.FirebaseLogin(r.Context(), input)
	if err != nil {
		RespondError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, sessionFields(result))
}

// CurrentUser handles GET /user.
func (h *AuthHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.authSvc.CurrentUser(r.Context(), auth.ClaimsFromContext(r.Context()))
	if err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]interface{}{"user": user})
}

// Logout handles POST /logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.Logout(r.Context(), auth.ClaimsFromContext(r.Context())); err != nil {
		RespondError(w, err)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]interface{}{"message": "Logged out"})
}

func sessionFields(result *service.AuthResult) map[string]interface{} {
	return map[string]interface{}{
		"access_token": result.AccessToken,
		"token_type":   result.TokenType,
		"expires_at":   result.ExpiresAt,
		"user":         result.User,
	}
}
