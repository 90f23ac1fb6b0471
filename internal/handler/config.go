package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/provider"
)

// RecaptchaVerifier validates reCAPTCHA tokens.
type RecaptchaVerifier interface {
	Configured() bool
	Verify(ctx context.Context, token, remoteIP string) (*provider.RecaptchaResult, error)
}

// ConfigHandler exposes public client configuration.
type ConfigHandler struct {
	recaptchaSiteKey string
	telegramBotID    string
	recaptcha        RecaptchaVerifier
	logger           *slog.Logger
}

// NewConfigHandler creates a new ConfigHandler.
func NewConfigHandler(recaptchaSiteKey, telegramBotID string, recaptcha RecaptchaVerifier, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{
		recaptchaSiteKey: recaptchaSiteKey,
		telegramBotID:    telegramBotID,
		recaptcha:        recaptcha,
		logger:           logger,
	}
}

// RecaptchaConfig handles GET /config/recaptcha.
func (h *ConfigHandler) RecaptchaConfig(w http.ResponseWriter, r *http.Request) {
	if h.recaptchaSiteKey == "" {
		RespondError(w, domain.ErrNotConfigured("reCAPTCHA site key"))
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]interface{}{"siteKey": h.recaptchaSiteKey})
}

type verifyRecaptchaRequest struct {
	Token string `json:"token"`
}

// VerifyRecaptcha handles POST /verify-recaptcha.
func (h *ConfigHandler) VerifyRecaptcha(w http.ResponseWriter, r *http.Request) {
	if h.recaptcha == nil || !h.recaptcha.Configured() {
		RespondError(w, domain.ErrNotConfigured("reCAPTCHA secret key"))
		return
	}

	var req verifyRecaptchaRequest
	if err := DecodeJSON(r, &req); err != nil || req.Token == "" {
		RespondError(w, domain.ErrValidation("reCAPTCHA token is required"))
		return
	}

	result, err := h.recaptcha.Verify(r.Context(), req.Token, ClientIP(r))
	if err != nil {
		h.logger.Error("recaptcha verification request failed", "error", err)
		RespondError(w, domain.ErrUpstream("error verifying reCAPTCHA", err))
		return
	}
	if !result.Success {
		errorCodes := result.ErrorCodes
		if errorCodes == nil {
			errorCodes = []string{}
		}
		RespondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"code":    domain.CodeValidation,
			"message": "reCAPTCHA verification failed",
			"errors":  errorCodes,
		})
		return
	}

	RespondSuccess(w, http.StatusOK, map[string]interface{}{"message": "reCAPTCHA verification successful"})
}

// TelegramConfig handles GET /config/telegram.
func (h *ConfigHandler) TelegramConfig(w http.ResponseWriter, r *http.Request) {
	if h.telegramBotID == "" {
		RespondError(w, domain.ErrNotConfigured("Telegram bot ID"))
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]interface{}{"bot_id": h.telegramBotID})
}
