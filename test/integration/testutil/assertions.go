//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/decyphers/platform/internal/domain"
	"github.com/decyphers/platform/internal/ledger"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response is a failure envelope with the expected code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Success {
		t.Errorf("expected success=false for code %q", expectedCode)
	}
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// LedgerRecord reads users/{userID} from the ledger store.
func LedgerRecord(t *testing.T, env *TestEnv, userID string) domain.UserRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var rec domain.UserRecord
	found, err := env.Store.Get(ctx, ledger.UserPath(userID), &rec)
	if err != nil {
		t.Fatalf("LedgerRecord: %v", err)
	}
	if !found {
		t.Fatalf("LedgerRecord: users/%s does not exist", userID)
	}
	return rec
}

// AssertTokens checks the ledger balance of userID.
func AssertTokens(t *testing.T, env *TestEnv, userID string, expected int64) {
	t.Helper()
	if got := LedgerRecord(t, env, userID).Tokens; got != expected {
		t.Errorf("tokens: expected %d, got %d", expected, got)
	}
}

// CountLoginAttempts returns the number of recorded attempts for email.
func CountLoginAttempts(t *testing.T, env *TestEnv, email string) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM login_attempts WHERE lower(email) = lower($1)", email).Scan(&count)
	if err != nil {
		t.Fatalf("CountLoginAttempts: %v", err)
	}
	return count
}
