//go:build integration

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/decyphers/platform/internal/docstore"
	"github.com/decyphers/platform/internal/ledger"
	"github.com/google/uuid"
)

// Session is the token block returned by /register, /login and /firebase-login.
type Session struct {
	Success     bool      `json:"success"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      uuid.UUID `json:"user_id"`
}

// Register creates an account and returns its session.
func (env *TestEnv) Register(name, email, password string) Session {
	env.t.Helper()
	resp := env.POST("/register", map[string]string{
		"name":     name,
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		env.t.Fatalf("Register: expected 201, got %d", resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		env.t.Fatalf("Register: decode: %v", err)
	}
	return s
}

// Login authenticates an existing account and returns the access token.
func (env *TestEnv) Login(email, password string) string {
	env.t.Helper()
	resp := env.POST("/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		env.t.Fatalf("Login: expected 200, got %d", resp.StatusCode)
	}

	var s Session
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		env.t.Fatalf("Login: decode: %v", err)
	}
	return s.AccessToken
}

// ProvisionLedgerUser writes users/{userID} with a starting balance and a
// foreign field, standing in for a record another system already owns.
func (env *TestEnv) ProvisionLedgerUser(userID string, tokens int64) {
	env.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := env.Store.Transact(ctx, ledger.UserPath(userID), func(docstore.Node) (any, error) {
		return map[string]any{"tokens": tokens, "displayName": "Test User"}, nil
	})
	if err != nil {
		env.t.Fatalf("ProvisionLedgerUser: %v", err)
	}
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	return env.AuthGET(path, "")
}

// AuthGET performs a GET request with optional auth token.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.Server.URL+path, nil)
	if err != nil {
		env.t.Fatalf("GET %s: new request: %v", path, err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a JSON POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("POST %s: encode: %v", path, err)
		}
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return env.RawPOST(path, buf.Bytes(), headers)
}

// RawPOST performs a POST request with raw bytes and custom headers.
func (env *TestEnv) RawPOST(path string, body []byte, headers map[string]string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+path, bytes.NewReader(body))
	if err != nil {
		env.t.Fatalf("POST %s: new request: %v", path, err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

// OPTIONS performs a preflight request from origin.
func (env *TestEnv) OPTIONS(path, origin string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodOptions, env.Server.URL+path, nil)
	if err != nil {
		env.t.Fatalf("OPTIONS %s: new request: %v", path, err)
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("OPTIONS %s: %v", path, err)
	}
	return resp
}
