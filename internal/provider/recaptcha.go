package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultRecaptchaEndpoint is Google's siteverify URL.
const DefaultRecaptchaEndpoint = "https://www.google.com/recaptcha/api/siteverify"

// RecaptchaResult is the siteverify response.
type RecaptchaResult struct {
	Success     bool     `json:"success"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
}

// RecaptchaClient verifies reCAPTCHA response tokens.
type RecaptchaClient struct {
	secret   string
	endpoint string
	client   *http.Client
}

// NewRecaptchaClient creates a client. An empty endpoint means Google's.
func NewRecaptchaClient(secret, endpoint string) *RecaptchaClient {
	if endpoint == "" {
		endpoint = DefaultRecaptchaEndpoint
	}
	return &RecaptchaClient{
		secret:   secret,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Configured reports whether a secret is set.
func (c *RecaptchaClient) Configured() bool { return c.secret != "" }

// Verify posts the token to siteverify. A rejected token is a result with
// Success=false, not an error.
func (c *RecaptchaClient) Verify(ctx context.Context, token, remoteIP string) (*RecaptchaResult, error) {
	form := url.Values{"secret": {c.secret}, "response": {token}}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("siteverify call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("siteverify returned %d", resp.StatusCode)
	}

	var result RecaptchaResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
