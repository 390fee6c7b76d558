package authsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RelayClient talks to the identity service's token endpoints.
type RelayClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewRelayClient creates a client for the identity service at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *RelayClient) url(path string) string {
	return c.BaseURL + path
}

// Refresh exchanges a refresh token for a brand-new token pair via
// POST /token/refresh. The old pair is dead after a successful call.
func (c *RelayClient) Refresh(ctx context.Context, refreshToken string) (*TokenPairResponse, error) {
	body, err := json.Marshal(RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/token/refresh"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send refresh request: %w", err)
	}

	var pair TokenPairResponse
	if err := decodeJSON(resp, &pair, http.StatusOK); err != nil {
		return nil, err
	}
	return &pair, nil
}

// Verify checks an access token via GET /token/verify and returns the user
// behind it. Invalid or expired tokens come back as an *OAuth2Error with
// a 401 status.
func (c *RelayClient) Verify(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/token/verify"), nil)
	if err != nil {
		return nil, fmt.Errorf("create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send verify request: %w", err)
	}

	var verified VerifyResponse
	if err := decodeJSON(resp, &verified, http.StatusOK); err != nil {
		return nil, err
	}
	return &verified.User, nil
}

// Livez reports whether the identity service process is up.
func (c *RelayClient) Livez(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/livez"), nil)
	if err != nil {
		return nil, fmt.Errorf("create livez request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send livez request: %w", err)
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// decodeJSON decodes a JSON response into target, turning non-expected
// statuses into typed OAuth2Errors.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		return parseErrorResponse(resp, bodyBytes)
	}

	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
