package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPDoer interface allows mocking http.Client in tests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient appends events through a ledger gateway's REST endpoint
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient HTTPDoer
}

// HTTPOption customizes an HTTPClient
type HTTPOption func(*HTTPClient)

// WithHTTPDoer injects a custom HTTP client
func WithHTTPDoer(doer HTTPDoer) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient = doer
	}
}

// WithAPIKey sends a bearer token with every append
func WithAPIKey(key string) HTTPOption {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

// NewHTTPClient creates a ledger client posting to baseURL/events
func NewHTTPClient(baseURL string, timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type appendResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Append posts the event and returns the gateway's transaction id
func (c *HTTPClient) Append(ctx context.Context, event Event) (string, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	case http.StatusTooManyRequests:
		return "", fmt.Errorf("rate limit exceeded")
	case http.StatusServiceUnavailable:
		return "", fmt.Errorf("ledger unavailable")
	default:
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out appendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response: %v", err)
	}
	if out.TransactionID == "" {
		return "", fmt.Errorf("ledger returned an empty transaction id")
	}
	return out.TransactionID, nil
}
