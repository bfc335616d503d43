package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/features"
)

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemotePredictor calls a model-serving endpoint that hosts the artifact
type RemotePredictor struct {
	baseURL    string
	httpClient HTTPClient
}

// RemoteOption customizes a RemotePredictor
type RemoteOption func(*RemotePredictor)

// WithHTTPClient injects a custom HTTP client
func WithHTTPClient(client HTTPClient) RemoteOption {
	return func(r *RemotePredictor) {
		r.httpClient = client
	}
}

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Prediction *float64 `json:"prediction"`
}

// ServiceContract is the feature contract a model service advertises
type ServiceContract struct {
	NumFeatures int    `json:"num_features"`
	WindowSize  int    `json:"window_size"`
	Version     string `json:"version"`
}

// NewRemotePredictor creates a client for the model service at baseURL
func NewRemotePredictor(baseURL string, timeout time.Duration, opts ...RemoteOption) *RemotePredictor {
	r := &RemotePredictor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dimension returns the extractor's vector length; CheckContract verifies the
// service agrees.
func (r *RemotePredictor) Dimension() int {
	return features.Length
}

// CheckContract asks the service for its feature contract and fails with
// ModelContractError on mismatch.
func (r *RemotePredictor) CheckContract(ctx context.Context, windowSize int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/contract", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("model service unreachable: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code from model service: %d", resp.StatusCode)
	}

	var c ServiceContract
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		return fmt.Errorf("failed to decode contract: %v", err)
	}

	if c.NumFeatures != features.Length {
		return contractErrorf(r.baseURL, "service expects %d features, extractor produces %d", c.NumFeatures, features.Length)
	}
	if c.WindowSize != windowSize {
		return contractErrorf(r.baseURL, "service trained on window %d, pipeline window is %d", c.WindowSize, windowSize)
	}

	klog.V(2).InfoS("Model service contract verified",
		"url", r.baseURL,
		"version", c.Version,
		"features", c.NumFeatures,
		"windowSize", c.WindowSize)
	return nil
}

// Predict posts one feature vector and returns the service's prediction
func (r *RemotePredictor) Predict(ctx context.Context, x []float64) (float64, error) {
	if len(x) != features.Length {
		return 0, contractErrorf(r.baseURL, "got %d features, service expects %d", len(x), features.Length)
	}

	body, err := json.Marshal(predictRequest{Features: x})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return 0, fmt.Errorf("model service unavailable")
	default:
		return 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("failed to decode response: %v", err)
	}
	if out.Prediction == nil {
		return 0, fmt.Errorf("response has no prediction")
	}
	return *out.Prediction, nil
}
