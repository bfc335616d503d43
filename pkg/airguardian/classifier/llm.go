package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/air-guardian/pkg/airguardian/types"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	DefaultOpenAIURL = "https://api.openai.com/v1"
	DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"
)

const systemPrompt = `You are an expert in air quality analysis and pollution source identification.

Your task is to classify the type of air pollution based on sensor readings.

Characteristic patterns:
- Cigarette smoke: High PM2.5, moderate CO, high VOC, normal CO2
- Vehicle exhaust: High PM2.5, high CO, moderate VOC, elevated CO2
- Cooking smoke: Very high PM2.5, low-moderate CO, high VOC, elevated CO2
- Chemical fumes: Low PM2.5, low CO, very high VOC, normal CO2
- Clean air: All values low

Output MUST be valid JSON with this exact structure:
{
    "air_type": "cigarette" | "vehicle" | "cooking" | "chemical" | "clean" | "unknown",
    "confidence": 0.0-1.0,
    "reasoning": "brief explanation of classification"
}`

// HTTPClient interface allows mocking http.Client in tests
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// LLMConfig configures a generative classifier backend
type LLMConfig struct {
	Provider  string
	URL       string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// LLMClassifier asks a hosted generative model to classify readings
type LLMClassifier struct {
	cfg         LLMConfig
	httpClient  HTTPClient
	temperature float64
}

// LLMOption customizes an LLMClassifier
type LLMOption func(*LLMClassifier)

// WithHTTPClient injects a custom HTTP client
func WithHTTPClient(client HTTPClient) LLMOption {
	return func(c *LLMClassifier) {
		c.httpClient = client
	}
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float64) LLMOption {
	return func(c *LLMClassifier) {
		c.temperature = t
	}
}

// NewLLMClassifier creates a generative classifier for the configured provider
func NewLLMClassifier(cfg LLMConfig, opts ...LLMOption) (*LLMClassifier, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.URL == "" {
			cfg.URL = DefaultOpenAIURL
		}
	case ProviderGemini:
		if cfg.URL == "" {
			cfg.URL = DefaultGeminiURL
		}
	default:
		return nil, fmt.Errorf("unsupported classifier provider %q", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("classifier model is required for provider %s", cfg.Provider)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	c := &LLMClassifier{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Classify sends the reading to the model and parses its JSON verdict
func (c *LLMClassifier) Classify(ctx context.Context, r types.Reading) (types.Classification, error) {
	var (
		raw string
		err error
	)
	switch c.cfg.Provider {
	case ProviderGemini:
		raw, err = c.generateGemini(ctx, userPrompt(r))
	default:
		raw, err = c.chatOpenAI(ctx, userPrompt(r))
	}
	if err != nil {
		return types.Classification{}, &ClassifierFailure{Backend: c.cfg.Provider, Err: err}
	}

	klog.V(4).InfoS("Classifier raw response", "provider", c.cfg.Provider, "device", r.DeviceID, "response", raw)

	cls, err := ParseResponse(raw)
	if err != nil {
		return types.Classification{}, &ClassifierFailure{Backend: c.cfg.Provider, Err: err}
	}
	return cls, nil
}

func userPrompt(r types.Reading) string {
	return fmt.Sprintf(`Classify the type of air pollution based on these sensor readings:

PM2.5: %g µg/m³
CO2: %g ppm
CO: %g ppm
VOC: %g ppb

What type of air pollution is this? Provide your classification in JSON format.`, r.PM25, r.CO2, r.CO, r.VOC)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *LLMClassifier) chatOpenAI(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    c.temperature,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	var out chatResponse
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	if err := c.post(ctx, c.cfg.URL+"/chat/completions", headers, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig map[string]interface{} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (c *LLMClassifier) generateGemini(ctx context.Context, prompt string) (string, error) {
	full := systemPrompt + "\n\n" + prompt + "\n\nRespond with valid JSON only."
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: full}}}},
		GenerationConfig: map[string]interface{}{
			"temperature":     c.temperature,
			"maxOutputTokens": c.cfg.MaxTokens,
		},
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.URL, url.PathEscape(c.cfg.Model), url.QueryEscape(c.cfg.APIKey))

	var out geminiResponse
	if err := c.post(ctx, endpoint, nil, body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("response has no candidates")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func (c *LLMClassifier) post(ctx context.Context, endpoint string, headers map[string]string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return fmt.Errorf("rate limit exceeded")
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("invalid API key")
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}
