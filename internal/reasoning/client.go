// Package reasoning is the single adapter for every call to the external
// reasoning service: ask a question, decode a structured answer, or fall
// back to a documented default.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"ai-speaking-assessment-service/internal/paramstore"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// ErrUnavailable is returned when no API key is configured.
var ErrUnavailable = errors.New("reasoning: service not configured")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completer sends a conversation and returns the assistant's reply text.
type Completer interface {
	Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error)
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("reasoning: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// KeySource yields the API key.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a key read from configuration.
type StaticKey string

func (k StaticKey) APIKey(context.Context) (string, error) {
	if strings.TrimSpace(string(k)) == "" {
		return "", ErrUnavailable
	}
	return strings.TrimSpace(string(k)), nil
}

// ParameterKey reads the key from Parameter Store. The stored value is either
// the raw key or a JSON object {"token": "..."}.
type ParameterKey struct {
	Getter paramstore.Getter
	Name   string
}

func (p ParameterKey) APIKey(ctx context.Context) (string, error) {
	raw, err := p.Getter.GetParameter(ctx, p.Name)
	if err != nil {
		return "", fmt.Errorf("reasoning: fetch api key: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("reasoning: decode api key parameter: %w", err)
		}
		raw = tp.Token
	}
	if raw == "" {
		return "", errors.New("reasoning: api key parameter is empty")
	}
	return raw, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Client is an OpenAI-compatible chat completions client.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	timeout     time.Duration
	httpClient  *http.Client
	keys        KeySource

	keyMu  sync.Mutex
	apiKey string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(baseURL); v != "" {
			c.baseURL = v
		}
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if v := strings.TrimSpace(model); v != "" {
			c.model = v
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every Complete call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

func WithTemperature(t float64) Option {
	return func(c *Client) {
		c.temperature = t
	}
}

// NewClient creates a client. The key is resolved on first use and cached
// once it resolves successfully.
func NewClient(keys KeySource, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("reasoning: key source must not be nil")
	}
	c := &Client{
		baseURL:     defaultBaseURL,
		model:       "openai/gpt-4o-mini",
		temperature: 0.3,
		timeout:     30 * time.Second,
		httpClient:  &http.Client{},
		keys:        keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPIKey(ctx context.Context) (string, error) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	key, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}
	c.apiKey = key
	return key, nil
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, messages []Message, jsonMode bool) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	apiKey, err := c.resolveAPIKey(ctx)
	if err != nil {
		return "", err
	}

	temp := c.temperature
	creq := chatRequest{Model: c.model, Messages: messages, Temperature: &temp}
	if jsonMode {
		creq.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, err := json.Marshal(creq)
	if err != nil {
		return "", fmt.Errorf("reasoning: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("reasoning: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("reasoning: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("reasoning: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("reasoning: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// Unavailable is a Completer that always fails, so every question resolves
// to its fallback. It stands in when no key is configured.
type Unavailable struct{}

func (Unavailable) Complete(context.Context, []Message, bool) (string, error) {
	return "", ErrUnavailable
}
