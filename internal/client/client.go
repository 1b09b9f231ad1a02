// Package client talks to the research backend's REST endpoints: task launch,
// cancellation and status for the admin panel, plus the chat routes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

// Config controls how the Client reaches the API.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client is a client for the research backend API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// APIError carries a non-success response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api request failed with status %d: %s", e.StatusCode, e.Message)
}

// New creates a new API client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{base: base, httpClient: httpClient, logger: logger}, nil
}

// BaseURL returns the API root the client was configured with.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// ResolveURL resolves ref (absolute or relative) against the base URL.
func (c *Client) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", ref, err)
	}
	return c.base.ResolveReference(u).String(), nil
}

// do sends a JSON request and decodes a JSON response into out when out is
// non-nil. Any status outside want is turned into an *APIError.
func (c *Client) do(ctx context.Context, method, path string, body, out any, want ...int) (int, error) {
	target, err := c.ResolveURL(path)
	if err != nil {
		return 0, err
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send %s %s: %w", method, path, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	c.logger.Debug("api request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response body (status %s): %w", resp.Status, err)
	}
	if !statusIn(resp.StatusCode, want) {
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(bodyBytes)}
	}
	if out == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response (status %s): %w", resp.Status, err)
	}
	return resp.StatusCode, nil
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}

func errorMessage(body []byte) string {
	var errorResponse struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &errorResponse) == nil && errorResponse.Error != "" {
		return errorResponse.Error
	}
	return strings.TrimSpace(string(body))
}

// StatusCode extracts the HTTP status from an *APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
