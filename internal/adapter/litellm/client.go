// Package litellm implements the model port over a LiteLLM proxy's
// OpenAI-compatible chat completions API.
package litellm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Strob0t/runtask-analyzer/internal/resilience"
)

// Client talks to a LiteLLM proxy.
type Client struct {
	baseURL    string
	masterKey  string
	modelID    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a LiteLLM client. modelID is used when a request names no model.
// timeout bounds each inference call.
func NewClient(baseURL, masterKey, modelID string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   baseURL,
		masterKey: masterKey,
		modelID:   modelID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// SetHTTPClient replaces the HTTP client, e.g. with an instrumented one.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health/liveliness", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.masterKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.masterKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
