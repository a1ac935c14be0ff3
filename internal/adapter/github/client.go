package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/resilience"
)

// DefaultAPIURL is the public GitHub REST endpoint.
const DefaultAPIURL = "https://api.github.com"

// Client posts issue comments.
type Client struct {
	apiURL     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a client for apiURL (DefaultAPIURL when empty).
func NewClient(apiURL string, httpClient *http.Client) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{apiURL: apiURL, httpClient: httpClient}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// PostPullRequestComment adds body as a comment on the pull request at prURL.
func (c *Client) PostPullRequestComment(ctx context.Context, prURL, token, body string) error {
	pr, err := ParsePullRequestURL(prURL)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("marshal comment: %w", err)
	}
	endpoint := pr.CommentsEndpoint(c.apiURL)

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode >= 300 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("%w: github API error %d: %s", domain.ErrUpstream, resp.StatusCode, string(data))
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}
