// Package hcp is the HCP Terraform API client used for plan retrieval,
// configuration downloads and task result callbacks.
package hcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/domain/runtask"
	"github.com/Strob0t/runtask-analyzer/internal/domain/tfplan"
	"github.com/Strob0t/runtask-analyzer/internal/resilience"
)

const contentTypeAPI = "application/vnd.api+json"

// HTTPError is a non-success response from HCP Terraform.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status %d - %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Unwrap classifies every HTTP error as an upstream failure.
func (e *HTTPError) Unwrap() error { return domain.ErrUpstream }

// Options tunes per-call timeouts and the bundle size ceiling.
type Options struct {
	CallbackTimeout time.Duration
	PlanTimeout     time.Duration
	BundleTimeout   time.Duration
	BundleMaxBytes  int64
}

// Client talks to one trusted HCP Terraform host. Every call validates its URL
// against that host before any network activity.
type Client struct {
	host       string
	pattern    *regexp.Regexp
	httpClient *http.Client
	breaker    *resilience.Breaker
	opts       Options
}

// NewClient creates a client bound to host (e.g. "app.terraform.io").
func NewClient(host string, httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		host:       host,
		pattern:    regexp.MustCompile(`^https://` + regexp.QuoteMeta(host) + `/`),
		httpClient: httpClient,
		opts:       opts,
	}
}

// SetBreaker attaches a circuit breaker to plan and configuration downloads.
// Task result callbacks bypass it: each run gets exactly one callback attempt.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Host returns the trusted host name.
func (c *Client) Host() string { return c.host }

// ValidateEndpoint reports whether u is an https URL on the trusted host.
// The match is anchored on scheme, host and the following slash.
func (c *Client) ValidateEndpoint(u string) bool {
	return c.pattern.MatchString(u)
}

func (c *Client) untrusted() error {
	return fmt.Errorf("%w: expected host is %s", domain.ErrUntrustedEndpoint, c.host)
}

// GetPlan fetches and parses the plan JSON for a post_plan run.
func (c *Client) GetPlan(ctx context.Context, url, token string) (tfplan.Plan, error) {
	if !c.ValidateEndpoint(url) {
		return tfplan.Plan{}, c.untrusted()
	}
	data, err := c.do(ctx, c.opts.PlanTimeout, http.MethodGet, url, token, nil, 0)
	if err != nil {
		return tfplan.Plan{}, fmt.Errorf("get plan: %w", err)
	}
	return tfplan.Parse(data)
}

// DownloadConfiguration fetches the configuration version archive for a pre_plan run.
func (c *Client) DownloadConfiguration(ctx context.Context, url, token string) ([]byte, error) {
	if !c.ValidateEndpoint(url) {
		return nil, c.untrusted()
	}
	data, err := c.do(ctx, c.opts.BundleTimeout, http.MethodGet, url, token, nil, c.opts.BundleMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("download configuration: %w", err)
	}
	return data, nil
}

// PatchTaskResult sends the task result to the run's callback URL.
func (c *Client) PatchTaskResult(ctx context.Context, url, token string, payload runtask.TaskResultPayload) error {
	if !c.ValidateEndpoint(url) {
		return c.untrusted()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	if _, err := c.roundTrip(ctx, c.opts.CallbackTimeout, http.MethodPatch, url, token, body, 0); err != nil {
		return fmt.Errorf("patch task result: %w", err)
	}
	return nil
}

// do runs a download through the breaker, when one is set.
func (c *Client) do(ctx context.Context, timeout time.Duration, method, url, token string, body []byte, limit int64) ([]byte, error) {
	if c.breaker == nil {
		return c.roundTrip(ctx, timeout, method, url, token, body, limit)
	}
	var result []byte
	err := c.breaker.Execute(func() error {
		data, err := c.roundTrip(ctx, timeout, method, url, token, body, limit)
		result = data
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) roundTrip(ctx context.Context, timeout time.Duration, method, url, token string, body []byte, limit int64) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentTypeAPI)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", domain.ErrUpstream, limit)
	}
	return data, nil
}

// Trips reports whether err should count toward opening the HCP breaker.
// Client errors (4xx) describe the request, not HCP availability.
func Trips(err error) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode >= 500
	}
	return true
}
