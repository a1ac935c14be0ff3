// Package amirelease looks up ECS-optimized AMI release notes published on the
// aws/amazon-ecs-ami GitHub repository.
package amirelease

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/Strob0t/runtask-analyzer/internal/adapter/tiered"
	"github.com/Strob0t/runtask-analyzer/internal/domain"
	"github.com/Strob0t/runtask-analyzer/internal/resilience"
)

const (
	defaultRepo     = "aws/amazon-ecs-ami"
	releasesPerPage = 100
	cacheKey        = "amirelease:releases"
)

// Release is one GitHub release of the AMI repository.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	PublishedAt time.Time `json:"published_at"`
}

// Detail is the release information matched to one image ID.
type Detail struct {
	ImageID     string    `json:"image_id"`
	Release     string    `json:"release"`
	Name        string    `json:"name,omitempty"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Components  []string  `json:"components,omitempty"`
}

var imageIDPattern = regexp.MustCompile(`^ami-[0-9a-f]{8,17}$`)

// componentPattern picks the release note lines that describe the software baked into the AMI.
var componentPattern = regexp.MustCompile(`(?i)kernel|docker|ecs.?agent|containerd|runc|nvidia`)

// Client fetches and caches the release list.
type Client struct {
	apiURL     string
	repo       string
	httpClient *http.Client
	cache      *tiered.Cache
	ttl        time.Duration
	breaker    *resilience.Breaker
}

// NewClient creates a lookup client. c may be nil to disable caching.
func NewClient(apiURL string, httpClient *http.Client, c *tiered.Cache, ttl time.Duration) *Client {
	if apiURL == "" {
		apiURL = "https://api.github.com"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		repo:       defaultRepo,
		httpClient: httpClient,
		cache:      c,
		ttl:        ttl,
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Lookup returns release details for every image ID mentioned in a release note.
// IDs that are malformed or not found are skipped.
func (c *Client) Lookup(ctx context.Context, imageIDs []string) ([]Detail, error) {
	ids := make([]string, 0, len(imageIDs))
	for _, id := range imageIDs {
		id = strings.TrimSpace(id)
		if imageIDPattern.MatchString(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no valid image ids", domain.ErrMalformedInput)
	}

	releases, err := c.Releases(ctx)
	if err != nil {
		return nil, err
	}

	var out []Detail
	for _, id := range ids {
		for i := range releases {
			if strings.Contains(releases[i].Body, id) {
				out = append(out, detailFor(id, &releases[i]))
				break
			}
		}
	}
	return out, nil
}

func detailFor(id string, r *Release) Detail {
	d := Detail{
		ImageID:     id,
		Release:     r.TagName,
		Name:        r.Name,
		URL:         r.HTMLURL,
		PublishedAt: r.PublishedAt,
	}
	for _, line := range strings.Split(r.Body, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-* "))
		if line != "" && componentPattern.MatchString(line) {
			d.Components = append(d.Components, line)
		}
	}
	return d
}

// Releases returns the most recent releases, served from cache when possible.
func (c *Client) Releases(ctx context.Context) ([]Release, error) {
	var (
		data []byte
		err  error
	)
	if c.cache != nil {
		data, err = c.cache.GetOrLoad(ctx, cacheKey, c.ttl, c.fetch)
	} else {
		data, err = c.fetch(ctx)
	}
	if err != nil {
		return nil, err
	}

	var releases []Release
	if err := json.Unmarshal(data, &releases); err != nil {
		return nil, fmt.Errorf("unmarshal releases: %w", err)
	}
	return releases, nil
}

func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", c.apiURL, c.repo, releasesPerPage)
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/vnd.github+json")

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
			return fmt.Errorf("%w: github releases %d: %s", domain.ErrUpstream, resp.StatusCode, string(data))
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
