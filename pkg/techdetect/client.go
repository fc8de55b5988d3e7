// Package techdetect provides a client for a technology-stack detection API
// used by the tech-stack enrichment adapter.
package techdetect

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sourcing-cli/internal/resilience"
)

// Client defines the tech-stack detection operations.
type Client interface {
	// Detect looks up the technologies in use on a company website.
	Detect(ctx context.Context, domain string) (*DetectResponse, error)
}

// DetectResponse is the parsed detection API response.
type DetectResponse struct {
	Domain       string       `json:"domain"`
	Technologies []Technology `json:"technologies"`
}

// Technology is one detected product or platform.
type Technology struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	IsLive   bool   `json:"is_live"`
}

// Option configures the detection client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(base string) Option {
	return func(c *httpClient) {
		c.baseURL = base
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a new tech-stack detection client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "https://api.builtwith.com/v21/api.json",
		http: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Detect(ctx context.Context, domain string) (*DetectResponse, error) {
	q := url.Values{}
	q.Set("KEY", c.apiKey)
	q.Set("LOOKUP", domain)
	endpoint := c.baseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "techdetect: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "techdetect: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "techdetect: read body")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("techdetect: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var out DetectResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "techdetect: parse response")
	}
	if out.Domain == "" {
		out.Domain = domain
	}
	return &out, nil
}
