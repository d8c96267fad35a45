package chainlist

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// StatusError is returned when the aggregator answers with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %s", e.URL, e.Status)
}

// Client fetches the chain-list feed
type Client struct {
	url        string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithTimeout sets the request timeout of the default HTTP client
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.httpClient.Timeout = d
	}
}

// WithLogger sets the logger used to report skipped records
func WithLogger(l *slog.Logger) Option {
	return func(client *Client) {
		client.logger = l
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(client *Client) {
		client.userAgent = ua
	}
}

// New creates a client for the feed at url
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:       url,
		userAgent: "chainscout",
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// URL returns the feed location
func (c *Client) URL() string {
	return c.url
}

// FetchAll downloads and decodes the full feed. Records that fail to
// decode are logged and left out.
func (c *Client) FetchAll(ctx context.Context) ([]ChainMetadata, error) {
	result, err := c.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return result.Chains, nil
}

// Fetch downloads and decodes the full feed, reporting skipped records.
// Transport failures and non-2xx answers are returned as errors; there is
// no retry.
func (c *Client) Fetch(ctx context.Context) (*DecodeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: c.url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	result, err := Decode(resp.Body)
	if err != nil {
		return nil, err
	}

	for _, s := range result.Skipped {
		c.logger.Warn("skipping malformed chain record", "index", s.Index, "error", s.Err)
	}
	for _, f := range result.Dropped {
		c.logger.Warn("ignoring malformed chain field",
			"index", f.Index, "chain_id", f.ChainID, "field", f.Field, "error", f.Err)
	}
	c.logger.Debug("fetched chain list",
		"url", c.url,
		"chains", len(result.Chains),
		"skipped", len(result.Skipped),
		"dropped_fields", len(result.Dropped),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return result, nil
}
