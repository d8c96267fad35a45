// Package client provides a Go client for the chainscout server API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a chainscout API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
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

// New creates a new chainscout client. apiKey may be empty for read-only use.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Parent is the parent-chain relation of a finding
type Parent struct {
	Type  string `json:"type,omitempty"`
	Chain string `json:"chain,omitempty"`
}

// Finding is one ranked chain of a scan
type Finding struct {
	ChainID   int64    `json:"chainId"`
	Name      string   `json:"name"`
	Chain     string   `json:"chain"`
	ShortName string   `json:"shortName,omitempty"`
	Score     float64  `json:"score"`
	TVL       *float64 `json:"tvl,omitempty"`
	IsTestnet bool     `json:"isTestnet"`
	Parent    *Parent  `json:"parent,omitempty"`
	RPCCount  int      `json:"rpcCount"`
}

// Scan is a recorded relevance scan
type Scan struct {
	ID          string    `json:"id"`
	Source      string    `json:"source"`
	Threshold   float64   `json:"threshold"`
	TotalChains int       `json:"totalChains"`
	Skipped     int       `json:"skipped"`
	Matched     int       `json:"matched"`
	DurationMS  int64     `json:"durationMs"`
	CreatedAt   string    `json:"createdAt"`
	Findings    []Finding `json:"findings,omitempty"`
}

// ListScansResponse is the response for listing scans
type ListScansResponse struct {
	Data       []Scan     `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// ManifestChain is a chain entry of the framework manifest
type ManifestChain struct {
	ChainID      int64    `json:"chainId"`
	Name         string   `json:"name"`
	RPCURLs      []string `json:"rpcUrls"`
	NativeSymbol string   `json:"nativeSymbol,omitempty"`
}

// ManifestDeployment is a deployment entry of the framework manifest
type ManifestDeployment struct {
	Address  string `json:"address"`
	RepoName string `json:"repoName"`
	ChainID  int64  `json:"chainId"`
	Network  string `json:"network"`
}

// Manifest is the framework manifest served by the API
type Manifest struct {
	GeneratedAt string               `json:"generatedAt"`
	Chains      []ManifestChain      `json:"chains"`
	Deployments []ManifestDeployment `json:"deployments"`
}

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ListScans lists recorded scans, newest first. Zero limit uses the server default.
func (c *Client) ListScans(ctx context.Context, limit int, cursor string) (*ListScansResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/api/v1/scans"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListScansResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetScan gets a scan with its findings
func (c *Client) GetScan(ctx context.Context, id string) (*Scan, error) {
	var resp Scan
	if err := c.get(ctx, "/api/v1/scans/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestScan gets the most recent scan
func (c *Client) LatestScan(ctx context.Context) (*Scan, error) {
	var resp Scan
	if err := c.get(ctx, "/api/v1/scans/latest", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerScan asks the server to run and record a scan. A nil threshold
// uses the server's configured value.
func (c *Client) TriggerScan(ctx context.Context, threshold *float64) (*Scan, error) {
	body := map[string]any{}
	if threshold != nil {
		body["threshold"] = *threshold
	}
	var resp Scan
	if err := c.post(ctx, "/api/v1/scans", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetManifest gets the current framework manifest
func (c *Client) GetManifest(ctx context.Context) (*Manifest, error) {
	var resp Manifest
	if err := c.get(ctx, "/api/v1/manifest", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// KeyInfo describes the key a request was authenticated with
type KeyInfo struct {
	Valid bool   `json:"valid"`
	Auth  string `json:"auth"`
	Name  string `json:"name,omitempty"`
}

// VerifyKey checks the client's API key without side effects. On servers
// running without authentication any key is accepted.
func (c *Client) VerifyKey(ctx context.Context) (*KeyInfo, error) {
	var resp KeyInfo
	if err := c.get(ctx, "/api/v1/auth/verify", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return &APIError{StatusCode: resp.StatusCode, Code: "HTTP_" + strconv.Itoa(resp.StatusCode), Message: resp.Status}
	}
	errResp.Error.StatusCode = resp.StatusCode
	return &errResp.Error
}
