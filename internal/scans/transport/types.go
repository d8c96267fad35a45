package transport

import "github.com/pendergraft/chainscout/internal/relevance"

// RunRequest is the HTTP request body for triggering a scan. An empty body
// uses the server's configured threshold.
type RunRequest struct {
	Threshold *float64 `json:"threshold,omitempty"`
}

// ScanSummary describes a scan without its findings.
type ScanSummary struct {
	ID          string  `json:"id,omitempty"`
	Source      string  `json:"source"`
	Threshold   float64 `json:"threshold"`
	TotalChains int     `json:"totalChains"`
	Skipped     int     `json:"skipped"`
	Matched     int     `json:"matched"`
	DurationMS  int64   `json:"durationMs"`
	CreatedAt   string  `json:"createdAt"`
}

// ScanResponse is a scan with its ranked findings.
type ScanResponse struct {
	ScanSummary
	Findings []relevance.Finding `json:"findings"`
}

// ScanListResponse is the response for listing scans.
type ScanListResponse struct {
	Data       []ScanSummary `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// Pagination contains cursor pagination details.
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}
