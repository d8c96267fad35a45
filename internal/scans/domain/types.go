// Package domain contains the business logic for relevance scans.
package domain

import (
	"time"

	"github.com/pendergraft/chainscout/internal/relevance"
)

// Scan is a completed relevance scan.
type Scan struct {
	ID          string
	Source      string
	Threshold   float64
	TotalChains int
	Skipped     int
	Matched     int
	Duration    time.Duration
	CreatedAt   time.Time
	Findings    []relevance.Finding
}

// RunRequest is the request to run a scan.
type RunRequest struct {
	// Threshold overrides the service default when set.
	Threshold *float64 `json:"threshold,omitempty"`
	// Record stores the scan in history. The HTTP API always records.
	Record bool `json:"-"`
}

// PaginationParams contains pagination options.
type PaginationParams struct {
	Limit  int
	Cursor string
}

// ListResult contains paginated list results.
type ListResult struct {
	Scans      []Scan
	HasMore    bool
	NextCursor string
}
