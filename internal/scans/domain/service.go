package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pendergraft/chainscout/internal/chainlist"
	"github.com/pendergraft/chainscout/internal/observability/metrics"
	"github.com/pendergraft/chainscout/internal/relevance"
	"github.com/pendergraft/chainscout/internal/storage"
	"github.com/pendergraft/chainscout/internal/validation"
)

// Common errors returned by the scan service.
var (
	ErrNotFound          = errors.New("scan not found")
	ErrInvalidThreshold  = errors.New("invalid threshold")
	ErrInvalidCursor     = errors.New("invalid cursor")
	ErrSourceUnavailable = errors.New("chain list unavailable")
	ErrNoHistory         = errors.New("scan history is not configured")
)

// Service defines the scan service interface.
type Service interface {
	// Run fetches the feed, ranks it and optionally records the result.
	Run(ctx context.Context, req RunRequest) (*Scan, error)

	// Get retrieves a recorded scan with its findings.
	Get(ctx context.Context, id string) (*Scan, error)

	// Latest retrieves the most recent recorded scan.
	Latest(ctx context.Context) (*Scan, error)

	// List lists recorded scans, newest first.
	List(ctx context.Context, pagination PaginationParams) (*ListResult, error)
}

// Source provides the chain list.
type Source interface {
	Fetch(ctx context.Context) (*chainlist.DecodeResult, error)
	URL() string
}

// Store is the subset of storage the service needs.
type Store interface {
	CreateScan(ctx context.Context, scan *storage.Scan) error
	GetScan(ctx context.Context, id string) (*storage.Scan, error)
	GetLatestScan(ctx context.Context) (*storage.Scan, error)
	ListScans(ctx context.Context, pagination storage.PaginationParams) (*storage.PaginatedResult[storage.Scan], error)
}

// service implements the Service interface.
type service struct {
	source    Source
	store     Store
	threshold float64
	now       func() time.Time
}

// Option configures the service.
type Option func(*service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
	}
}

// NewService creates a new scan service. store may be nil, in which case
// scans cannot be recorded or read back.
func NewService(source Source, store Store, threshold float64, opts ...Option) Service {
	s := &service{
		source:    source,
		store:     store,
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run fetches the feed, ranks it and optionally records the result.
func (s *service) Run(ctx context.Context, req RunRequest) (*Scan, error) {
	threshold := s.threshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	if err := validation.ValidateThreshold(threshold); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidThreshold, err)
	}
	if req.Record && s.store == nil {
		return nil, ErrNoHistory
	}

	start := s.now()
	feed, err := s.source.Fetch(ctx)
	if err != nil {
		metrics.ScanFailed("fetch_error")
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	ranked := relevance.Rank(feed.Chains, threshold)
	scan := &Scan{
		Source:      s.source.URL(),
		Threshold:   threshold,
		TotalChains: len(feed.Chains),
		Skipped:     len(feed.Skipped),
		Matched:     len(ranked),
		Duration:    s.now().Sub(start),
		CreatedAt:   start.UTC(),
		Findings:    relevance.Findings(ranked),
	}

	if req.Record {
		record := toStorage(scan)
		if err := s.store.CreateScan(ctx, record); err != nil {
			metrics.ScanFailed("store_error")
			return nil, fmt.Errorf("recording scan: %w", err)
		}
		scan.ID = record.ID
	}

	metrics.ScanCompleted(scan.Duration, scan.TotalChains, scan.Skipped, scan.Matched)
	return scan, nil
}

// Get retrieves a recorded scan with its findings.
func (s *service) Get(ctx context.Context, id string) (*Scan, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	scan, err := s.store.GetScan(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting scan: %w", err)
	}
	return fromStorage(scan), nil
}

// Latest retrieves the most recent recorded scan.
func (s *service) Latest(ctx context.Context) (*Scan, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	scan, err := s.store.GetLatestScan(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting latest scan: %w", err)
	}
	return fromStorage(scan), nil
}

// List lists recorded scans, newest first.
func (s *service) List(ctx context.Context, pagination PaginationParams) (*ListResult, error) {
	if s.store == nil {
		return nil, ErrNoHistory
	}
	result, err := s.store.ListScans(ctx, storage.PaginationParams{
		Limit:  pagination.Limit,
		Cursor: pagination.Cursor,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCursor) {
			return nil, ErrInvalidCursor
		}
		return nil, fmt.Errorf("listing scans: %w", err)
	}

	scans := make([]Scan, len(result.Data))
	for i := range result.Data {
		scans[i] = *fromStorage(&result.Data[i])
	}

	return &ListResult{
		Scans:      scans,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	}, nil
}

func toStorage(scan *Scan) *storage.Scan {
	findings := make([]storage.Finding, len(scan.Findings))
	for i, f := range scan.Findings {
		sf := storage.Finding{
			ChainID:   f.ChainID,
			Name:      f.Name,
			Chain:     f.Chain,
			ShortName: f.ShortName,
			Score:     f.Score,
			TVL:       f.TVL,
			IsTestnet: f.IsTestnet,
			RPCCount:  f.RPCCount,
		}
		if f.Parent != nil {
			sf.HasParent = true
			sf.ParentType = f.Parent.Type
			sf.ParentChain = f.Parent.Chain
		}
		findings[i] = sf
	}

	return &storage.Scan{
		Source:      scan.Source,
		Threshold:   scan.Threshold,
		TotalChains: scan.TotalChains,
		Skipped:     scan.Skipped,
		DurationMS:  scan.Duration.Milliseconds(),
		CreatedAt:   scan.CreatedAt,
		Findings:    findings,
	}
}

func fromStorage(s *storage.Scan) *Scan {
	scan := &Scan{
		ID:          s.ID,
		Source:      s.Source,
		Threshold:   s.Threshold,
		TotalChains: s.TotalChains,
		Skipped:     s.Skipped,
		Matched:     s.Matched,
		Duration:    time.Duration(s.DurationMS) * time.Millisecond,
		CreatedAt:   s.CreatedAt,
	}
	if s.Findings == nil {
		return scan
	}

	scan.Findings = make([]relevance.Finding, len(s.Findings))
	for i, f := range s.Findings {
		finding := relevance.Finding{
			ChainID:   f.ChainID,
			Name:      f.Name,
			Chain:     f.Chain,
			ShortName: f.ShortName,
			Score:     f.Score,
			TVL:       f.TVL,
			IsTestnet: f.IsTestnet,
			RPCCount:  f.RPCCount,
		}
		if f.HasParent {
			finding.Parent = &chainlist.Parent{Type: f.ParentType, Chain: f.ParentChain}
		}
		scan.Findings[i] = finding
	}
	return scan
}
