package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pendergraft/chainscout/internal/config"
)

// ScanStore handles relevance scan history
type ScanStore interface {
	// CreateScan stores a scan and its findings atomically. ID, CreatedAt and
	// Matched are filled in when empty.
	CreateScan(ctx context.Context, scan *Scan) error
	GetScan(ctx context.Context, id string) (*Scan, error)
	GetLatestScan(ctx context.Context) (*Scan, error)
	ListScans(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Scan], error)
}

// APIKeyStore handles API key operations
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, name string) (key string, err error)
	ValidateAPIKey(ctx context.Context, key string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// Store combines all storage interfaces with lifecycle methods.
// Domain services define their own minimal interfaces based on their actual usage.
type Store interface {
	ScanStore
	APIKeyStore

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
}

// Scan is one recorded relevance scan
type Scan struct {
	ID          string
	Source      string // feed URL
	Threshold   float64
	TotalChains int
	Skipped     int
	Matched     int
	DurationMS  int64
	CreatedAt   time.Time
	Findings    []Finding // loaded by GetScan and GetLatestScan only
}

// Finding is a ranked chain within a scan
type Finding struct {
	Rank        int
	ChainID     int64
	Name        string
	Chain       string
	ShortName   string
	Score       float64
	TVL         *float64
	IsTestnet   bool
	ParentType  string
	ParentChain string
	HasParent   bool
	RPCCount    int
}

// APIKey represents an API key
type APIKey struct {
	ID         string
	Name       string
	KeyHash    string
	CreatedAt  string
	LastUsedAt string
	RevokedAt  string
}

// PaginationParams contains pagination options
type PaginationParams struct {
	Limit  int
	Cursor string
}

// PaginatedResult contains paginated results
type PaginatedResult[T any] struct {
	Data       []T
	HasMore    bool
	NextCursor string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
