//go:build e2e

package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/chainscout/internal/config"
	"github.com/pendergraft/chainscout/internal/server"
	"github.com/pendergraft/chainscout/internal/storage"
	"github.com/pendergraft/chainscout/pkg/client"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
	Feed              *Feed
	ManifestDir       string
	TestServer        *httptest.Server
	Store             storage.Store
}

// feedJSON ranks Arbitrum at 0.9 and Goerli at 0.35. Polygon has no RPC and
// the non-object record is skipped.
const feedJSON = `[
  {
    "chainId": 42161,
    "name": "Arbitrum One",
    "chain": "ETH",
    "shortName": "arb1",
    "rpc": ["https://arb1.example", {"url": "wss://arb1.example/ws"}, {"url": "http://arb1-plain.example"}],
    "parent": {"type": "L2", "chain": "eip155-1"},
    "explorers": [{"name": "Arbiscan", "url": "https://arbiscan.io"}],
    "tvl": 2500000000,
    "features": [{"name": "EIP1559"}],
    "status": "active"
  },
  {"chainId": 5, "name": "Goerli", "chain": "ETH", "rpc": ["https://goerli.example"], "isTestnet": true},
  "not a chain record",
  {"chainId": 137, "name": "Polygon Mainnet", "chain": "Polygon", "rpc": []}
]`

// Feed serves feedJSON, or a 503 while down is set.
type Feed struct {
	*httptest.Server
	down atomic.Bool
}

// SetDown toggles the simulated outage for the rest of t.
func (f *Feed) SetDown(t *testing.T) {
	f.down.Store(true)
	t.Cleanup(func() { f.down.Store(false) })
}

func startFeed() *Feed {
	f := &Feed{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if f.down.Load() {
			http.Error(w, "maintenance", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, feedJSON)
	}))
	return f
}

// setupPostgresE starts a Postgres container and returns the connection string
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("chainscout"),
		postgres.WithUsername("chainscout"),
		postgres.WithPassword("chainscout"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// startServerE starts chainscout-server in-process against Postgres
func startServerE(connString, feedURL, manifestDir string) (*httptest.Server, storage.Store, error) {
	cfg := config.Default()
	cfg.Chainlist.URL = feedURL
	cfg.Chainlist.TimeoutSeconds = 5
	cfg.Manifest.OutputDir = manifestDir
	cfg.Storage = config.StorageConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: connString},
	}
	cfg.Auth = config.AuthConfig{Type: "api-key"}
	cfg.Logging = config.LoggingConfig{Level: "debug", Format: "text"}
	cfg.RateLimit.Enabled = false

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	store, err := storage.New(cfg.Storage, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	srv, err := server.New(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to create server: %w", err)
	}

	return httptest.NewServer(srv.Handler()), store, nil
}

// newClient creates a new API client for the test server
func newClient(apiKey string) *client.Client {
	return client.New(testCtx.TestServer.URL, apiKey)
}

// createTestAPIKey creates a test API key using the store directly
func createTestAPIKey(t *testing.T, name string) string {
	t.Helper()
	key, err := testCtx.Store.CreateAPIKey(context.Background(), name)
	require.NoError(t, err, "Failed to create API key")
	return key
}

// assertHTTPError asserts that an error is an APIError with the expected code
func assertHTTPError(t *testing.T, err error, expectedStatus int, expectedCode string) {
	t.Helper()
	require.Error(t, err, "Expected an error")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "Error should be an APIError, got %v", err)
	require.Equal(t, expectedStatus, apiErr.StatusCode, "Status mismatch")
	require.Equal(t, expectedCode, apiErr.Code, "Error code mismatch")
}
