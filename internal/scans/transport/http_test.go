package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/chainscout/internal/relevance"
	"github.com/pendergraft/chainscout/internal/scans/domain"
)

// mockService implements Service for testing
type mockService struct {
	scans   map[string]*domain.Scan
	order   []string
	runErr  error
	lastReq domain.RunRequest
}

func newMockService() *mockService {
	return &mockService{scans: make(map[string]*domain.Scan)}
}

func (m *mockService) add(s *domain.Scan) {
	m.scans[s.ID] = s
	m.order = append(m.order, s.ID)
}

func (m *mockService) Run(ctx context.Context, req domain.RunRequest) (*domain.Scan, error) {
	m.lastReq = req
	if m.runErr != nil {
		return nil, m.runErr
	}
	threshold := 0.8
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	s := &domain.Scan{
		ID:        fmt.Sprintf("scan-%d", len(m.order)+1),
		Source:    "https://chainlist.test/rpcs.json",
		Threshold: threshold,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	m.add(s)
	return s, nil
}

func (m *mockService) Get(ctx context.Context, id string) (*domain.Scan, error) {
	if s, ok := m.scans[id]; ok {
		return s, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockService) Latest(ctx context.Context) (*domain.Scan, error) {
	if len(m.order) == 0 {
		return nil, domain.ErrNotFound
	}
	return m.scans[m.order[len(m.order)-1]], nil
}

func (m *mockService) List(ctx context.Context, pagination domain.PaginationParams) (*domain.ListResult, error) {
	if pagination.Cursor == "bogus" {
		return nil, domain.ErrInvalidCursor
	}
	var scans []domain.Scan
	for i := len(m.order) - 1; i >= 0 && len(scans) < pagination.Limit; i-- {
		scans = append(scans, *m.scans[m.order[i]])
	}
	return &domain.ListResult{Scans: scans, HasMore: len(m.order) > pagination.Limit}, nil
}

func setupRouter(svc Service) *chi.Mux {
	r := chi.NewRouter()
	h := NewHandler(svc)
	r.Route("/api/v1/scans", func(r chi.Router) {
		h.RegisterReadRoutes(r)
		h.RegisterWriteRoutes(r)
	})
	return r
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestHandler_Run(t *testing.T) {
	t.Run("default threshold", func(t *testing.T) {
		svc := newMockService()
		router := setupRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans/", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.True(t, svc.lastReq.Record)
		assert.Nil(t, svc.lastReq.Threshold)

		var resp ScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "scan-1", resp.ID)
		assert.Equal(t, "2025-06-01T00:00:00Z", resp.CreatedAt)
		assert.NotNil(t, resp.Findings)
	})

	t.Run("threshold override", func(t *testing.T) {
		svc := newMockService()
		router := setupRouter(svc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans/", bytes.NewBufferString(`{"threshold":0.5}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, svc.lastReq.Threshold)
		assert.Equal(t, 0.5, *svc.lastReq.Threshold)
	})

	t.Run("invalid json", func(t *testing.T) {
		router := setupRouter(newMockService())

		req := httptest.NewRequest(http.MethodPost, "/api/v1/scans/", bytes.NewBufferString(`{`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_REQUEST", decodeError(t, rec))
	})

	errorCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid threshold", fmt.Errorf("%w: out of range", domain.ErrInvalidThreshold), http.StatusBadRequest, "INVALID_REQUEST"},
		{"upstream down", fmt.Errorf("%w: timeout", domain.ErrSourceUnavailable), http.StatusBadGateway, "UPSTREAM_ERROR"},
		{"no history", domain.ErrNoHistory, http.StatusServiceUnavailable, "NO_HISTORY"},
		{"unexpected", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newMockService()
			svc.runErr = tc.err
			router := setupRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/scans/", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, decodeError(t, rec))
		})
	}
}

func TestHandler_Get(t *testing.T) {
	svc := newMockService()
	tvl := 3e6
	svc.add(&domain.Scan{
		ID:        "scan-1",
		Threshold: 0.8,
		Matched:   1,
		Duration:  1500 * time.Millisecond,
		Findings:  []relevance.Finding{{ChainID: 137, Name: "Polygon Mainnet", Score: 0.85, TVL: &tvl, RPCCount: 9}},
	})
	router := setupRouter(svc)

	t.Run("found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/scan-1", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp ScanResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(1500), resp.DurationMS)
		require.Len(t, resp.Findings, 1)
		assert.Equal(t, int64(137), resp.Findings[0].ChainID)
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/nope", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "NOT_FOUND", decodeError(t, rec))
	})

	t.Run("latest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/latest", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"scan-1"`)
	})
}

func TestHandler_List(t *testing.T) {
	svc := newMockService()
	for i := 0; i < 3; i++ {
		svc.add(&domain.Scan{ID: fmt.Sprintf("scan-%d", i+1), Findings: []relevance.Finding{{ChainID: 1}}})
	}
	router := setupRouter(svc)

	t.Run("limit and order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/?limit=2", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp ScanListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 2)
		assert.Equal(t, "scan-3", resp.Data[0].ID)
		assert.Equal(t, 2, resp.Pagination.Limit)
		assert.True(t, resp.Pagination.HasMore)
		assert.NotContains(t, rec.Body.String(), "findings")
	})

	t.Run("out of range limit falls back", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/?limit=500", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		var resp ScanListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 20, resp.Pagination.Limit)
	})

	t.Run("bad cursor", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/scans/?cursor=bogus", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
