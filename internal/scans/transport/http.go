// Package transport provides HTTP handlers for the scans domain.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pendergraft/chainscout/internal/relevance"
	"github.com/pendergraft/chainscout/internal/scans/domain"
)

// Service defines the scan service interface for HTTP transport.
type Service interface {
	Run(ctx context.Context, req domain.RunRequest) (*domain.Scan, error)
	Get(ctx context.Context, id string) (*domain.Scan, error)
	Latest(ctx context.Context) (*domain.Scan, error)
	List(ctx context.Context, pagination domain.PaginationParams) (*domain.ListResult, error)
}

// Handler handles HTTP requests for scans.
type Handler struct {
	svc Service
}

// NewHandler creates a new scans HTTP handler.
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterReadRoutes registers read-only scan routes (no auth required).
func (h *Handler) RegisterReadRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/latest", h.handleLatest)
	r.Get("/{id}", h.handleGet)
}

// RegisterWriteRoutes registers routes that trigger scans (auth required).
func (h *Handler) RegisterWriteRoutes(r chi.Router) {
	r.Post("/", h.handleRun)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	result, err := h.svc.List(r.Context(), domain.PaginationParams{
		Limit:  limit,
		Cursor: r.URL.Query().Get("cursor"),
	})
	if err != nil {
		writeServiceError(w, err, "Failed to list scans")
		return
	}

	data := make([]ScanSummary, len(result.Scans))
	for i := range result.Scans {
		data[i] = toSummary(&result.Scans[i])
	}

	writeJSON(w, http.StatusOK, ScanListResponse{
		Data: data,
		Pagination: Pagination{
			Limit:      limit,
			HasMore:    result.HasMore,
			NextCursor: result.NextCursor,
		},
	})
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	scan, err := h.svc.Latest(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to get latest scan")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(scan))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	scan, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err, "Failed to get scan")
		return
	}
	writeJSON(w, http.StatusOK, toResponse(scan))
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
		return
	}

	var req RunRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON")
			return
		}
	}

	scan, err := h.svc.Run(r.Context(), domain.RunRequest{
		Threshold: req.Threshold,
		Record:    true,
	})
	if err != nil {
		writeServiceError(w, err, "Failed to run scan")
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(scan))
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Scan not found")
	case errors.Is(err, domain.ErrInvalidThreshold):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid cursor")
	case errors.Is(err, domain.ErrSourceUnavailable):
		writeError(w, http.StatusBadGateway, "UPSTREAM_ERROR", err.Error())
	case errors.Is(err, domain.ErrNoHistory):
		writeError(w, http.StatusServiceUnavailable, "NO_HISTORY", "Scan history is not configured")
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", fallback)
	}
}

func toSummary(s *domain.Scan) ScanSummary {
	return ScanSummary{
		ID:          s.ID,
		Source:      s.Source,
		Threshold:   s.Threshold,
		TotalChains: s.TotalChains,
		Skipped:     s.Skipped,
		Matched:     s.Matched,
		DurationMS:  s.Duration.Milliseconds(),
		CreatedAt:   s.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toResponse(s *domain.Scan) ScanResponse {
	resp := ScanResponse{ScanSummary: toSummary(s), Findings: s.Findings}
	if resp.Findings == nil {
		resp.Findings = []relevance.Finding{}
	}
	return resp
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
