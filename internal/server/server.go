// Package server provides the HTTP server setup and wiring.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/pendergraft/chainscout/internal/auth"
	"github.com/pendergraft/chainscout/internal/chainlist"
	"github.com/pendergraft/chainscout/internal/config"
	"github.com/pendergraft/chainscout/internal/manifest"
	"github.com/pendergraft/chainscout/internal/middleware/logging"
	"github.com/pendergraft/chainscout/internal/middleware/ratelimit"
	"github.com/pendergraft/chainscout/internal/middleware/realip"
	"github.com/pendergraft/chainscout/internal/observability/metrics"
	scansDomain "github.com/pendergraft/chainscout/internal/scans/domain"
	scansTransport "github.com/pendergraft/chainscout/internal/scans/transport"
	"github.com/pendergraft/chainscout/internal/storage"
)

// Server is the HTTP server
type Server struct {
	cfg      *config.Config
	store    storage.Store
	logger   *slog.Logger
	router   *chi.Mux
	limiter  *ratelimit.Limiter
	resolver *realip.Resolver
	source   scansDomain.Source

	scansSvc scansTransport.Service
}

// Option configures the server.
type Option func(*Server)

// WithSource replaces the chain-list client used for scans.
func WithSource(src scansDomain.Source) Option {
	return func(s *Server) {
		s.source = src
	}
}

// New creates a new server
func New(cfg *config.Config, store storage.Store, logger *slog.Logger, opts ...Option) (*Server, error) {
	resolver, err := realip.NewResolver(realip.Config{
		TrustProxy:     cfg.Proxy.TrustProxy,
		TrustedProxies: cfg.Proxy.TrustedProxies,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring proxies: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		router:   chi.NewRouter(),
		resolver: resolver,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.source == nil {
		s.source = chainlist.New(cfg.Chainlist.URL,
			chainlist.WithTimeout(time.Duration(cfg.Chainlist.TimeoutSeconds)*time.Second),
			chainlist.WithLogger(logger),
		)
	}
	if cfg.RateLimit.Enabled {
		s.limiter = ratelimit.New(ratelimit.Config{
			Enabled:        true,
			RequestsPerMin: cfg.RateLimit.RequestsPerMin,
			BurstSize:      cfg.RateLimit.BurstSize,
			CleanupMinutes: cfg.RateLimit.CleanupMinutes,
		})
	}

	scansImpl := scansDomain.NewService(s.source, store, cfg.Scan.Threshold)
	s.scansSvc = scansDomain.LoggingMiddleware(logger)(scansImpl)

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// RunBackground runs the rate limiter sweep and the scheduled scan until
// ctx is cancelled.
func (s *Server) RunBackground(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.limiter != nil {
		g.Go(func() error {
			s.limiter.Run(ctx)
			return nil
		})
	}

	if s.cfg.Scan.IntervalSeconds > 0 {
		interval := time.Duration(s.cfg.Scan.IntervalSeconds) * time.Second
		g.Go(func() error {
			s.scheduleScans(ctx, interval)
			return nil
		})
	}

	return g.Wait()
}

// scheduleScans records a scan immediately and then once per interval.
// Failures are logged and the schedule carries on.
func (s *Server) scheduleScans(ctx context.Context, interval time.Duration) {
	s.logger.Info("scheduled scans enabled", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := s.scansSvc.Run(ctx, scansDomain.RunRequest{Record: true}); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduled scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) setupMiddleware() {
	s.router.Use(realip.Middleware(s.resolver))
	if s.cfg.Server.MaxBodyBytes > 0 {
		s.router.Use(maxBodySize(s.cfg.Server.MaxBodyBytes))
	}
	if s.limiter != nil {
		s.router.Use(s.limiter.Handler)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(middleware.Timeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second))
	}
	s.router.Use(middleware.Compress(5))

	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, "+auth.HeaderName)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleReady)
	if metrics.Enabled() {
		s.router.Handle("/metrics", metrics.Handler())
	}

	scansHandler := scansTransport.NewHandler(s.scansSvc)

	requireAuth := func(r chi.Router) {
		if s.cfg.Auth.Type == "api-key" {
			r.Use(auth.Middleware(s.store, writeError))
		}
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			scansHandler.RegisterReadRoutes(r)

			r.Group(func(r chi.Router) {
				requireAuth(r)
				scansHandler.RegisterWriteRoutes(r)
			})
		})

		r.Get("/manifest", s.handleManifest)

		r.Group(func(r chi.Router) {
			requireAuth(r)
			r.Get("/auth/verify", s.handleVerifyKey)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once storage answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleVerifyKey lets clients check a key without triggering a scan.
func (s *Server) handleVerifyKey(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"valid": true, "auth": s.cfg.Auth.Type}
	if key := auth.GetAPIKeyFromContext(r.Context()); key != nil {
		resp["name"] = key.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleManifest serves the last generated manifest.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	path := (&manifest.Writer{OutputDir: s.cfg.Manifest.OutputDir}).Path()

	m, err := manifest.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.ManifestRead("missing")
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Manifest has not been generated")
			return
		}
		metrics.ManifestRead("error")
		s.logger.Error("reading manifest", "path", path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read manifest")
		return
	}

	metrics.ManifestRead("ok")
	writeJSON(w, http.StatusOK, m)
}

func maxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
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
