package domain

import (
	"context"
	"log/slog"
	"time"
)

// LoggingMiddleware returns a service middleware that logs all operations.
func LoggingMiddleware(logger *slog.Logger) func(Service) Service {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

type loggingMiddleware struct {
	next   Service
	logger *slog.Logger
}

func (m *loggingMiddleware) Run(ctx context.Context, req RunRequest) (*Scan, error) {
	start := time.Now()
	scan, err := m.next.Run(ctx, req)
	attrs := []any{
		"record", req.Record,
		"duration", time.Since(start),
		"error", err,
	}
	if scan != nil {
		attrs = append(attrs,
			"id", scan.ID,
			"threshold", scan.Threshold,
			"chains", scan.TotalChains,
			"skipped", scan.Skipped,
			"matched", scan.Matched,
		)
	}
	if err != nil {
		m.logger.Error("Run", attrs...)
	} else {
		m.logger.Info("Run", attrs...)
	}
	return scan, err
}

func (m *loggingMiddleware) Get(ctx context.Context, id string) (*Scan, error) {
	start := time.Now()
	scan, err := m.next.Get(ctx, id)
	m.logger.Debug("Get",
		"id", id,
		"duration", time.Since(start),
		"error", err,
	)
	return scan, err
}

func (m *loggingMiddleware) Latest(ctx context.Context) (*Scan, error) {
	start := time.Now()
	scan, err := m.next.Latest(ctx)
	m.logger.Debug("Latest",
		"duration", time.Since(start),
		"error", err,
	)
	return scan, err
}

func (m *loggingMiddleware) List(ctx context.Context, pagination PaginationParams) (*ListResult, error) {
	start := time.Now()
	result, err := m.next.List(ctx, pagination)
	m.logger.Debug("List",
		"limit", pagination.Limit,
		"cursor", pagination.Cursor,
		"duration", time.Since(start),
		"error", err,
	)
	return result, err
}
