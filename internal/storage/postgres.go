package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Scans
	CREATE TABLE IF NOT EXISTS scans (
		seq BIGSERIAL PRIMARY KEY,
		id UUID NOT NULL UNIQUE,
		source TEXT NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		total_chains INTEGER NOT NULL,
		skipped INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Findings
	CREATE TABLE IF NOT EXISTS findings (
		scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		chain_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		chain TEXT NOT NULL,
		short_name TEXT,
		score DOUBLE PRECISION NOT NULL,
		tvl DOUBLE PRECISION,
		is_testnet BOOLEAN NOT NULL DEFAULT FALSE,
		has_parent BOOLEAN NOT NULL DEFAULT FALSE,
		parent_type TEXT,
		parent_chain TEXT,
		rpc_count INTEGER NOT NULL,
		PRIMARY KEY (scan_id, ordinal)
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		last_used_at TIMESTAMPTZ,
		revoked_at TIMESTAMPTZ
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_findings_chain_id ON findings(chain_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateScan stores a scan and its findings in one transaction
func (s *PostgresStore) CreateScan(ctx context.Context, scan *Scan) error {
	prepareScan(scan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, source, threshold, total_chains, skipped, matched, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, scan.ID, scan.Source, scan.Threshold, scan.TotalChains, scan.Skipped, scan.Matched, scan.DurationMS, scan.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (scan_id, ordinal, chain_id, name, chain, short_name, score, tvl, is_testnet, has_parent, parent_type, parent_chain, rpc_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("preparing finding insert: %w", err)
	}
	defer stmt.Close()

	for i := range scan.Findings {
		f := &scan.Findings[i]
		f.Rank = i + 1
		_, err := stmt.ExecContext(ctx, scan.ID, f.Rank, f.ChainID, f.Name, f.Chain, f.ShortName, f.Score,
			nullFloat(f.TVL), f.IsTestnet, f.HasParent, f.ParentType, f.ParentChain, f.RPCCount)
		if err != nil {
			return fmt.Errorf("inserting finding %d: %w", f.ChainID, err)
		}
	}

	return tx.Commit()
}

const postgresScanColumns = `seq, id, source, threshold, total_chains, skipped, matched, duration_ms, created_at`

// GetScan retrieves a scan with its findings
func (s *PostgresStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresScanColumns+` FROM scans WHERE id = $1`, id)
	return s.scanWithFindings(ctx, row)
}

// GetLatestScan retrieves the most recent scan with its findings
func (s *PostgresStore) GetLatestScan(ctx context.Context) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postgresScanColumns+` FROM scans ORDER BY seq DESC LIMIT 1`)
	return s.scanWithFindings(ctx, row)
}

// ListScans lists scans newest first with cursor-based pagination
func (s *PostgresStore) ListScans(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Scan], error) {
	var rows *sql.Rows
	var err error
	if pagination.Cursor != "" {
		seq, perr := parseCursor(pagination.Cursor)
		if perr != nil {
			return nil, perr
		}
		rows, err = s.db.QueryContext(ctx, `SELECT `+postgresScanColumns+` FROM scans WHERE seq < $1 ORDER BY seq DESC LIMIT $2`,
			seq, pagination.Limit+1)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+postgresScanColumns+` FROM scans ORDER BY seq DESC LIMIT $1`,
			pagination.Limit+1)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	var seqs []int64
	for rows.Next() {
		scan, seq, err := scanPostgresScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *scan)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return paginate(scans, seqs, pagination.Limit), nil
}

func (s *PostgresStore) scanWithFindings(ctx context.Context, row *sql.Row) (*Scan, error) {
	scan, _, err := scanPostgresScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, chain_id, name, chain, short_name, score, tvl, is_testnet, has_parent, parent_type, parent_chain, rpc_count
		FROM findings WHERE scan_id = $1 ORDER BY ordinal
	`, scan.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scan.Findings = []Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		scan.Findings = append(scan.Findings, *f)
	}
	return scan, rows.Err()
}

func scanPostgresScan(row rowScanner) (*Scan, int64, error) {
	var scan Scan
	var seq int64
	var createdAt time.Time
	err := row.Scan(&seq, &scan.ID, &scan.Source, &scan.Threshold, &scan.TotalChains, &scan.Skipped,
		&scan.Matched, &scan.DurationMS, &createdAt)
	if err != nil {
		return nil, 0, err
	}
	scan.CreatedAt = createdAt.UTC()
	return &scan, seq, nil
}

// CreateAPIKey creates a new API key
func (s *PostgresStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name) VALUES ($1, $2, $3)",
		generateID(), hashAPIKey(key), name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *PostgresStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL", hashAPIKey(key)).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ak.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = NOW() WHERE id = $1", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var createdAt time.Time
		var lastUsed sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &createdAt, &lastUsed); err != nil {
			return nil, err
		}
		k.CreatedAt = createdAt.Format("2006-01-02 15:04:05")
		if lastUsed.Valid {
			k.LastUsedAt = lastUsed.Time.Format("2006-01-02 15:04:05")
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
