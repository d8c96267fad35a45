package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Scans
	CREATE TABLE IF NOT EXISTS scans (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		threshold REAL NOT NULL,
		total_chains INTEGER NOT NULL,
		skipped INTEGER NOT NULL DEFAULT 0,
		matched INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Findings
	CREATE TABLE IF NOT EXISTS findings (
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		ordinal INTEGER NOT NULL,
		chain_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		chain TEXT NOT NULL,
		short_name TEXT,
		score REAL NOT NULL,
		tvl REAL,
		is_testnet INTEGER NOT NULL DEFAULT 0,
		has_parent INTEGER NOT NULL DEFAULT 0,
		parent_type TEXT,
		parent_chain TEXT,
		rpc_count INTEGER NOT NULL,
		PRIMARY KEY (scan_id, ordinal)
	);

	-- API keys
	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		created_at TEXT DEFAULT (datetime('now')),
		last_used_at TEXT,
		revoked_at TEXT
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
func (s *SQLiteStore) CreateScan(ctx context.Context, scan *Scan) error {
	prepareScan(scan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO scans (id, source, threshold, total_chains, skipped, matched, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, scan.ID, scan.Source, scan.Threshold, scan.TotalChains, scan.Skipped, scan.Matched, scan.DurationMS,
		scan.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("inserting scan: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings (scan_id, ordinal, chain_id, name, chain, short_name, score, tvl, is_testnet, has_parent, parent_type, parent_chain, rpc_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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

const sqliteScanColumns = `seq, id, source, threshold, total_chains, skipped, matched, duration_ms, created_at`

// GetScan retrieves a scan with its findings
func (s *SQLiteStore) GetScan(ctx context.Context, id string) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteScanColumns+` FROM scans WHERE id = ?`, id)
	return s.scanWithFindings(ctx, row)
}

// GetLatestScan retrieves the most recent scan with its findings
func (s *SQLiteStore) GetLatestScan(ctx context.Context) (*Scan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteScanColumns+` FROM scans ORDER BY seq DESC LIMIT 1`)
	return s.scanWithFindings(ctx, row)
}

// ListScans lists scans newest first with cursor-based pagination
func (s *SQLiteStore) ListScans(ctx context.Context, pagination PaginationParams) (*PaginatedResult[Scan], error) {
	query := `SELECT ` + sqliteScanColumns + ` FROM scans`
	var args []any
	if pagination.Cursor != "" {
		seq, err := parseCursor(pagination.Cursor)
		if err != nil {
			return nil, err
		}
		query += ` WHERE seq < ?`
		args = append(args, seq)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, pagination.Limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []Scan
	var seqs []int64
	for rows.Next() {
		scan, seq, err := scanSQLiteScan(rows)
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

func (s *SQLiteStore) scanWithFindings(ctx context.Context, row *sql.Row) (*Scan, error) {
	scan, _, err := scanSQLiteScan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ordinal, chain_id, name, chain, short_name, score, tvl, is_testnet, has_parent, parent_type, parent_chain, rpc_count
		FROM findings WHERE scan_id = ? ORDER BY ordinal
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteScan(row rowScanner) (*Scan, int64, error) {
	var scan Scan
	var seq int64
	var createdAt string
	err := row.Scan(&seq, &scan.ID, &scan.Source, &scan.Threshold, &scan.TotalChains, &scan.Skipped,
		&scan.Matched, &scan.DurationMS, &createdAt)
	if err != nil {
		return nil, 0, err
	}
	scan.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing created_at: %w", err)
	}
	return &scan, seq, nil
}

func scanFinding(row rowScanner) (*Finding, error) {
	var f Finding
	var shortName, parentType, parentChain sql.NullString
	var tvl sql.NullFloat64
	err := row.Scan(&f.Rank, &f.ChainID, &f.Name, &f.Chain, &shortName, &f.Score, &tvl, &f.IsTestnet,
		&f.HasParent, &parentType, &parentChain, &f.RPCCount)
	if err != nil {
		return nil, err
	}
	f.ShortName = shortName.String
	f.ParentType = parentType.String
	f.ParentChain = parentChain.String
	if tvl.Valid {
		v := tvl.Float64
		f.TVL = &v
	}
	return &f, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// CreateAPIKey creates a new API key
func (s *SQLiteStore) CreateAPIKey(ctx context.Context, name string) (string, error) {
	key := generateAPIKey()
	_, err := s.db.ExecContext(ctx, "INSERT INTO api_keys (id, key_hash, name, created_at) VALUES (?, ?, ?, datetime('now'))",
		generateID(), hashAPIKey(key), name)
	if err != nil {
		return "", err
	}
	return key, nil
}

// ValidateAPIKey validates an API key
func (s *SQLiteStore) ValidateAPIKey(ctx context.Context, key string) (*APIKey, error) {
	var ak APIKey
	err := s.db.QueryRowContext(ctx, "SELECT id, key_hash, name, created_at FROM api_keys WHERE key_hash = ? AND revoked_at IS NULL", hashAPIKey(key)).Scan(
		&ak.ID, &ak.KeyHash, &ak.Name, &ak.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Update last used
	_, _ = s.db.ExecContext(ctx, "UPDATE api_keys SET last_used_at = datetime('now') WHERE id = ?", ak.ID)
	return &ak, nil
}

// ListAPIKeys lists all active API keys
func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, created_at, last_used_at FROM api_keys WHERE revoked_at IS NULL ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var lastUsed sql.NullString
		if err := rows.Scan(&k.ID, &k.Name, &k.CreatedAt, &lastUsed); err != nil {
			return nil, err
		}
		k.LastUsedAt = lastUsed.String
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes an API key
func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE api_keys SET revoked_at = datetime('now') WHERE id = ? AND revoked_at IS NULL", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
