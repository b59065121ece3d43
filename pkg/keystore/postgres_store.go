package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/gatehouse/pkg/auth"
)

// Schema creates the api_keys table used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS api_keys (
    key_hash    TEXT PRIMARY KEY,
    permissions TEXT[] NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL
)`

// PostgresConfig configures the connection pool.
type PostgresConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// OpenPostgres opens and pings a pool.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// PostgresStore keeps records in the api_keys table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an open pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create api_keys table: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, hash string) (*auth.APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT permissions, is_active, created_at FROM api_keys WHERE key_hash = $1`, hash)
	return scanRecord(row)
}

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, hash string, record *auth.APIKeyRecord) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, permissions, is_active, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key_hash) DO NOTHING`,
		hash, pq.Array(permissionStrings(record.Permissions)), record.IsActive, record.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result: %w", err)
	}
	if rows == 0 {
		return ErrKeyExists
	}
	return nil
}

// SetActive implements Store.
func (s *PostgresStore) SetActive(ctx context.Context, hash string, active bool) (*auth.APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE api_keys SET is_active = $2 WHERE key_hash = $1
		 RETURNING permissions, is_active, created_at`, hash, active)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*auth.APIKeyRecord, error) {
	var (
		perms  []string
		record auth.APIKeyRecord
	)
	err := row.Scan(pq.Array(&perms), &record.IsActive, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to query api key: %w", err)
	}

	record.Permissions = make([]auth.Permission, 0, len(perms))
	for _, p := range perms {
		record.Permissions = append(record.Permissions, auth.Permission(p))
	}
	return &record, nil
}

func permissionStrings(perms []auth.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}
