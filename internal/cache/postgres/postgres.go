// Package postgres provides the Postgres-backed store for preview artifacts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unfurld/unfurld/internal/preview"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store keeps cache entries in a single keyed table. Expiry is enforced at
// read time; rows past their deadline are treated as absent.
type Store struct {
	pool  querier
	table string
	clock preview.Clock
}

// New creates a Store with its own connection pool.
func New(ctx context.Context, cfg Config, clock preview.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "preview_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table, clock: clock}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string, clock preview.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "preview_cache"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Get returns the entry stored under key if it has not expired.
func (s *Store) Get(ctx context.Context, key string) (preview.Entry, bool, error) {
	if s == nil || s.pool == nil {
		return preview.Entry{}, false, fmt.Errorf("postgres store is not configured")
	}
	query := fmt.Sprintf(
		`SELECT value, content_type FROM %s WHERE key = $1 AND expires_at > $2`,
		s.table,
	)

	var entry preview.Entry
	err := s.pool.QueryRow(ctx, query, key, s.clock.Now()).Scan(&entry.Value, &entry.ContentType)
	if errors.Is(err, pgx.ErrNoRows) {
		return preview.Entry{}, false, nil
	}
	if err != nil {
		return preview.Entry{}, false, fmt.Errorf("select cache entry: %w", err)
	}
	return entry, true, nil
}

// Put upserts the entry under key with an absolute deadline of now+ttl.
func (s *Store) Put(ctx context.Context, key string, entry preview.Entry, ttl time.Duration) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres store is not configured")
	}
	if ttl <= 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, value, content_type, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key) DO UPDATE SET
	value = EXCLUDED.value,
	content_type = EXCLUDED.content_type,
	expires_at = EXCLUDED.expires_at`, s.table)

	expiresAt := s.clock.Now().Add(ttl)
	if _, err := s.pool.Exec(ctx, query, key, entry.Value, entry.ContentType, expiresAt); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}
