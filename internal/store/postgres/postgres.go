// Package postgres stores category URL sets in one Postgres table per category.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/urlharvest/internal/store"
)

// TablePrefix is prepended to the lower-cased store name.
const TablePrefix = "scraped_urls_"

var validTableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool used by the sink.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Sink creates per-category tables on demand in a shared pool.
type Sink struct {
	pool Pool
}

var _ store.Sink = (*Sink)(nil)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
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
	return &Sink{pool: pool}, nil
}

// NewWithPool builds a Sink from an existing pool (primarily for testing).
func NewWithPool(pool Pool) (*Sink, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &Sink{pool: pool}, nil
}

// Close releases the pool.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TableName maps a store name onto its table.
func TableName(name string) (string, error) {
	table := TablePrefix + strings.ToLower(name)
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Open ensures the table for name exists.
func (s *Sink) Open(ctx context.Context, name string) (store.Appender, error) {
	table, err := TableName(name)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	url TEXT NOT NULL,
	scrape_date TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &appender{pool: s.pool, table: table}, nil
}

// Rows returns every row stored under name in insertion order.
func (s *Sink) Rows(ctx context.Context, name string) ([]store.Row, error) {
	table, err := TableName(name)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT id, url, scrape_date FROM %s ORDER BY id`, table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		var row store.Row
		if err := rows.Scan(&row.ID, &row.URL, &row.ScrapeDate); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

type appender struct {
	pool  Pool
	table string
}

// AppendBatch inserts all urls with one statement inside a transaction.
func (a *appender) AppendBatch(ctx context.Context, urls []string) (err error) {
	if len(urls) == 0 {
		return nil
	}
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	query := fmt.Sprintf(`INSERT INTO %s (url) SELECT unnest($1::text[])`, a.table)
	if _, err = tx.Exec(ctx, query, urls); err != nil {
		return fmt.Errorf("insert into %s: %w", a.table, err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", a.table, err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the Sink.
func (a *appender) Close() error {
	return nil
}
