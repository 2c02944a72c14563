// Package sqlite stores category URL sets in one SQLite file per category.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/urlharvest/internal/store"
)

// DefaultSuffix is appended to the store name to form the file name.
const DefaultSuffix = "Database"

const schema = `
CREATE TABLE IF NOT EXISTS ScrapedUrls (
	Id INTEGER PRIMARY KEY AUTOINCREMENT,
	Url TEXT NOT NULL,
	ScrapeDate DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
)`

const insertRow = `INSERT INTO ScrapedUrls (Url) VALUES (?)`

const selectRows = `SELECT Id, Url, ScrapeDate FROM ScrapedUrls ORDER BY Id`

// Config controls where database files are created.
type Config struct {
	Dir string
	// Suffix is appended to every store name; empty selects DefaultSuffix.
	Suffix string
}

// Sink creates <Dir>/<name><Suffix>.db files on demand.
type Sink struct {
	dir    string
	suffix string
}

var _ store.Sink = (*Sink)(nil)

// New builds a Sink, creating Dir if needed.
func New(cfg Config) (*Sink, error) {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	suffix := cfg.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return &Sink{dir: dir, suffix: suffix}, nil
}

// Path returns the database file used for name.
func (s *Sink) Path(name string) string {
	return filepath.Join(s.dir, name+s.suffix+".db")
}

// Open opens (creating if necessary) the database for name and ensures the
// ScrapedUrls table exists.
func (s *Sink) Open(ctx context.Context, name string) (store.Appender, error) {
	return OpenFile(ctx, s.Path(name))
}

// Appender writes rows into one SQLite file over a single connection.
type Appender struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	closed bool
}

// OpenFile opens the database at path and ensures the schema.
func OpenFile(ctx context.Context, path string) (*Appender, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	return &Appender{db: db, path: path}, nil
}

// Path returns the database file path.
func (a *Appender) Path() string {
	return a.path
}

// AppendBatch inserts urls in a single transaction.
func (a *Appender) AppendBatch(ctx context.Context, urls []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return store.ErrClosed
	}
	if len(urls) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertRow)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	for _, u := range urls {
		if _, err := stmt.ExecContext(ctx, u); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert %q: %w", u, err)
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rows returns every committed row in insertion order.
func (a *Appender) Rows(ctx context.Context) ([]store.Row, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, store.ErrClosed
	}
	rows, err := a.db.QueryContext(ctx, selectRows)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []store.Row
	for rows.Next() {
		var (
			row  store.Row
			date any
		)
		if err := rows.Scan(&row.ID, &row.URL, &date); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if row.ScrapeDate, err = parseScrapeDate(date); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close releases the connection. Calling Close twice is safe.
func (a *Appender) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close sqlite %s: %w", a.path, err)
	}
	return nil
}

// ReadRows opens the database at path and returns its rows.
func ReadRows(ctx context.Context, path string) ([]store.Row, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	a, err := OpenFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = a.Close() }()
	return a.Rows(ctx)
}

var scrapeDateLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

func parseScrapeDate(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseScrapeDateText(t)
	case []byte:
		return parseScrapeDateText(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected ScrapeDate type %T", v)
	}
}

func parseScrapeDateText(s string) (time.Time, error) {
	for _, layout := range scrapeDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse ScrapeDate %q", s)
}
