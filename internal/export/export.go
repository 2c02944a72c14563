// Package export writes a URL snapshot as text, CSV and SQLite artifacts.
package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/store"
	"github.com/JakeFAU/urlharvest/internal/store/sqlite"
)

// BaseName is the file name stem shared by every export.
const BaseName = "ScrapedUrls"

// Format selects an export artifact.
type Format string

// Supported formats.
const (
	FormatText Format = "txt"
	FormatCSV  Format = "csv"
	FormatDB   Format = "db"
)

// AllFormats lists every supported format.
var AllFormats = []Format{FormatText, FormatCSV, FormatDB}

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown export format")

// Destination receives finished artifacts. storage/local and storage/gcs
// implement it.
type Destination interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ParseFormats resolves names case-insensitively, dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]bool)
	for _, name := range names {
		f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), ".")))
		if f == "" {
			continue
		}
		switch f {
		case FormatText, FormatCSV, FormatDB:
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// FileName returns the artifact name for f.
func (f Format) FileName() string {
	return BaseName + "." + string(f)
}

func (f Format) contentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatDB:
		return "application/vnd.sqlite3"
	default:
		return "text/plain; charset=utf-8"
	}
}

// WriteText writes one URL per line.
func WriteText(w io.Writer, urls []string) error {
	bw := bufio.NewWriter(w)
	for _, u := range urls {
		if _, err := bw.WriteString(u + "\n"); err != nil {
			return fmt.Errorf("write text: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flush text: %w", err)
	}
	return nil
}

// WriteCSV writes a single "Url" column with a header row.
func WriteCSV(w io.Writer, urls []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Url"}); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, u := range urls {
		if err := cw.Write([]string{u}); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteDB writes urls into a fresh ScrapedUrls table at path.
func WriteDB(ctx context.Context, path string, urls []string, batchSize int) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale %s: %w", path, err)
	}
	a, err := sqlite.OpenFile(ctx, path)
	if err != nil {
		return err
	}
	if _, err := store.AppendAll(ctx, a, urls, batchSize); err != nil {
		_ = a.Close()
		return err
	}
	return a.Close()
}

// Exporter renders snapshots and hands them to a Destination.
type Exporter struct {
	dest      Destination
	prefix    string
	batchSize int
	logger    *zap.Logger
}

// New builds an Exporter. prefix is prepended to every artifact path.
func New(dest Destination, prefix string, batchSize int, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{
		dest:      dest,
		prefix:    strings.Trim(prefix, "/"),
		batchSize: batchSize,
		logger:    logger.Named("export"),
	}
}

// Export writes urls in each format and returns the destination URIs keyed
// by format. It stops at the first failure.
func (e *Exporter) Export(ctx context.Context, urls []string, formats []Format) (map[Format]string, error) {
	uris := make(map[Format]string, len(formats))
	for _, f := range formats {
		uri, err := e.exportOne(ctx, urls, f)
		if err != nil {
			return uris, fmt.Errorf("export %s: %w", f, err)
		}
		e.logger.Info("export written", zap.String("format", string(f)), zap.String("uri", uri), zap.Int("urls", len(urls)))
		uris[f] = uri
	}
	return uris, nil
}

// Put stores an arbitrary artifact under the exporter prefix.
func (e *Exporter) Put(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	uri, err := e.dest.PutObject(ctx, e.path(name), contentType, r)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

func (e *Exporter) exportOne(ctx context.Context, urls []string, f Format) (string, error) {
	switch f {
	case FormatText, FormatCSV:
		var buf bytes.Buffer
		write := WriteText
		if f == FormatCSV {
			write = WriteCSV
		}
		if err := write(&buf, urls); err != nil {
			return "", err
		}
		return e.Put(ctx, f.FileName(), f.contentType(), &buf)
	case FormatDB:
		dir, err := os.MkdirTemp("", "urlharvest-export-")
		if err != nil {
			return "", fmt.Errorf("create temp dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		tmp := filepath.Join(dir, f.FileName())
		if err := WriteDB(ctx, tmp, urls, e.batchSize); err != nil {
			return "", err
		}
		// #nosec G304 -- tmp is inside a directory created above.
		file, err := os.Open(tmp)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", tmp, err)
		}
		defer func() { _ = file.Close() }()
		return e.Put(ctx, f.FileName(), f.contentType(), file)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// Sub returns an Exporter writing below name inside e's prefix.
func (e *Exporter) Sub(name string) *Exporter {
	cp := *e
	cp.prefix = e.path(strings.Trim(name, "/"))
	return &cp
}

func (e *Exporter) path(name string) string {
	if e.prefix == "" {
		return name
	}
	return e.prefix + "/" + name
}
