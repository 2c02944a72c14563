package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/metrics"
	"github.com/JakeFAU/urlharvest/internal/progress"
)

// DefaultBatchSize is the number of rows committed per transaction.
const DefaultBatchSize = 100

// ErrClosed is returned when appending to a closed Appender.
var ErrClosed = errors.New("store closed")

// Row is one committed ScrapedUrls record.
type Row struct {
	ID         int64
	URL        string
	ScrapeDate time.Time
}

// Sink opens named append-only URL stores, creating them on first use.
type Sink interface {
	Open(ctx context.Context, name string) (Appender, error)
}

// Appender writes URL rows into one store. Each AppendBatch call commits all
// of its rows or none of them.
type Appender interface {
	AppendBatch(ctx context.Context, urls []string) error
	Close() error
}

// AppendAll writes urls in sequential batches of batchSize and returns the
// number of rows committed before the first failure.
func AppendAll(ctx context.Context, a Appender, urls []string, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	written := 0
	for start := 0; start < len(urls); start += batchSize {
		end := min(start+batchSize, len(urls))
		if err := a.AppendBatch(ctx, urls[start:end]); err != nil {
			return written, fmt.Errorf("append rows %d-%d: %w", start, end-1, err)
		}
		written += end - start
	}
	return written, nil
}

// Persister writes a categorized URL set into one store per category.
type Persister struct {
	sink      Sink
	batchSize int
	emitter   progress.Emitter
	logger    *zap.Logger
	crawlID   string
}

// Option customizes a Persister.
type Option func(*Persister)

// WithEmitter reports per-category results as PERSIST events.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Persister) {
		if e != nil {
			p.emitter = e
		}
	}
}

// WithLogger sets the persister's logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Persister) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithCrawlID stamps emitted events with the owning crawl.
func WithCrawlID(id string) Option {
	return func(p *Persister) { p.crawlID = id }
}

// NewPersister builds a Persister. A non-positive batchSize selects DefaultBatchSize.
func NewPersister(sink Sink, batchSize int, opts ...Option) *Persister {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	p := &Persister{
		sink:      sink,
		batchSize: batchSize,
		emitter:   progress.Discard,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Persist writes every selected category (plus Miscellaneous) concurrently.
// Categories fail independently: all of them run to completion and the first
// error is returned along with the rows committed per category.
func (p *Persister) Persist(
	ctx context.Context,
	partition category.Partition,
	selection []category.Category,
) (map[category.Category]int, error) {
	targets := withMiscellaneous(selection)

	var (
		mu      sync.Mutex
		written = make(map[category.Category]int, len(targets))
		g       errgroup.Group
	)
	for _, c := range targets {
		urls := partition[c]
		g.Go(func() error {
			n, err := p.persistCategory(ctx, c, urls)
			mu.Lock()
			written[c] = n
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	return written, err
}

func (p *Persister) persistCategory(ctx context.Context, c category.Category, urls []string) (int, error) {
	name := string(c)
	n, err := p.appendCategory(ctx, name, urls)
	metrics.ObservePersist(name, n, err)

	evt := progress.Event{
		CrawlID: p.crawlID,
		TS:      time.Now().UTC(),
		Stage:   progress.StagePersist,
		Level:   progress.LevelInfo,
		Label:   name,
		Message: fmt.Sprintf("Saved %d URLs to %s", n, name),
	}
	if err != nil {
		p.logger.Error("persist category failed",
			zap.String("category", name),
			zap.Int("committed", n),
			zap.Error(err),
		)
		evt.Level = progress.LevelError
		evt.Message = fmt.Sprintf("Saving %s failed after %d URLs: %v", name, n, err)
	}
	p.emitter.Emit(evt)
	return n, err
}

func (p *Persister) appendCategory(ctx context.Context, name string, urls []string) (written int, err error) {
	a, err := p.sink.Open(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("open %s store: %w", name, err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s store: %w", name, cerr)
		}
	}()
	written, err = AppendAll(ctx, a, urls, p.batchSize)
	if err != nil {
		return written, fmt.Errorf("persist %s: %w", name, err)
	}
	return written, nil
}

func withMiscellaneous(selection []category.Category) []category.Category {
	out := make([]category.Category, 0, len(selection)+1)
	seen := make(map[category.Category]bool, len(selection)+1)
	for _, c := range selection {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if !seen[category.Miscellaneous] {
		out = append(out, category.Miscellaneous)
	}
	return out
}
