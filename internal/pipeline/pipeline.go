// Package pipeline runs a crawl and routes its URL snapshot through
// categorization, persistence, export, reporting and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/dispatcher"
	"github.com/JakeFAU/urlharvest/internal/export"
	"github.com/JakeFAU/urlharvest/internal/progress"
	"github.com/JakeFAU/urlharvest/internal/report"
	"github.com/JakeFAU/urlharvest/internal/store"
)

// Starter launches crawls; *dispatcher.Dispatcher satisfies it.
type Starter interface {
	Start(ctx context.Context, seed string) (*dispatcher.Handle, error)
}

// Publisher announces finished crawls.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Options wires the pipeline stages. Exporter and Publisher are optional.
type Options struct {
	Starter   Starter
	Sink      store.Sink
	BatchSize int
	// Selection is used when Finish is called without one.
	Selection []category.Category
	Exporter  *export.Exporter
	Formats   []export.Format
	Publisher Publisher
	Topic     string
	Emitter   progress.Emitter
	Logger    *zap.Logger
	// PerCrawlExports places each crawl's artifacts below its crawl ID.
	PerCrawlExports bool
}

// Pipeline is safe for concurrent use by multiple crawls.
type Pipeline struct {
	opts   Options
	logger *zap.Logger
}

// New validates opts and builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Starter == nil {
		return nil, errors.New("pipeline: starter is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("pipeline: store sink is required")
	}
	if opts.Emitter == nil {
		opts.Emitter = progress.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, logger: logger.Named("pipeline")}, nil
}

// Outcome describes everything a finished crawl produced.
type Outcome struct {
	Crawl     dispatcher.Result
	Counts    map[category.Category]int
	Persisted map[category.Category]int
	Exports   map[export.Format]string
	Summary   report.Summary
	ReportURI string
	MessageID string
}

// Notification is the JSON payload published when a crawl finishes.
type Notification struct {
	CrawlID    string         `json:"crawl_id"`
	Seed       string         `json:"seed"`
	Status     string         `json:"status"`
	URLs       int            `json:"urls"`
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	Persisted  map[string]int `json:"persisted"`
	Exports    []string       `json:"exports,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Start launches the crawl for seed.
func (p *Pipeline) Start(ctx context.Context, seed string) (*dispatcher.Handle, error) {
	h, err := p.opts.Starter.Start(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("start crawl: %w", err)
	}
	return h, nil
}

// Run starts a crawl and finishes it with the default selection.
func (p *Pipeline) Run(ctx context.Context, seed string) (Outcome, error) {
	h, err := p.Start(ctx, seed)
	if err != nil {
		return Outcome{}, err
	}
	return p.Finish(ctx, h, nil)
}

// Finish waits for h and processes its snapshot. Post-crawl stages run on a
// context detached from ctx's cancellation so a canceled crawl still persists
// the URLs it confirmed. Stage failures are joined; later stages still run.
func (p *Pipeline) Finish(ctx context.Context, h *dispatcher.Handle, selection []category.Category) (Outcome, error) {
	res := h.Wait()
	if selection == nil {
		selection = p.opts.Selection
	}
	work := context.WithoutCancel(ctx)
	logger := p.logger.With(zap.String("crawl_id", res.ID))

	partition := category.Classify(res.URLs)
	out := Outcome{
		Crawl:   res,
		Counts:  partition.Counts(),
		Summary: report.Summarize(res.URLs),
	}

	var errs []error
	persister := store.NewPersister(p.opts.Sink, p.opts.BatchSize,
		store.WithEmitter(p.opts.Emitter),
		store.WithLogger(logger),
		store.WithCrawlID(res.ID),
	)
	persisted, err := persister.Persist(work, partition, selection)
	out.Persisted = persisted
	if err != nil {
		errs = append(errs, err)
	}

	if exporter := p.exporter(res.ID); exporter != nil {
		out.Exports, err = exporter.Export(work, res.URLs, p.opts.Formats)
		if err != nil {
			errs = append(errs, err)
		}
		out.ReportURI, err = exporter.Put(work, report.FileName, "text/plain; charset=utf-8",
			strings.NewReader(out.Summary.String()))
		if err != nil {
			errs = append(errs, err)
		}
	}

	if p.opts.Publisher != nil {
		out.MessageID, err = p.opts.Publisher.Publish(work, p.opts.Topic, notification(out))
		if err != nil {
			errs = append(errs, fmt.Errorf("publish notification: %w", err))
		}
	}

	err = errors.Join(errs...)
	fields := []zap.Field{
		zap.String("status", res.Status),
		zap.Int("urls", len(res.URLs)),
		zap.Int("processed", res.Stats.Processed),
		zap.Int("categories", len(out.Persisted)),
	}
	if err != nil {
		logger.Error("crawl pipeline finished with errors", append(fields, zap.Error(err))...)
	} else {
		logger.Info("crawl pipeline finished", fields...)
	}
	return out, err
}

func (p *Pipeline) exporter(crawlID string) *export.Exporter {
	if p.opts.Exporter == nil || !p.opts.PerCrawlExports {
		return p.opts.Exporter
	}
	return p.opts.Exporter.Sub(crawlID)
}

func notification(out Outcome) Notification {
	n := Notification{
		CrawlID:    out.Crawl.ID,
		Seed:       out.Crawl.Seed,
		Status:     out.Crawl.Status,
		URLs:       len(out.Crawl.URLs),
		Processed:  out.Crawl.Stats.Processed,
		Failed:     out.Crawl.Stats.Failed,
		Persisted:  make(map[string]int, len(out.Persisted)),
		StartedAt:  out.Crawl.Started,
		FinishedAt: out.Crawl.Finished,
	}
	for c, rows := range out.Persisted {
		n.Persisted[string(c)] = rows
	}
	for _, f := range export.AllFormats {
		if uri, ok := out.Exports[f]; ok {
			n.Exports = append(n.Exports, uri)
		}
	}
	if out.ReportURI != "" {
		n.Exports = append(n.Exports, out.ReportURI)
	}
	return n
}
