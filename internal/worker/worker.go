// Package worker implements the crawl loop run by each pool member.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/metrics"
	"github.com/JakeFAU/urlharvest/internal/progress"
)

// Frontier is the slice of crawler.Frontier a worker needs.
type Frontier interface {
	Enqueue(raw, base string) (string, bool)
	Dequeue(ctx context.Context) (string, error)
	Done()
	Closed() bool
}

// Processor fetches and parses one URL.
type Processor interface {
	Process(ctx context.Context, url string, workerID int) crawler.FetchResult
}

// Collector records newly discovered URLs.
type Collector interface {
	Append(url string)
}

// Limiter throttles requests per host. It may be nil.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Worker behavior.
type Config struct {
	// Delay is the pause after each processed URL.
	Delay time.Duration
	// StopOnFailure makes the worker exit after its first failed URL.
	StopOnFailure bool
	CrawlID       string
}

// Stats counts what a worker did during its run.
type Stats struct {
	Processed  int
	Succeeded  int
	Skipped    int
	Failed     int
	Discovered int
}

// Add merges other into s.
func (s *Stats) Add(other Stats) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Discovered += other.Discovered
}

// Worker consumes frontier URLs and feeds discovered links back into it.
type Worker struct {
	id         int
	frontier   Frontier
	processor  Processor
	collection Collector
	limiter    Limiter
	pauser     crawler.Pauser
	emitter    progress.Emitter
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Worker. id is 1-based and shows up in logs and events.
func New(
	id int,
	frontier Frontier,
	processor Processor,
	collection Collector,
	limiter Limiter,
	pauser crawler.Pauser,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:         id,
		frontier:   frontier,
		processor:  processor,
		collection: collection,
		limiter:    limiter,
		pauser:     pauser,
		emitter:    emitter,
		cfg:        cfg,
		logger:     logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming frontier URLs until the frontier is closed and
// drained, the context finishes, or (with StopOnFailure) a URL fails.
func (w *Worker) Run(ctx context.Context) Stats {
	var stats Stats
	for {
		url, err := w.frontier.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, crawler.ErrFrontierClosed) && ctx.Err() == nil {
				w.logger.Error("frontier dequeue failed", zap.Error(err))
			}
			return stats
		}
		stop := w.handleURL(ctx, url, &stats)
		w.frontier.Done()
		if stop || ctx.Err() != nil {
			return stats
		}
		if w.frontier.Closed() {
			continue
		}
		if err := w.pauser.Pause(ctx, w.cfg.Delay); err != nil {
			return stats
		}
	}
}

// handleURL processes one URL and reports whether the worker should stop.
func (w *Worker) handleURL(ctx context.Context, url string, stats *Stats) bool {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, url); err != nil {
			return true
		}
	}

	res := w.processor.Process(ctx, url, w.id)
	switch res.Outcome {
	case crawler.OutcomeCanceled:
		return true
	case crawler.OutcomeSkipped:
		stats.Processed++
		stats.Skipped++
		w.logger.Debug("url skipped", zap.String("url", url), zap.String("content_type", res.ContentType))
	case crawler.OutcomeFailed:
		stats.Processed++
		stats.Failed++
		w.logger.Warn("url failed",
			zap.String("url", url),
			zap.Int("attempts", res.Attempts),
			zap.Bool("stopping", w.cfg.StopOnFailure),
			zap.Error(res.Err),
		)
		return w.cfg.StopOnFailure
	default:
		stats.Processed++
		stats.Succeeded++
		w.enqueueLinks(url, res.Links, stats)
	}
	return false
}

func (w *Worker) enqueueLinks(pageURL string, links []string, stats *Stats) {
	for _, link := range links {
		normalized, added := w.frontier.Enqueue(link, pageURL)
		if !added {
			continue
		}
		w.collection.Append(normalized)
		stats.Discovered++
		metrics.ObserveDiscovered()
		w.emitter.Emit(progress.Event{
			CrawlID:  w.cfg.CrawlID,
			TS:       time.Now().UTC(),
			Stage:    progress.StageURLFound,
			Level:    progress.LevelInfo,
			Message:  "Added URL: " + normalized,
			WorkerID: w.id,
			Color:    progress.ColorGreen,
			URL:      normalized,
		})
	}
}
