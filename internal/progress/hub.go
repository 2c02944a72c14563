package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config tunes how crawl activity is buffered before it reaches the sinks.
// Zero values fall back to the defaults below; Logger may be nil.
type Config struct {
	// BufferSize is how many events may wait for the batcher before Emit
	// starts dropping.
	BufferSize int
	// MaxBatchEvents flushes a batch as soon as it holds this many events.
	MaxBatchEvents int
	// MaxBatchWait is the longest the first event of a batch waits for a flush.
	MaxBatchWait time.Duration
	// SinkTimeout bounds each Sink.Consume call.
	SinkTimeout time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

const (
	defaultBufferSize     = 8192
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 100 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropWarnInterval      = 5 * time.Second
)

// Hub batches the activity feed of every running crawl (found URLs, skips,
// retries, failures, hidden elements) and hands each batch to its sinks in
// order. Emit never blocks a worker: when the buffer is full the event is
// dropped and counted against its crawl.
type Hub struct {
	cfg    Config
	sinks  []Sink
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *zap.Logger
	drops  dropCounter
	closed atomic.Bool

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batcher goroutine for sinks. The Hub accepts events
// immediately.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		sinks:  append([]Sink(nil), sinks...),
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
		drops:  dropCounter{interval: dropWarnInterval},
	}
	go h.run()
	return h
}

// Emit stamps and validates evt and queues it for the next batch. Events
// arriving after Close are ignored.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if evt.Level == "" {
		evt.Level = LevelInfo
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid crawl event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
	default:
		if pending, warn := h.drops.add(evt.CrawlID, time.Now()); warn {
			h.logger.Warn("crawl events dropped, sinks are falling behind",
				zap.String("crawl_id", evt.CrawlID),
				zap.String("stage", string(evt.Stage)),
				zap.Int64("dropped", pending),
			)
		}
	}
}

// Dropped reports how many events of crawlID were lost to backpressure. An
// empty crawlID returns the total across crawls.
func (h *Hub) Dropped(crawlID string) int64 {
	if h == nil {
		return 0
	}
	return h.drops.count(crawlID)
}

// Close stops intake, flushes what is buffered, closes the sinks and waits
// for the batcher to exit or ctx to end. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	// deadline is nil while the batch is empty.
	var deadline <-chan time.Time
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			switch {
			case len(batch) >= h.cfg.MaxBatchEvents:
				h.flush(batch)
				batch = batch[:0]
				deadline = nil
			case deadline == nil:
				deadline = time.After(h.cfg.MaxBatchWait)
			}
		case <-deadline:
			h.flush(batch)
			batch = batch[:0]
			deadline = nil
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

// drain flushes batch plus everything still buffered, then closes the sinks.
func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) flush(batch []Event) {
	if len(batch) == 0 {
		return
	}
	// Sinks may retain the slice; batch is reused by the caller.
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("crawl event sink failed", zap.Int("events", len(out)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("crawl event sink close failed", zap.Error(err))
		}
	}
}

// dropCounter tallies dropped events per crawl and throttles the warning
// about them to one per interval. The zero value warns on every drop.
type dropCounter struct {
	mu       sync.Mutex
	interval time.Duration
	total    int64
	byCrawl  map[string]int64
	pending  int64
	lastWarn time.Time
}

// add records one drop. It returns the drops since the last warning and
// whether a warning is due now.
func (d *dropCounter) add(crawlID string, now time.Time) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.byCrawl == nil {
		d.byCrawl = make(map[string]int64)
	}
	d.total++
	d.byCrawl[crawlID]++
	d.pending++
	if !d.lastWarn.IsZero() && now.Sub(d.lastWarn) < d.interval {
		return 0, false
	}
	pending := d.pending
	d.pending = 0
	d.lastWarn = now
	return pending, true
}

func (d *dropCounter) count(crawlID string) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if crawlID == "" {
		return d.total
	}
	return d.byCrawl[crawlID]
}
