// Package dispatcher starts crawl runs and fans their frontier out to a pool
// of workers.
package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/clock/system"
	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/extract"
	collyfetcher "github.com/JakeFAU/urlharvest/internal/fetcher/colly"
	"github.com/JakeFAU/urlharvest/internal/id/uuid"
	"github.com/JakeFAU/urlharvest/internal/metrics"
	"github.com/JakeFAU/urlharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/urlharvest/internal/progress"
	"github.com/JakeFAU/urlharvest/internal/worker"
)

// Crawl status labels reported to metrics.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	// StatusStopped means every worker quit on failure before the frontier drained.
	StatusStopped = "stopped"
)

// Options wires collaborators into a Dispatcher. Nil fields get production
// defaults derived from Config.
type Options struct {
	Config    crawler.Config
	Transport crawler.Transport
	Extractor crawler.Extractor
	Pauser    crawler.Pauser
	Emitter   progress.Emitter
	Clock     crawler.Clock
	IDs       crawler.IDGenerator
	Logger    *zap.Logger
}

// Dispatcher launches crawls. It is safe for concurrent use; every Start gets
// its own frontier, collection and worker pool.
type Dispatcher struct {
	cfg       crawler.Config
	transport crawler.Transport
	extractor crawler.Extractor
	retry     *crawler.ExponentialRetryPolicy
	pauser    crawler.Pauser
	emitter   progress.Emitter
	clock     crawler.Clock
	ids       crawler.IDGenerator
	logger    *zap.Logger
}

// New validates the configuration and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawler config: %w", err)
	}
	d := &Dispatcher{
		cfg:       cfg,
		transport: opts.Transport,
		extractor: opts.Extractor,
		retry:     crawler.NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffFactor),
		pauser:    opts.Pauser,
		emitter:   opts.Emitter,
		clock:     opts.Clock,
		ids:       opts.IDs,
		logger:    opts.Logger,
	}
	if d.transport == nil {
		d.transport = collyfetcher.New(collyfetcher.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.RequestTimeout,
			MaxBodySize:   cfg.MaxBodyBytes,
		})
	}
	if d.extractor == nil {
		d.extractor = extract.NewRegistry()
	}
	if d.pauser == nil {
		d.pauser = crawler.TimerPauser{}
	}
	if d.emitter == nil {
		d.emitter = progress.Discard
	}
	if d.clock == nil {
		d.clock = system.New()
	}
	if d.ids == nil {
		d.ids = uuid.New()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	d.logger = d.logger.Named("dispatcher")
	return d, nil
}

// Result is the final state of a crawl.
type Result struct {
	ID   string
	Seed string
	// Completed is true when the frontier drained without cancellation.
	Completed bool
	Status    string
	// URLs is the snapshot of every admitted URL, seed first.
	URLs     []string
	Stats    worker.Stats
	Started  time.Time
	Finished time.Time
}

// Handle controls a running crawl.
type Handle struct {
	ID      string
	Seed    string
	Started time.Time

	cancel     context.CancelFunc
	done       chan struct{}
	collection *crawler.URLCollection

	mu       sync.Mutex
	stopped  bool
	result   Result
	finished bool
}

// Cancel asks the crawl to stop. Confirmed URLs stay in the collection.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()
	h.cancel()
}

// Done is closed once every worker has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the crawl ends and returns its result.
func (h *Handle) Wait() Result {
	<-h.done
	return h.Result()
}

// Result returns the final result, or a running snapshot if the crawl has not
// finished yet.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return h.result
	}
	return Result{
		ID:      h.ID,
		Seed:    h.Seed,
		Status:  StatusRunning,
		URLs:    h.collection.Snapshot(),
		Started: h.Started,
	}
}

// Snapshot returns the URLs collected so far.
func (h *Handle) Snapshot() []string {
	return h.collection.Snapshot()
}

// Start validates seed and launches a crawl bounded by ctx. It returns as soon
// as the workers are running.
func (d *Dispatcher) Start(ctx context.Context, seed string) (*Handle, error) {
	normalized, err := crawler.ValidateSeed(seed)
	if err != nil {
		return nil, err
	}
	crawlID, err := d.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("crawl id: %w", err)
	}

	opts := crawler.FrontierOptions{BlockedDomains: d.cfg.BlockedDomains}
	if d.cfg.SameHostOnly {
		if u, perr := url.Parse(normalized); perr == nil {
			opts.AllowedHost = u.Hostname()
		}
	}
	frontier := crawler.NewFrontier(opts)
	collection := crawler.NewURLCollection()
	admitted, ok := frontier.Enqueue(normalized, "")
	if !ok {
		return nil, fmt.Errorf("%w: %s is blocked", crawler.ErrInvalidSeed, normalized)
	}
	collection.Append(admitted)

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		ID:         crawlID,
		Seed:       admitted,
		Started:    d.clock.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
		collection: collection,
	}
	logger := d.logger.With(zap.String("crawl_id", crawlID), zap.String("seed", admitted))

	machine := crawler.NewFetchMachine(d.transport, d.extractor, d.retry,
		crawler.WithPauser(d.pauser),
		crawler.WithAllowedContentTypes(d.cfg.AllowedContentTypes),
		crawler.WithEmitter(d.emitter),
		crawler.WithLogger(logger),
		crawler.WithCrawlID(crawlID),
	)
	var limiter worker.Limiter
	if d.cfg.HostRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{DefaultRPS: d.cfg.HostRPS, DefaultBurst: 1})
	}
	wcfg := worker.Config{
		Delay:         d.cfg.Delay,
		StopOnFailure: d.cfg.StopWorkerOnFailure,
		CrawlID:       crawlID,
	}
	n := d.cfg.WorkerCount()
	workers := make([]*worker.Worker, n)
	for i := range workers {
		workers[i] = worker.New(i+1, frontier, machine, collection, limiter, d.pauser, d.emitter, wcfg, logger)
	}

	logger.Info("crawl started", zap.Int("workers", n))
	d.emitter.Emit(progress.Event{
		CrawlID: crawlID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageCrawlStart,
		Level:   progress.LevelInfo,
		Message: fmt.Sprintf("Starting crawl of %s with %d workers", admitted, n),
		URL:     admitted,
	})

	go d.run(runCtx, h, frontier, workers, logger)
	return h, nil
}

func (d *Dispatcher) run(
	ctx context.Context,
	h *Handle,
	frontier *crawler.Frontier,
	workers []*worker.Worker,
	logger *zap.Logger,
) {
	defer close(h.done)
	defer h.cancel()

	stats := make([]worker.Stats, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, wk *worker.Worker) {
			defer wg.Done()
			stats[i] = wk.Run(ctx)
		}(i, w)
	}
	wg.Wait()

	drained := frontier.Closed() && ctx.Err() == nil
	frontier.Close()

	var total worker.Stats
	for _, s := range stats {
		total.Add(s)
	}
	res := Result{
		ID:        h.ID,
		Seed:      h.Seed,
		Completed: drained,
		URLs:      h.collection.Snapshot(),
		Stats:     total,
		Started:   h.Started,
		Finished:  d.clock.Now(),
	}

	h.mu.Lock()
	var status string
	switch {
	case drained:
		status = StatusCompleted
	case h.stopped || ctx.Err() != nil:
		status = StatusCanceled
	default:
		status = StatusStopped
	}
	res.Status = status
	h.result = res
	h.finished = true
	h.mu.Unlock()

	metrics.ObserveCrawl(status)
	logger.Info("crawl finished",
		zap.String("status", status),
		zap.Int("urls", len(res.URLs)),
		zap.Int("processed", total.Processed),
		zap.Int("failed", total.Failed),
		zap.Duration("elapsed", res.Finished.Sub(res.Started)),
	)
	d.emitter.Emit(progress.Event{
		CrawlID: h.ID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageCrawlDone,
		Level:   progress.LevelInfo,
		Message: fmt.Sprintf("Crawl %s: %d URLs collected, %d processed", status, len(res.URLs), total.Processed),
		Dur:     res.Finished.Sub(res.Started),
	})
}
