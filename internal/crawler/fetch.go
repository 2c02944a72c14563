package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/extract"
	"github.com/JakeFAU/urlharvest/internal/metrics"
	"github.com/JakeFAU/urlharvest/internal/progress"
)

// DefaultAllowedContentTypes lists the media types that are fetched after a probe.
var DefaultAllowedContentTypes = []string{
	"text/plain",
	"text/html",
	"application/json",
	"application/xml",
}

// FetchMachine drives one URL through probe, retry, fetch and extraction.
// A single machine is shared by every worker of a crawl.
type FetchMachine struct {
	transport Transport
	extractor Extractor
	retry     RetryPolicy
	pauser    Pauser
	allowed   map[string]struct{}
	emitter   progress.Emitter
	logger    *zap.Logger
	crawlID   string
}

// FetchOption customizes a FetchMachine.
type FetchOption func(*FetchMachine)

// WithPauser replaces the timer used for backoff waits.
func WithPauser(p Pauser) FetchOption {
	return func(m *FetchMachine) {
		if p != nil {
			m.pauser = p
		}
	}
}

// WithAllowedContentTypes replaces the probe allow-list. Entries are matched
// case-insensitively against the media type without parameters.
func WithAllowedContentTypes(types []string) FetchOption {
	return func(m *FetchMachine) {
		if len(types) == 0 {
			return
		}
		m.allowed = allowSet(types)
	}
}

// WithEmitter sets the destination for crawl activity events.
func WithEmitter(e progress.Emitter) FetchOption {
	return func(m *FetchMachine) {
		if e != nil {
			m.emitter = e
		}
	}
}

// WithLogger sets the machine's logger.
func WithLogger(l *zap.Logger) FetchOption {
	return func(m *FetchMachine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithCrawlID stamps emitted events with the crawl they belong to.
func WithCrawlID(id string) FetchOption {
	return func(m *FetchMachine) {
		m.crawlID = id
	}
}

// NewFetchMachine wires a transport, extractor and retry policy together.
func NewFetchMachine(transport Transport, extractor Extractor, retry RetryPolicy, opts ...FetchOption) *FetchMachine {
	if retry == nil {
		retry = NewExponentialRetryPolicy(0, 0, 0)
	}
	m := &FetchMachine{
		transport: transport,
		extractor: extractor,
		retry:     retry,
		pauser:    TimerPauser{},
		allowed:   allowSet(DefaultAllowedContentTypes),
		emitter:   progress.Discard,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func allowSet(types []string) map[string]struct{} {
	out := make(map[string]struct{}, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

// Process probes, fetches and parses rawURL. It never panics or returns an
// error: every terminal state is reported through the FetchResult.
func (m *FetchMachine) Process(ctx context.Context, rawURL string, workerID int) FetchResult {
	res := m.process(ctx, rawURL, workerID)
	metrics.ObserveFetch(string(res.Outcome), len(res.Body))
	return res
}

func (m *FetchMachine) process(ctx context.Context, rawURL string, workerID int) FetchResult {
	res := FetchResult{URL: rawURL}
	m.emit(progress.Event{Stage: progress.StageFetchStart, Message: "Processing URL: " + rawURL, URL: rawURL, WorkerID: workerID})

	probe, err := m.probe(ctx, rawURL, workerID, &res)
	if err != nil {
		return m.terminal(ctx, res, err, workerID)
	}
	res.ContentType = probe.ContentType

	mediaType := extract.MediaType(probe.ContentType)
	if _, ok := m.allowed[mediaType]; !ok {
		res.Outcome = OutcomeSkipped
		m.emit(progress.Event{
			Stage:    progress.StageSkip,
			Message:  fmt.Sprintf("Skipping %s: content type %q not allowed", rawURL, probe.ContentType),
			URL:      rawURL,
			WorkerID: workerID,
			Label:    "probe",
		})
		return res
	}

	if err := ctx.Err(); err != nil {
		return m.terminal(ctx, res, err, workerID)
	}
	resp, err := m.transport.Get(ctx, rawURL)
	if err != nil {
		return m.terminal(ctx, res, fmt.Errorf("get %s: %w", rawURL, err), workerID)
	}
	res.Body = resp.Body
	m.emit(progress.Event{
		Stage:    progress.StageFetchDone,
		Message:  "Fetched " + rawURL,
		URL:      rawURL,
		WorkerID: workerID,
		Bytes:    int64(len(resp.Body)),
		Dur:      resp.Duration,
	})

	if err := ctx.Err(); err != nil {
		return m.terminal(ctx, res, err, workerID)
	}
	base := resp.URL
	if base == "" {
		base = rawURL
	}
	found, err := m.extractor.Extract(ctx, probe.ContentType, base, resp.Body)
	switch {
	case errors.Is(err, extract.ErrNoExtractor):
		m.emit(progress.Event{
			Stage:    progress.StageFetchDone,
			Level:    progress.LevelWarning,
			Message:  fmt.Sprintf("No extractor for content type %q at %s", mediaType, rawURL),
			URL:      rawURL,
			WorkerID: workerID,
			Label:    "extract",
		})
	case err != nil:
		return m.terminal(ctx, res, fmt.Errorf("extract %s: %w", rawURL, err), workerID)
	}
	res.Links = found.Links
	res.Observations = found.Observations
	for _, obs := range found.Observations {
		m.emit(observationEvent(obs, rawURL, workerID))
	}
	res.Outcome = OutcomeSuccess
	return res
}

// probe issues HEAD requests until one succeeds, the retry policy gives up or
// ctx ends. No wait follows the final attempt.
func (m *FetchMachine) probe(ctx context.Context, rawURL string, workerID int, res *FetchResult) (ProbeResponse, error) {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return ProbeResponse{}, err
		}
		res.Attempts = attempt
		probe, err := m.transport.Probe(ctx, rawURL)
		if err == nil {
			return probe, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ProbeResponse{}, ctxErr
		}
		if !m.retry.ShouldRetry(err, attempt) {
			return ProbeResponse{}, fmt.Errorf("probe %s after %d attempt(s): %w", rawURL, attempt, err)
		}
		wait := m.retry.Backoff(attempt)
		metrics.ObserveProbeRetry()
		m.emit(progress.Event{
			Stage:    progress.StageRetry,
			Level:    progress.LevelWarning,
			Message:  fmt.Sprintf("Probe of %s failed (attempt %d), retrying in %s: %v", rawURL, attempt, wait, err),
			URL:      rawURL,
			WorkerID: workerID,
			Label:    "probe",
			Dur:      wait,
		})
		if err := m.pauser.Pause(ctx, wait); err != nil {
			return ProbeResponse{}, err
		}
	}
}

// terminal converts err into the matching non-success outcome. Any error
// observed after ctx ended counts as cancellation.
func (m *FetchMachine) terminal(ctx context.Context, res FetchResult, err error, workerID int) FetchResult {
	switch {
	case ctx.Err() != nil:
		res.Outcome = OutcomeCanceled
		res.Err = err
		return res
	case errors.Is(err, ErrDisallowed):
		res.Outcome = OutcomeSkipped
		m.emit(progress.Event{
			Stage:    progress.StageSkip,
			Message:  fmt.Sprintf("Skipping %s: %v", res.URL, err),
			URL:      res.URL,
			WorkerID: workerID,
			Label:    "robots",
		})
		return res
	}
	res.Outcome = OutcomeFailed
	res.Err = err
	m.logger.Warn("fetch failed",
		zap.String("url", res.URL),
		zap.Int("worker", workerID),
		zap.Int("attempts", res.Attempts),
		zap.Error(err),
	)
	m.emit(progress.Event{
		Stage:    progress.StageFetchError,
		Level:    progress.LevelError,
		Message:  fmt.Sprintf("Failed to process %s: %v", res.URL, err),
		URL:      res.URL,
		WorkerID: workerID,
	})
	return res
}

func observationEvent(obs extract.Observation, pageURL string, workerID int) progress.Event {
	evt := progress.Event{
		Stage:    progress.StageObserved,
		URL:      pageURL,
		WorkerID: workerID,
		Label:    obs.Kind,
	}
	switch obs.Kind {
	case extract.KindHiddenElement:
		evt.Message = "Hidden element: " + obs.Detail
		evt.Color = progress.ColorPurple
	case extract.KindMetaTag:
		evt.Message = "Meta tag: " + obs.Detail
	default:
		evt.Message = obs.Detail
	}
	return evt
}

func (m *FetchMachine) emit(evt progress.Event) {
	evt.CrawlID = m.crawlID
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	if evt.Level == "" {
		evt.Level = progress.LevelInfo
	}
	m.emitter.Emit(evt)
}
