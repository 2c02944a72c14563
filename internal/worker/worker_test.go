package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/progress"
)

type fakeProcessor struct {
	mu      sync.Mutex
	results map[string]crawler.FetchResult
	seen    []string
}

func (p *fakeProcessor) Process(_ context.Context, url string, _ int) crawler.FetchResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, url)
	res, ok := p.results[url]
	if !ok {
		return crawler.FetchResult{URL: url, Outcome: crawler.OutcomeSuccess}
	}
	res.URL = url
	return res
}

func (p *fakeProcessor) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

type fakePauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *fakePauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

type fakeLimiter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (l *fakeLimiter) Wait(_ context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, url)
	return l.err
}

type eventLog struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *eventLog) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func seededFrontier(t *testing.T, seed string) (*crawler.Frontier, *crawler.URLCollection) {
	t.Helper()
	f := crawler.NewFrontier(crawler.FrontierOptions{})
	normalized, ok := f.Enqueue(seed, "")
	require.True(t, ok)
	c := crawler.NewURLCollection()
	c.Append(normalized)
	return f, c
}

func TestWorkerCrawlsUntilFrontierDrains(t *testing.T) {
	t.Parallel()

	frontier, collection := seededFrontier(t, "https://example.com/")
	proc := &fakeProcessor{results: map[string]crawler.FetchResult{
		"https://example.com/": {
			Outcome: crawler.OutcomeSuccess,
			Links:   []string{"https://example.com/a", "https://example.com/b", "https://example.com/a"},
		},
		"https://example.com/a": {
			Outcome: crawler.OutcomeSuccess,
			Links:   []string{"https://example.com/", "https://example.com/c#top"},
		},
		"https://example.com/b": {Outcome: crawler.OutcomeSkipped},
	}}
	pauser := &fakePauser{}
	events := &eventLog{}

	w := New(1, frontier, proc, collection, nil, pauser, events, Config{Delay: time.Second, CrawlID: "c1"}, zap.NewNop())
	stats := w.Run(context.Background())

	assert.Equal(t, []string{
		"https://example.com/",
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}, collection.Snapshot())
	assert.Equal(t, collection.Snapshot(), proc.Seen())
	assert.Equal(t, Stats{Processed: 4, Succeeded: 3, Skipped: 1, Discovered: 3}, stats)
	assert.True(t, frontier.Closed())

	// No pause once the last URL drained the frontier.
	assert.Len(t, pauser.delays, 3)
	for _, d := range pauser.delays {
		assert.Equal(t, time.Second, d)
	}

	require.Len(t, events.events, 3)
	for _, evt := range events.events {
		assert.Equal(t, progress.StageURLFound, evt.Stage)
		assert.Equal(t, "c1", evt.CrawlID)
		assert.Equal(t, 1, evt.WorkerID)
		assert.NoError(t, evt.Validate())
	}
	assert.Equal(t, "Added URL: https://example.com/a", events.events[0].Message)
}

func TestWorkerContinuesAfterFailureByDefault(t *testing.T) {
	t.Parallel()

	frontier, collection := seededFrontier(t, "https://example.com/")
	proc := &fakeProcessor{results: map[string]crawler.FetchResult{
		"https://example.com/": {
			Outcome: crawler.OutcomeSuccess,
			Links:   []string{"https://example.com/bad", "https://example.com/good"},
		},
		"https://example.com/bad": {Outcome: crawler.OutcomeFailed, Err: errors.New("boom")},
	}}

	w := New(1, frontier, proc, collection, nil, &fakePauser{}, nil, Config{}, nil)
	stats := w.Run(context.Background())

	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 1, stats.Failed)
	assert.Contains(t, proc.Seen(), "https://example.com/good")
}

func TestWorkerStopsOnFailureWhenConfigured(t *testing.T) {
	t.Parallel()

	frontier, collection := seededFrontier(t, "https://example.com/")
	proc := &fakeProcessor{results: map[string]crawler.FetchResult{
		"https://example.com/": {
			Outcome: crawler.OutcomeSuccess,
			Links:   []string{"https://example.com/bad", "https://example.com/good"},
		},
		"https://example.com/bad": {Outcome: crawler.OutcomeFailed, Err: errors.New("boom")},
	}}

	w := New(1, frontier, proc, collection, nil, &fakePauser{}, nil, Config{StopOnFailure: true}, nil)
	stats := w.Run(context.Background())

	assert.Equal(t, Stats{Processed: 2, Succeeded: 1, Failed: 1, Discovered: 2}, stats)
	assert.NotContains(t, proc.Seen(), "https://example.com/good")
	assert.False(t, frontier.Closed(), "unprocessed work remains queued")
}

func TestWorkerExitsOnCanceledResult(t *testing.T) {
	t.Parallel()

	frontier, collection := seededFrontier(t, "https://example.com/")
	proc := &fakeProcessor{results: map[string]crawler.FetchResult{
		"https://example.com/": {Outcome: crawler.OutcomeCanceled, Err: context.Canceled},
	}}
	pauser := &fakePauser{}

	w := New(1, frontier, proc, collection, nil, pauser, nil, Config{Delay: time.Second}, nil)
	stats := w.Run(context.Background())

	assert.Zero(t, stats.Processed)
	assert.Empty(t, pauser.delays)
}

func TestWorkerExitsWhenContextCanceledWhileIdle(t *testing.T) {
	t.Parallel()

	frontier := crawler.NewFrontier(crawler.FrontierOptions{})
	_, ok := frontier.Enqueue("https://example.com/", "")
	require.True(t, ok)
	// Hold the only URL so the worker blocks on an empty, open frontier.
	_, err := frontier.Dequeue(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Stats)
	w := New(1, frontier, &fakeProcessor{}, crawler.NewURLCollection(), nil, &fakePauser{}, nil, Config{}, nil)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case stats := <-done:
		assert.Zero(t, stats.Processed)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after cancellation")
	}
}

func TestWorkerWaitsOnLimiter(t *testing.T) {
	t.Parallel()

	frontier, collection := seededFrontier(t, "https://example.com/")
	limiter := &fakeLimiter{}
	w := New(1, frontier, &fakeProcessor{}, collection, limiter, &fakePauser{}, nil, Config{}, nil)
	w.Run(context.Background())
	assert.Equal(t, []string{"https://example.com/"}, limiter.calls)

	frontier, collection = seededFrontier(t, "https://example.com/")
	proc := &fakeProcessor{}
	limiter = &fakeLimiter{err: context.Canceled}
	w = New(1, frontier, proc, collection, limiter, &fakePauser{}, nil, Config{}, nil)
	w.Run(context.Background())
	assert.Empty(t, proc.Seen(), "limiter failure stops the worker before fetching")
}

func TestStatsAdd(t *testing.T) {
	t.Parallel()

	total := Stats{Processed: 1, Succeeded: 1}
	total.Add(Stats{Processed: 2, Skipped: 1, Failed: 1, Discovered: 5})
	assert.Equal(t, Stats{Processed: 3, Succeeded: 1, Skipped: 1, Failed: 1, Discovered: 5}, total)
}
