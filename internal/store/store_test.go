package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/progress"
)

type fakeSink struct {
	mu       sync.Mutex
	batches  map[string][][]string
	closed   map[string]bool
	failOpen map[string]bool
	failOn   map[string]int // fail the Nth batch (1-based) for a store
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		batches:  map[string][][]string{},
		closed:   map[string]bool{},
		failOpen: map[string]bool{},
		failOn:   map[string]int{},
	}
}

func (s *fakeSink) Open(_ context.Context, name string) (Appender, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen[name] {
		return nil, errors.New("disk full")
	}
	if _, ok := s.batches[name]; !ok {
		s.batches[name] = [][]string{}
	}
	return &fakeAppender{sink: s, name: name}, nil
}

func (s *fakeSink) rows(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, b := range s.batches[name] {
		out = append(out, b...)
	}
	return out
}

type fakeAppender struct {
	sink  *fakeSink
	name  string
	calls int
}

func (a *fakeAppender) AppendBatch(_ context.Context, urls []string) error {
	a.sink.mu.Lock()
	defer a.sink.mu.Unlock()
	a.calls++
	if a.sink.failOn[a.name] == a.calls {
		return errors.New("constraint violation")
	}
	a.sink.batches[a.name] = append(a.sink.batches[a.name], append([]string(nil), urls...))
	return nil
}

func (a *fakeAppender) Close() error {
	a.sink.mu.Lock()
	defer a.sink.mu.Unlock()
	a.sink.closed[a.name] = true
	return nil
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

func urlsN(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i%26))
	}
	return out
}

func TestAppendAllBatches(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	a, err := sink.Open(context.Background(), "PDF")
	require.NoError(t, err)

	n, err := AppendAll(context.Background(), a, urlsN("https://example.com/", 250), 100)
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	require.Len(t, sink.batches["PDF"], 3)
	assert.Len(t, sink.batches["PDF"][0], 100)
	assert.Len(t, sink.batches["PDF"][2], 50)
}

func TestAppendAllStopsAtFailedBatch(t *testing.T) {
	t.Parallel()

	sink := newFakeSink()
	sink.failOn["PDF"] = 2
	a, err := sink.Open(context.Background(), "PDF")
	require.NoError(t, err)

	n, err := AppendAll(context.Background(), a, urlsN("https://example.com/", 250), 100)
	require.ErrorContains(t, err, "append rows 100-199")
	assert.Equal(t, 100, n)
	assert.Len(t, sink.rows("PDF"), 100)
}

func TestPersistWritesSelectedCategoriesAndMiscellaneous(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://example.com/",
		"https://example.com/a.pdf",
		"https://example.com/b.json",
		"https://example.com/c.pdf",
	}
	sink := newFakeSink()
	events := &eventLog{}
	p := NewPersister(sink, 1, WithEmitter(events), WithCrawlID("c1"))

	written, err := p.Persist(context.Background(), category.Classify(urls), []category.Category{category.PDF, category.HTML})
	require.NoError(t, err)

	assert.Equal(t, map[category.Category]int{
		category.PDF:           2,
		category.HTML:          0,
		category.Miscellaneous: 1,
	}, written)
	assert.Equal(t, []string{"https://example.com/a.pdf", "https://example.com/c.pdf"}, sink.rows("PDF"))
	assert.Equal(t, []string{"https://example.com/"}, sink.rows("Miscellaneous"))
	assert.Contains(t, sink.batches, "HTML", "empty categories still create their store")
	assert.NotContains(t, sink.batches, "JSON", "unselected categories are not written")
	assert.True(t, sink.closed["PDF"])

	require.Len(t, events.events, 3)
	for _, evt := range events.events {
		assert.Equal(t, progress.StagePersist, evt.Stage)
		assert.Equal(t, "c1", evt.CrawlID)
		assert.NoError(t, evt.Validate())
	}
}

func TestPersistContainsCategoryFailures(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://example.com/",
		"https://example.com/a.pdf",
		"https://example.com/b.json",
	}
	sink := newFakeSink()
	sink.failOpen["PDF"] = true
	events := &eventLog{}
	p := NewPersister(sink, 0, WithEmitter(events))

	written, err := p.Persist(context.Background(), category.Classify(urls), []category.Category{category.PDF, category.JSON})
	require.ErrorContains(t, err, "open PDF store")

	assert.Equal(t, 0, written[category.PDF])
	assert.Equal(t, 1, written[category.JSON])
	assert.Equal(t, []string{"https://example.com/b.json"}, sink.rows("JSON"))
	assert.Equal(t, []string{"https://example.com/"}, sink.rows("Miscellaneous"))

	var failed int
	for _, evt := range events.events {
		if evt.Level == progress.LevelError {
			failed++
			assert.Equal(t, "PDF", evt.Label)
		}
	}
	assert.Equal(t, 1, failed)
}

func TestWithMiscellaneousDeduplicates(t *testing.T) {
	t.Parallel()

	got := withMiscellaneous([]category.Category{category.PDF, category.Miscellaneous, category.PDF})
	assert.Equal(t, []category.Category{category.PDF, category.Miscellaneous}, got)
}
