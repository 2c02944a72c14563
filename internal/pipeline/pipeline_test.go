package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/dispatcher"
	"github.com/JakeFAU/urlharvest/internal/export"
	"github.com/JakeFAU/urlharvest/internal/publisher/memory"
	"github.com/JakeFAU/urlharvest/internal/storage/local"
	memstore "github.com/JakeFAU/urlharvest/internal/storage/memory"
	"github.com/JakeFAU/urlharvest/internal/store/sqlite"
)

type instantPauser struct{}

func (instantPauser) Pause(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<a href="/report.pdf">r</a><a href="/logo.png">l</a><a href="/about.html">a</a>`)
	})
	mux.HandleFunc("/about.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<a href="/">home</a>`)
	})
	for _, p := range []string{"/report.pdf", "/logo.png"} {
		mux.HandleFunc(p, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
		})
	}
	mux.HandleFunc("/slow/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slow/" {
			w.Header().Set("Content-Type", "text/plain")
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprint(w, `<a href="/slow/a.pdf">a</a>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newDispatcher(t *testing.T, delay time.Duration, pauser crawler.Pauser) *dispatcher.Dispatcher {
	t.Helper()
	cfg := crawler.DefaultConfig()
	cfg.Workers = 2
	cfg.Delay = delay
	cfg.RequestTimeout = 5 * time.Second
	d, err := dispatcher.New(dispatcher.Options{Config: cfg, Pauser: pauser})
	require.NoError(t, err)
	return d
}

func TestNewRequiresStarterAndSink(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.Error(t, err)

	_, err = New(Options{Starter: newDispatcher(t, 0, instantPauser{})})
	require.Error(t, err)
}

func TestRunPersistsExportsReportsAndNotifies(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	dbDir := t.TempDir()
	outDir := t.TempDir()
	sink, err := sqlite.New(sqlite.Config{Dir: dbDir})
	require.NoError(t, err)
	dest, err := local.New(local.Config{BaseDir: outDir})
	require.NoError(t, err)
	pub := memory.New()

	p, err := New(Options{
		Starter:   newDispatcher(t, 0, instantPauser{}),
		Sink:      sink,
		BatchSize: 2,
		Selection: []category.Category{category.PDF, category.HTML},
		Exporter:  export.New(dest, "", 2, nil),
		Formats:   []export.Format{export.FormatText, export.FormatCSV},
		Publisher: pub,
		Topic:     "crawls",
	})
	require.NoError(t, err)

	out, err := p.Run(context.Background(), srv.URL+"/")
	require.NoError(t, err)

	require.True(t, out.Crawl.Completed)
	require.Len(t, out.Crawl.URLs, 4)
	assert.Equal(t, 1, out.Counts[category.PDF])
	assert.Equal(t, 1, out.Counts[category.Images])
	assert.Equal(t, map[category.Category]int{
		category.PDF:           1,
		category.HTML:          1,
		category.Miscellaneous: 1,
	}, out.Persisted)

	rows, err := sqlite.ReadRows(context.Background(), sink.Path("PDF"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, srv.URL+"/report.pdf", rows[0].URL)
	assert.False(t, rows[0].ScrapeDate.Before(out.Crawl.Started.Truncate(time.Millisecond)))

	_, err = os.Stat(sink.Path("Images"))
	assert.True(t, os.IsNotExist(err), "unselected category must not be written")

	assert.Contains(t, out.Exports, export.FormatText)
	assert.Contains(t, out.Exports, export.FormatCSV)
	// #nosec G304 -- test reads from the controlled temp directory.
	summary, err := os.ReadFile(filepath.Join(outDir, "SummaryReport.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Total URLs Scraped: 4")
	assert.Contains(t, string(summary), "First URL: "+srv.URL+"/")
	assert.Contains(t, string(summary), "Unique Domains: 1")

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawls", msgs[0].Topic)
	n, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, out.Crawl.ID, n.CrawlID)
	assert.Equal(t, dispatcher.StatusCompleted, n.Status)
	assert.Equal(t, 4, n.URLs)
	assert.Equal(t, 1, n.Persisted["PDF"])
	assert.Len(t, n.Exports, 3)
	assert.Equal(t, "memory-1", out.MessageID)
}

func TestPerCrawlExportsNestUnderCrawlID(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	sink, err := sqlite.New(sqlite.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	blobs := memstore.NewBlobStore()

	p, err := New(Options{
		Starter:         newDispatcher(t, 0, instantPauser{}),
		Sink:            sink,
		Exporter:        export.New(blobs, "exports", 0, nil),
		Formats:         []export.Format{export.FormatText},
		PerCrawlExports: true,
	})
	require.NoError(t, err)

	out, err := p.Run(context.Background(), srv.URL+"/about.html")
	require.NoError(t, err)

	prefix := "exports/" + out.Crawl.ID + "/"
	assert.Equal(t, []string{prefix + "ScrapedUrls.txt", prefix + "SummaryReport.txt"}, blobs.Paths())
	assert.Equal(t, "memory://"+prefix+"SummaryReport.txt", out.ReportURI)

	obj, ok := blobs.Get(prefix + "ScrapedUrls.txt")
	require.True(t, ok)
	assert.Contains(t, string(obj.Data), srv.URL+"/about.html")
}

func TestFinishPersistsAfterCancellation(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	sink, err := sqlite.New(sqlite.Config{Dir: t.TempDir()})
	require.NoError(t, err)

	p, err := New(Options{Starter: newDispatcher(t, time.Minute, nil), Sink: sink})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := p.Start(ctx, srv.URL+"/slow/")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(h.Snapshot()) >= 2 }, 10*time.Second, 10*time.Millisecond)
	cancel()

	out, err := p.Finish(ctx, h, []category.Category{category.PDF})
	require.NoError(t, err)
	assert.False(t, out.Crawl.Completed)
	assert.Equal(t, 1, out.Persisted[category.PDF])
	assert.Equal(t, 1, out.Persisted[category.Miscellaneous])

	rows, err := sqlite.ReadRows(context.Background(), sink.Path("PDF"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, srv.URL+"/slow/a.pdf", rows[0].URL)
}

func TestFinishJoinsStageErrors(t *testing.T) {
	t.Parallel()

	srv := newSite(t)
	sink, err := sqlite.New(sqlite.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	pub := memory.New()
	pub.FailWith(errors.New("topic not found"))

	p, err := New(Options{
		Starter:   newDispatcher(t, 0, instantPauser{}),
		Sink:      sink,
		Publisher: pub,
	})
	require.NoError(t, err)

	out, err := p.Run(context.Background(), srv.URL+"/about.html")
	require.ErrorContains(t, err, "topic not found")
	assert.True(t, out.Crawl.Completed)
	assert.NotEmpty(t, out.Persisted, "persistence still ran")
}

func TestStartRejectsInvalidSeed(t *testing.T) {
	t.Parallel()

	sink, err := sqlite.New(sqlite.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	p, err := New(Options{Starter: newDispatcher(t, 0, instantPauser{}), Sink: sink})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), "not a url")
	require.ErrorIs(t, err, crawler.ErrInvalidSeed)
}
