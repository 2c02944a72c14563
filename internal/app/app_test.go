package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/config"
	"github.com/JakeFAU/urlharvest/internal/export"
	"github.com/JakeFAU/urlharvest/internal/store/sqlite"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/about">about</a><a href="/report.pdf">report</a>`))
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/">home</a>`))
	})
	mux.HandleFunc("/report.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Crawler.Workers = 2
	cfg.Crawler.Delay = 0
	cfg.Crawler.RequestTimeout = 5 * time.Second
	cfg.Store.Dir = filepath.Join(dir, "stores")
	cfg.Export.Formats = []string{"txt", "csv"}
	cfg.Export.Dir = filepath.Join(dir, "exports")
	return cfg
}

func TestNewRunsPipelineEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NotNil(t, a.Dispatcher())
	assert.Equal(t, cfg, a.Config())

	out, err := a.Pipeline().Run(context.Background(), site.URL+"/")
	require.NoError(t, err)
	assert.True(t, out.Crawl.Completed)
	assert.ElementsMatch(t, []string{site.URL + "/", site.URL + "/about", site.URL + "/report.pdf"}, out.Crawl.URLs)
	assert.Equal(t, 1, out.Counts[category.PDF])

	for _, c := range category.All {
		_, err := os.Stat(filepath.Join(cfg.Store.Dir, string(c)+sqlite.DefaultSuffix+".db"))
		require.NoError(t, err, "store for %s", c)
	}
	rows, err := sqlite.ReadRows(context.Background(), filepath.Join(cfg.Store.Dir, "PDFDatabase.db"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, site.URL+"/report.pdf", rows[0].URL)

	for _, name := range []string{export.FormatText.FileName(), export.FormatCSV.FileName(), "SummaryReport.txt"} {
		_, err := os.Stat(filepath.Join(cfg.Export.Dir, name))
		require.NoError(t, err, name)
	}

	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestPerCrawlExports(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil,
		WithRegisterer(prometheus.NewRegistry()), WithPerCrawlExports())
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	out, err := a.Pipeline().Run(context.Background(), site.URL+"/")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Export.Dir, out.Crawl.ID, export.FormatText.FileName()))
	require.NoError(t, err)
}

func TestNewWithoutExportsOrNotifications(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Export.Formats = nil
	a, err := New(context.Background(), cfg, nil, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	_, err = os.Stat(cfg.Export.Dir)
	assert.True(t, os.IsNotExist(err), "export dir is only created when exporting")
}

func TestNewPostgresDriver(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Store.Driver = config.DriverPostgres
	cfg.Store.DSN = "postgres://harvest@127.0.0.1:1/harvest?connect_timeout=1"
	a, err := New(context.Background(), cfg, nil, WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err, "the pool connects lazily")
	require.NoError(t, a.Close(context.Background()))
}

func TestNewFailsFast(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	cfg := testConfig(t)
	first, err := New(context.Background(), cfg, nil, WithRegisterer(reg))
	require.NoError(t, err)
	defer func() { _ = first.Close(context.Background()) }()

	_, err = New(context.Background(), cfg, nil, WithRegisterer(reg))
	require.ErrorContains(t, err, "init event metrics")

	bad := testConfig(t)
	bad.Store.Driver = "mysql"
	_, err = New(context.Background(), bad, nil, WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "unknown store driver")

	bad = testConfig(t)
	bad.Crawler.MaxAttempts = 0
	_, err = New(context.Background(), bad, nil, WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "init dispatcher")
}
