package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/app"
	"github.com/JakeFAU/urlharvest/internal/config"
)

// isolateMetrics points newApp at a fresh registry for the test's duration.
func isolateMetrics(t *testing.T) {
	t.Helper()
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (*app.App, error) {
		opts = append(opts, app.WithRegisterer(prometheus.NewRegistry()))
		return app.New(ctx, cfg, logger, opts...)
	}
	t.Cleanup(func() { newApp = orig })
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<a href="/guide.pdf">guide</a>`))
	})
	mux.HandleFunc("/guide.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCrawlCommandPersistsAndPrintsSummary(t *testing.T) {
	isolateMetrics(t)
	t.Setenv("HARVEST_CRAWLER_DELAY", "0s")
	site := newSite(t)
	out := t.TempDir()

	stdout, err := execute(t, "crawl",
		"--seed", site.URL+"/",
		"--out", out,
		"--categories", "pdf",
		"--formats", "txt,csv",
		"--workers", "2",
	)
	require.NoError(t, err, stdout)

	assert.Contains(t, stdout, "completed")
	assert.Contains(t, stdout, "URLs collected: 2")
	assert.Contains(t, stdout, "Total URLs Scraped: 2")
	assert.Contains(t, stdout, "Unique Domains: 1")

	for _, name := range []string{
		"PDFDatabase.db", "MiscellaneousDatabase.db",
		"ScrapedUrls.txt", "ScrapedUrls.csv", "SummaryReport.txt",
	} {
		_, err := os.Stat(filepath.Join(out, name))
		require.NoError(t, err, name)
	}
	_, err = os.Stat(filepath.Join(out, "ImagesDatabase.db"))
	assert.True(t, os.IsNotExist(err), "unselected categories are not persisted")

	txt, err := os.ReadFile(filepath.Join(out, "ScrapedUrls.txt"))
	require.NoError(t, err)
	assert.Equal(t, site.URL+"/\n"+site.URL+"/guide.pdf\n", string(txt))
}

func TestCrawlCommandErrors(t *testing.T) {
	isolateMetrics(t)

	_, err := execute(t, "crawl")
	require.ErrorContains(t, err, "seed")

	_, err = execute(t, "crawl", "--seed", "ftp://example.com/", "--out", t.TempDir())
	require.ErrorContains(t, err, "invalid seed")

	_, err = execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "crawl", "--seed", "https://example.com/")
	require.ErrorContains(t, err, "load config")

	_, err = execute(t, "crawl", "--seed", "https://example.com/", "--categories", "spreadsheets")
	require.ErrorContains(t, err, "unknown category")
}

func TestServeStopsWhenContextEnds(t *testing.T) {
	isolateMetrics(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = port
	cfg.Store.Dir = t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rt := &runtime{cfg: cfg, logger: zap.NewNop()}
	require.NoError(t, runServe(ctx, rt))
}
