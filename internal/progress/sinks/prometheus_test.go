package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/urlharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	batch := []progress.Event{
		{CrawlID: "c1", TS: now, Stage: progress.StageCrawlStart, Level: progress.LevelInfo, Message: "start"},
		{
			CrawlID:  "c1",
			TS:       now,
			Stage:    progress.StageFetchDone,
			Level:    progress.LevelInfo,
			Message:  "fetched",
			URL:      "https://example.com/",
			WorkerID: 1,
			Bytes:    1024,
			Dur:      200 * time.Millisecond,
		},
		{
			CrawlID: "c1", TS: now, Stage: progress.StageFetchError, Level: progress.LevelError,
			Message: "boom", URL: "https://example.com/x",
		},
		{CrawlID: "c1", TS: now, Stage: progress.StageCrawlDone, Level: progress.LevelInfo, Message: "done", Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("CRAWL_START", "INFO")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("FETCH_DONE", "INFO")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("FETCH_ERROR", "ERROR")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.events.WithLabelValues("CRAWL_DONE", "INFO")))
	require.Equal(t, 1024.0, testutil.ToFloat64(sink.fetchBytes))
	require.Equal(t, 1, testutil.CollectAndCount(sink.fetchDuration))
	require.Equal(t, 1, testutil.CollectAndCount(sink.crawlRuntime))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
