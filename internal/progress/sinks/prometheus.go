package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/urlharvest/internal/progress"
)

// PrometheusSink exports crawl event counts via Prometheus.
type PrometheusSink struct {
	events        *prometheus.CounterVec
	fetchBytes    prometheus.Counter
	fetchDuration prometheus.Histogram
	crawlRuntime  prometheus.Histogram
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_events_total",
			Help: "Crawl events partitioned by stage and level.",
		}, []string{"stage", "level"}),
		fetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_fetch_bytes_total",
			Help: "Response bytes downloaded by completed fetches.",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_fetch_duration_seconds",
			Help:    "Duration of completed fetches.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		crawlRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvest_crawl_runtime_seconds",
			Help:    "Wall time per finished crawl.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.events,
		s.fetchBytes,
		s.fetchDuration,
		s.crawlRuntime,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Stage), string(evt.Level)).Inc()
		switch evt.Stage {
		case progress.StageFetchDone:
			if evt.Bytes > 0 {
				s.fetchBytes.Add(float64(evt.Bytes))
			}
			if evt.Dur > 0 {
				s.fetchDuration.Observe(evt.Dur.Seconds())
			}
		case progress.StageCrawlDone:
			if evt.Dur > 0 {
				s.crawlRuntime.Observe(evt.Dur.Seconds())
			}
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
