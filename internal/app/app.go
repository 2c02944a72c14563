// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlharvest/internal/config"
	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/dispatcher"
	"github.com/JakeFAU/urlharvest/internal/export"
	"github.com/JakeFAU/urlharvest/internal/pipeline"
	"github.com/JakeFAU/urlharvest/internal/progress"
	"github.com/JakeFAU/urlharvest/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/urlharvest/internal/publisher/pubsub"
	"github.com/JakeFAU/urlharvest/internal/storage/gcs"
	"github.com/JakeFAU/urlharvest/internal/storage/local"
	"github.com/JakeFAU/urlharvest/internal/store"
	"github.com/JakeFAU/urlharvest/internal/store/postgres"
	"github.com/JakeFAU/urlharvest/internal/store/sqlite"
	"github.com/JakeFAU/urlharvest/internal/telemetry"
)

// Option customizes how New wires services.
type Option func(*options)

type options struct {
	registerer      prometheus.Registerer
	transport       crawler.Transport
	perCrawlExports bool
}

// WithRegisterer registers the event metrics against reg instead of the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithTransport replaces the colly transport.
func WithTransport(t crawler.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithPerCrawlExports writes each crawl's exports below its crawl ID, for
// processes that run many crawls against one destination.
func WithPerCrawlExports() Option {
	return func(o *options) {
		o.perCrawlExports = true
	}
}

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and released with Close.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	hub        *progress.Hub
	dispatcher *dispatcher.Dispatcher
	pipeline   *pipeline.Pipeline
	closers    []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// New builds every service described by cfg. It fails fast: if any service
// cannot be initialized the ones already built are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.init(ctx, o); err != nil {
		if closeErr := a.Close(context.Background()); closeErr != nil {
			logger.Warn("release partially initialized services", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, o options) error {
	a.logger.Info("initializing application services")

	promSink, err := sinks.NewPrometheusSink(o.registerer)
	if err != nil {
		return fmt.Errorf("init event metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress")},
		sinks.NewLogSink(a.logger.Named("activity")), promSink)
	a.onClose("progress hub", a.hub.Close)

	sink, err := a.openSink(ctx)
	if err != nil {
		return err
	}
	exporter, err := a.openExporter(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.openPublisher(ctx)
	if err != nil {
		return err
	}

	a.dispatcher, err = dispatcher.New(dispatcher.Options{
		Config:    a.cfg.Crawler.ToCrawler(),
		Transport: o.transport,
		Emitter:   a.hub,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	selection, err := a.cfg.Selection()
	if err != nil {
		return fmt.Errorf("store.categories: %w", err)
	}
	formats, err := a.cfg.Formats()
	if err != nil {
		return fmt.Errorf("export.formats: %w", err)
	}
	a.pipeline, err = pipeline.New(pipeline.Options{
		Starter:         a.dispatcher,
		Sink:            sink,
		BatchSize:       a.cfg.Store.BatchSize,
		Selection:       selection,
		Exporter:        exporter,
		Formats:         formats,
		Publisher:       publisher,
		Topic:           a.cfg.PubSub.Topic,
		Emitter:         a.hub,
		Logger:          a.logger,
		PerCrawlExports: o.perCrawlExports,
	})
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	a.logger.Info("application services initialized",
		zap.String("store_driver", a.cfg.Store.Driver),
		zap.Int("workers", a.cfg.Crawler.ToCrawler().WorkerCount()),
		zap.Bool("exports", exporter != nil),
		zap.Bool("notifications", publisher != nil),
	)
	return nil
}

func (a *App) openSink(ctx context.Context) (store.Sink, error) {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		a.logger.Info("using postgres category store")
		sink, err := postgres.New(ctx, postgres.Config{DSN: a.cfg.Store.DSN})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.onClose("postgres store", func(context.Context) error {
			sink.Close()
			return nil
		})
		return sink, nil
	case config.DriverSQLite:
		a.logger.Info("using sqlite category store", zap.String("dir", a.cfg.Store.Dir))
		sink, err := sqlite.New(a.cfg.SQLiteConfig())
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", a.cfg.Store.Driver)
	}
}

// openExporter returns nil when no export formats are configured.
func (a *App) openExporter(ctx context.Context) (*export.Exporter, error) {
	if len(a.cfg.Export.Formats) == 0 {
		return nil, nil
	}
	var dest export.Destination
	if bucket := a.cfg.Export.GCSBucket; bucket != "" {
		a.logger.Info("exporting to GCS", zap.String("bucket", bucket))
		blobs, err := gcs.Open(ctx, gcs.Config{Bucket: bucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs exports: %w", err)
		}
		a.onClose("gcs exports", ignoreContext(blobs.Close))
		dest = blobs
	} else {
		a.logger.Info("exporting to local directory", zap.String("dir", a.cfg.Export.Dir))
		blobs, err := local.New(local.Config{BaseDir: a.cfg.Export.Dir})
		if err != nil {
			return nil, fmt.Errorf("init local exports: %w", err)
		}
		dest = blobs
	}
	return export.New(dest, a.cfg.Export.Prefix, a.cfg.Store.BatchSize, a.logger), nil
}

// openPublisher returns nil when no topic is configured.
func (a *App) openPublisher(ctx context.Context) (pipeline.Publisher, error) {
	if a.cfg.PubSub.Topic == "" {
		return nil, nil
	}
	a.logger.Info("connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.Topic))
	telemetry.InstallPropagators()
	pub, err := pubsubpublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
	if err != nil {
		return nil, fmt.Errorf("init pubsub: %w", err)
	}
	a.onClose("pubsub", ignoreContext(pub.Close))
	return pub, nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func ignoreContext(fn func() error) func(context.Context) error {
	return func(context.Context) error { return fn() }
}

// Config returns the configuration the services were built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Dispatcher returns the crawl launcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher {
	return a.dispatcher
}

// Pipeline returns the crawl-to-persistence pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Close releases services in reverse construction order. The progress hub is
// closed last so events from other shutdowns are flushed. Safe to call twice.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("error closing service", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
