// Package config loads urlharvest settings from defaults, an optional file and
// HARVEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/urlharvest/internal/category"
	"github.com/JakeFAU/urlharvest/internal/crawler"
	"github.com/JakeFAU/urlharvest/internal/export"
	"github.com/JakeFAU/urlharvest/internal/store"
	"github.com/JakeFAU/urlharvest/internal/store/sqlite"
)

// EnvPrefix namespaces every environment override, e.g. HARVEST_CRAWLER_WORKERS.
const EnvPrefix = "HARVEST"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the root configuration tree.
type Config struct {
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Store   StoreConfig   `mapstructure:"store"`
	Export  ExportConfig  `mapstructure:"export"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig mirrors crawler.Config with file and env friendly keys.
type CrawlerConfig struct {
	Workers             int           `mapstructure:"workers"`
	Delay               time.Duration `mapstructure:"delay"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	UserAgent           string        `mapstructure:"user_agent"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial"`
	BackoffFactor       float64       `mapstructure:"backoff_factor"`
	AllowedContentTypes []string      `mapstructure:"allowed_content_types"`
	BlockedDomains      []string      `mapstructure:"blocked_domains"`
	SameHostOnly        bool          `mapstructure:"same_host_only"`
	RespectRobots       bool          `mapstructure:"respect_robots"`
	MaxBodyBytes        int           `mapstructure:"max_body_bytes"`
	HostRPS             float64       `mapstructure:"host_rps"`
	StopWorkerOnFailure bool          `mapstructure:"stop_worker_on_failure"`
}

// StoreConfig selects where categorized URLs are persisted.
type StoreConfig struct {
	Driver     string   `mapstructure:"driver"`
	Dir        string   `mapstructure:"dir"`
	DSN        string   `mapstructure:"dsn"`
	BatchSize  int      `mapstructure:"batch_size"`
	Categories []string `mapstructure:"categories"`
}

// ExportConfig controls the snapshot exports. GCSBucket wins over Dir when set.
type ExportConfig struct {
	Formats   []string `mapstructure:"formats"`
	Dir       string   `mapstructure:"dir"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	Prefix    string   `mapstructure:"prefix"`
}

// PubSubConfig enables the crawl-completed notification when Topic is set.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey guards the /v1 routes when set.
	APIKey          string        `mapstructure:"api_key"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles the development console logger.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load reads configuration from defaults, the optional file at path and the
// environment, in increasing order of precedence.
func Load(path string) (Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load against a caller-owned viper instance, so CLI flags bound
// to v take part in resolution.
func LoadWith(v *viper.Viper, path string) (Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	def := crawler.DefaultConfig()
	v.SetDefault("crawler.workers", 0)
	v.SetDefault("crawler.delay", def.Delay)
	v.SetDefault("crawler.request_timeout", def.RequestTimeout)
	v.SetDefault("crawler.user_agent", def.UserAgent)
	v.SetDefault("crawler.max_attempts", def.MaxAttempts)
	v.SetDefault("crawler.backoff_initial", def.BackoffInitial)
	v.SetDefault("crawler.backoff_factor", def.BackoffFactor)
	v.SetDefault("crawler.allowed_content_types", def.AllowedContentTypes)
	v.SetDefault("crawler.blocked_domains", []string{})
	v.SetDefault("crawler.same_host_only", false)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_body_bytes", def.MaxBodyBytes)
	v.SetDefault("crawler.host_rps", 0.0)
	v.SetDefault("crawler.stop_worker_on_failure", false)

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.dir", ".")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.batch_size", store.DefaultBatchSize)
	v.SetDefault("store.categories", []string{"all"})

	v.SetDefault("export.formats", []string{})
	v.SetDefault("export.dir", ".")
	v.SetDefault("export.gcs_bucket", "")
	v.SetDefault("export.prefix", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("logging.development", false)
}

// normalize drops blank list entries left behind by comma-separated env values.
func (c *Config) normalize() {
	c.Crawler.AllowedContentTypes = compact(c.Crawler.AllowedContentTypes)
	c.Crawler.BlockedDomains = compact(c.Crawler.BlockedDomains)
	c.Store.Categories = compact(c.Store.Categories)
	c.Export.Formats = compact(c.Export.Formats)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if err := c.Crawler.ToCrawler().Validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Dir == "" {
			return errors.New("store.dir must be set for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return errors.New("store.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("store.driver %q must be %s or %s", c.Store.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Store.BatchSize <= 0 {
		return errors.New("store.batch_size must be > 0")
	}
	if _, err := c.Selection(); err != nil {
		return fmt.Errorf("store.categories: %w", err)
	}
	if _, err := c.Formats(); err != nil {
		return fmt.Errorf("export.formats: %w", err)
	}
	if len(c.Export.Formats) > 0 && c.Export.GCSBucket == "" && c.Export.Dir == "" {
		return errors.New("export.dir or export.gcs_bucket must be set when exporting")
	}
	if c.PubSub.Topic != "" && c.PubSub.ProjectID == "" {
		return errors.New("pubsub.project_id must be set when pubsub.topic is set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be > 0")
	}
	return nil
}

// ToCrawler converts the loaded settings into the crawl engine's Config.
func (c CrawlerConfig) ToCrawler() crawler.Config {
	return crawler.Config{
		Workers:             c.Workers,
		Delay:               c.Delay,
		RequestTimeout:      c.RequestTimeout,
		UserAgent:           c.UserAgent,
		MaxAttempts:         c.MaxAttempts,
		BackoffInitial:      c.BackoffInitial,
		BackoffFactor:       c.BackoffFactor,
		AllowedContentTypes: append([]string(nil), c.AllowedContentTypes...),
		BlockedDomains:      append([]string(nil), c.BlockedDomains...),
		SameHostOnly:        c.SameHostOnly,
		RespectRobots:       c.RespectRobots,
		MaxBodyBytes:        c.MaxBodyBytes,
		HostRPS:             c.HostRPS,
		StopWorkerOnFailure: c.StopWorkerOnFailure,
	}
}

// Selection resolves store.categories into the categories to persist.
func (c Config) Selection() ([]category.Category, error) {
	return category.ParseSelection(c.Store.Categories)
}

// Formats resolves export.formats. An empty list disables exports.
func (c Config) Formats() ([]export.Format, error) {
	return export.ParseFormats(c.Export.Formats)
}

// SQLiteConfig returns the settings for the per-category SQLite files.
func (c Config) SQLiteConfig() sqlite.Config {
	return sqlite.Config{Dir: c.Store.Dir, Suffix: sqlite.DefaultSuffix}
}
