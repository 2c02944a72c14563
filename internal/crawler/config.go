package crawler

import (
	"errors"
	"runtime"
	"time"
)

// Defaults applied by DefaultConfig.
const (
	DefaultDelay          = time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; rv:68.0) Gecko/20100101 Firefox/68.0"
	DefaultMaxBodyBytes   = 10 << 20
)

// Config captures every knob that influences a crawl run.
type Config struct {
	// Workers is the pool size; zero selects DefaultWorkers.
	Workers             int
	Delay               time.Duration
	RequestTimeout      time.Duration
	UserAgent           string
	MaxAttempts         int
	BackoffInitial      time.Duration
	BackoffFactor       float64
	AllowedContentTypes []string
	BlockedDomains      []string
	SameHostOnly        bool
	RespectRobots       bool
	MaxBodyBytes        int
	// HostRPS enables a per-host token bucket when positive.
	HostRPS             float64
	StopWorkerOnFailure bool
}

// DefaultWorkers returns max(2, NumCPU-1).
func DefaultWorkers() int {
	return max(2, runtime.NumCPU()-1)
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Delay:               DefaultDelay,
		RequestTimeout:      DefaultRequestTimeout,
		UserAgent:           DefaultUserAgent,
		MaxAttempts:         DefaultMaxAttempts,
		BackoffInitial:      DefaultBackoffInitial,
		BackoffFactor:       DefaultBackoffFactor,
		AllowedContentTypes: append([]string(nil), DefaultAllowedContentTypes...),
		MaxBodyBytes:        DefaultMaxBodyBytes,
	}
}

// WorkerCount resolves the effective pool size.
func (c Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return DefaultWorkers()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return errors.New("crawler.workers must be >= 0")
	}
	if c.Delay < 0 {
		return errors.New("crawler.delay must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("crawler.request_timeout must be > 0")
	}
	if c.UserAgent == "" {
		return errors.New("crawler.user_agent must be set")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("crawler.max_attempts must be > 0")
	}
	if c.BackoffInitial <= 0 {
		return errors.New("crawler.backoff_initial must be > 0")
	}
	if c.BackoffFactor < 1 {
		return errors.New("crawler.backoff_factor must be >= 1")
	}
	if len(c.AllowedContentTypes) == 0 {
		return errors.New("crawler.allowed_content_types must not be empty")
	}
	if c.MaxBodyBytes < 0 {
		return errors.New("crawler.max_body_bytes must be >= 0")
	}
	if c.HostRPS < 0 {
		return errors.New("crawler.host_rps must be >= 0")
	}
	return nil
}
