package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/urlharvest/internal/extract"
)

// Transport performs the HTTP exchanges needed by the fetch state machine.
type Transport interface {
	Probe(ctx context.Context, url string) (ProbeResponse, error)
	Get(ctx context.Context, url string) (FetchResponse, error)
}

// Extractor turns a fetched payload into candidate links.
type Extractor interface {
	Extract(ctx context.Context, contentType, pageURL string, body []byte) (extract.Result, error)
}

// RetryPolicy decides whether and when a failed probe is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs.
type IDGenerator interface {
	NewID() (string, error)
}
