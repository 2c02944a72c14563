package crawler

import (
	"net/http"
	"time"

	"github.com/JakeFAU/urlharvest/internal/extract"
)

// Outcome is the terminal state of one URL's fetch.
type Outcome string

// Fetch outcomes. Skipped is a deliberate rejection, not a failure.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	OutcomeCanceled Outcome = "canceled"
)

// ProbeResponse is the metadata learned from a HEAD request.
type ProbeResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
}

// FetchResponse captures the body returned by a GET request.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// FetchResult is what the fetch state machine reports for a single URL.
type FetchResult struct {
	URL          string
	Outcome      Outcome
	ContentType  string
	Body         []byte
	Links        []string
	Observations []extract.Observation
	Attempts     int
	Err          error
}
