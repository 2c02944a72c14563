// Package crawler implements the crawl engine: the deduplicating frontier,
// the probe-then-fetch state machine with retry and backoff, and the shared
// collection of discovered URLs. Transports and extractors plug in through
// the interfaces declared here.
package crawler
