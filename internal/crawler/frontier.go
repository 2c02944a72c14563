package crawler

import (
	"context"
	"errors"
	"strings"

	"github.com/JakeFAU/urlharvest/internal/queue/memory"
)

// FrontierOptions restricts which URLs the frontier admits.
type FrontierOptions struct {
	// BlockedDomains holds exact hosts or "*.suffix" patterns that are never crawled.
	BlockedDomains []string
	// AllowedHost, when set, limits the crawl to that host.
	AllowedHost string
}

// Frontier is the crawl's pending-work queue. It admits each normalized URL at
// most once and closes itself when every admitted URL has been processed.
type Frontier struct {
	queue       *memory.Queue
	visited     visitTracker
	blocked     *hostBlocklist
	allowedHost string
}

// NewFrontier builds an empty, open frontier.
func NewFrontier(opts FrontierOptions) *Frontier {
	return &Frontier{
		queue:       memory.NewQueue(),
		visited:     newConcurrentVisitTracker(),
		blocked:     newHostBlocklist(opts.BlockedDomains),
		allowedHost: strings.ToLower(strings.TrimSpace(opts.AllowedHost)),
	}
}

// Enqueue resolves raw against base, normalizes it and queues it if it has not
// been seen before. It returns the normalized URL and whether it was newly
// added. Unresolvable, non-http(s), blocked and off-host URLs are dropped.
func (f *Frontier) Enqueue(raw, base string) (string, bool) {
	u, err := ResolveURL(raw, base)
	if err != nil {
		return "", false
	}
	normalized := u.String()
	if !isHTTPScheme(u.Scheme) {
		return normalized, false
	}
	host := u.Hostname()
	if f.blocked.IsBlocked(host) {
		return normalized, false
	}
	if f.allowedHost != "" && host != f.allowedHost {
		return normalized, false
	}
	if f.queue.Closed() || !f.visited.MarkIfNew(normalized) {
		return normalized, false
	}
	return normalized, f.queue.Push(normalized)
}

// Dequeue blocks until a URL is available. It returns ErrFrontierClosed once
// the frontier is closed and drained, or the context error.
func (f *Frontier) Dequeue(ctx context.Context) (string, error) {
	item, err := f.queue.Dequeue(ctx)
	if errors.Is(err, memory.ErrClosed) {
		return "", ErrFrontierClosed
	}
	return item, err
}

// Done marks one dequeued URL as fully handled, including enqueueing its links.
func (f *Frontier) Done() {
	f.queue.Done()
}

// Close stops admission. Blocked consumers drain what is queued and then
// observe ErrFrontierClosed. Close is idempotent.
func (f *Frontier) Close() {
	f.queue.Close()
}

// Closed reports whether the frontier stopped admitting URLs.
func (f *Frontier) Closed() bool {
	return f.queue.Closed()
}

// Len reports the number of queued URLs.
func (f *Frontier) Len() int {
	return f.queue.Len()
}
