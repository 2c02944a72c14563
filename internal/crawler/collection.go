package crawler

import "sync"

// URLCollection is an insertion-ordered, append-only list of discovered URLs
// that is safe for concurrent use.
type URLCollection struct {
	mu   sync.Mutex
	urls []string
}

// NewURLCollection returns an empty collection.
func NewURLCollection() *URLCollection {
	return &URLCollection{}
}

// Append records url at the end of the collection.
func (c *URLCollection) Append(url string) {
	c.mu.Lock()
	c.urls = append(c.urls, url)
	c.mu.Unlock()
}

// Snapshot returns a copy of the URLs collected so far, in insertion order.
func (c *URLCollection) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.urls...)
}
