package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"
	"unicode"
)

// ErrNoExtractor is returned when no extractor is registered for a content type.
var ErrNoExtractor = errors.New("no extractor for content type")

// Observation kinds reported alongside links.
const (
	KindHiddenElement = "hidden-element"
	KindMetaTag       = "meta-tag"
)

// Observation is a page detail surfaced for operators. It never influences the
// crawl itself.
type Observation struct {
	Kind   string
	Detail string
}

// Result carries the links and observations found in one payload.
type Result struct {
	Links        []string
	Observations []Observation
}

// Extractor parses a payload and returns the absolute links it references.
type Extractor interface {
	Extract(ctx context.Context, base *url.URL, body []byte) (Result, error)
}

// Registry maps media types to extractors.
type Registry struct {
	byType map[string]Extractor
}

// NewRegistry returns a registry with the HTML, JSON and XML extractors
// installed.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Extractor)}
	r.Register("text/html", HTML{})
	r.Register("application/json", JSON{})
	r.Register("application/xml", XML{})
	r.Register("text/xml", XML{})
	return r
}

// Register installs ext for the given media type, replacing any previous one.
func (r *Registry) Register(mediaType string, ext Extractor) {
	r.byType[strings.ToLower(strings.TrimSpace(mediaType))] = ext
}

// Extract dispatches body to the extractor registered for contentType.
// pageURL is the base every relative candidate resolves against.
func (r *Registry) Extract(ctx context.Context, contentType, pageURL string, body []byte) (Result, error) {
	mediaType := MediaType(contentType)
	ext, ok := r.byType[mediaType]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrNoExtractor, mediaType)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return Result{}, fmt.Errorf("parse page url: %w", err)
	}
	res, err := ext.Extract(ctx, base, body)
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", mediaType, err)
	}
	return res, nil
}

// MediaType returns the lowercased media type of a Content-Type header value
// with parameters stripped. Unparseable values fall back to the text before
// the first ';'.
func MediaType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// resolve turns candidate into an absolute URL relative to base. Empty and
// unparseable candidates are rejected, as are results without a scheme or
// host. Inner spaces are kept and come back percent-encoded.
func resolve(base *url.URL, candidate string) (string, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", false
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if !abs.IsAbs() || abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}

// absoluteHTTP reports whether s is already an absolute http(s) URL.
func absoluteHTTP(s string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || u.Host == "" {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String(), true
	default:
		return "", false
	}
}

// hasSpace reports whether s contains any Unicode white space.
func hasSpace(s string) bool {
	return strings.IndexFunc(s, unicode.IsSpace) >= 0
}
