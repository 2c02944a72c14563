package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments and gives an empty path a trailing slash.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	return normalize(u), nil
}

func normalize(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = strings.ToLower(n.Host)

	if n.Scheme == "http" && strings.HasSuffix(n.Host, ":80") {
		n.Host = strings.TrimSuffix(n.Host, ":80")
	}
	if n.Scheme == "https" && strings.HasSuffix(n.Host, ":443") {
		n.Host = strings.TrimSuffix(n.Host, ":443")
	}

	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" && n.Opaque == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	if n.RawQuery != "" {
		n.RawQuery = n.Query().Encode()
	}
	return n.String()
}

// ResolveURL resolves raw against base (which may be empty) and returns the
// normalized absolute URL.
func ResolveURL(raw, base string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if base != "" {
		b, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		ref = b.ResolveReference(ref)
	}
	if !ref.IsAbs() || ref.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	normalized, err := url.Parse(normalize(ref))
	if err != nil {
		return nil, fmt.Errorf("reparse normalized url: %w", err)
	}
	return normalized, nil
}

// ValidateSeed checks that raw is an absolute http(s) URL and returns it normalized.
func ValidateSeed(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSeed)
	}
	u, err := ResolveURL(raw, "")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSeed, err)
	}
	if !isHTTPScheme(u.Scheme) {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSeed, u.Scheme)
	}
	return u.String(), nil
}

func isHTTPScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}
