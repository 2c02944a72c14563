package crawler

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// hostBlocklist rejects hosts the harvester must never fetch. Entries are
// exact hosts ("ads.example.com") or suffix patterns ("*.tracker.net" or
// ".tracker.net", which also match the bare suffix). Entries pasted as URLs
// or with a port are reduced to their host.
type hostBlocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// newHostBlocklist returns nil when no usable entry remains, and a nil
// blocklist blocks nothing.
func newHostBlocklist(entries []string) *hostBlocklist {
	b := &hostBlocklist{exact: make(map[string]struct{})}
	for _, raw := range entries {
		entry := strings.ToLower(strings.TrimSpace(raw))
		suffix := false
		switch {
		case strings.HasPrefix(entry, "*."):
			entry, suffix = entry[2:], true
		case strings.HasPrefix(entry, "."):
			entry, suffix = entry[1:], true
		}
		host := entryHost(entry)
		if host == "" {
			continue
		}
		if !suffix {
			b.exact[host] = struct{}{}
		} else if !slices.Contains(b.suffixes, host) {
			b.suffixes = append(b.suffixes, host)
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

// entryHost strips a scheme, path and port from a configured entry.
func entryHost(entry string) string {
	if strings.Contains(entry, "://") {
		u, err := url.Parse(entry)
		if err != nil {
			return ""
		}
		return strings.TrimSuffix(u.Hostname(), ".")
	}
	entry, _, _ = strings.Cut(entry, "/")
	if h, _, err := net.SplitHostPort(entry); err == nil {
		entry = h
	}
	return strings.TrimSuffix(entry, ".")
}

// IsBlocked reports whether host matches an entry. A trailing root dot is
// ignored.
func (b *hostBlocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
