// Package report summarizes a finished crawl.
package report

import (
	"fmt"
	"net/url"
	"strings"
)

// FileName is the name of the rendered summary artifact.
const FileName = "SummaryReport.txt"

// Summary holds the headline numbers of a crawl.
type Summary struct {
	Total         int
	First         string
	Last          string
	UniqueDomains int
}

// Summarize computes a Summary over urls in collection order. Hosts are
// compared case-insensitively; unparseable URLs do not count as a domain.
func Summarize(urls []string) Summary {
	s := Summary{Total: len(urls)}
	if len(urls) == 0 {
		return s
	}
	s.First = urls[0]
	s.Last = urls[len(urls)-1]

	domains := make(map[string]struct{})
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		domains[strings.ToLower(u.Hostname())] = struct{}{}
	}
	s.UniqueDomains = len(domains)
	return s
}

// String renders the plain-text report.
func (s Summary) String() string {
	var b strings.Builder
	b.WriteString("Scraping Summary Report\n")
	b.WriteString("========================\n")
	fmt.Fprintf(&b, "Total URLs Scraped: %d\n", s.Total)
	fmt.Fprintf(&b, "First URL: %s\n", s.First)
	fmt.Fprintf(&b, "Last URL: %s\n", s.Last)
	fmt.Fprintf(&b, "Unique Domains: %d\n", s.UniqueDomains)
	return b.String()
}
