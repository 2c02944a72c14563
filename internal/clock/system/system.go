// Package system provides the wall clock used to stamp crawls.
package system

import "time"

// Clock implements crawler.Clock. Readings are UTC and truncated to the
// millisecond, matching the precision stores keep for ScrapeDate.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
