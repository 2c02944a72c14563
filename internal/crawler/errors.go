package crawler

import "errors"

var (
	// ErrFrontierClosed is returned by Dequeue once the frontier is closed and drained.
	ErrFrontierClosed = errors.New("frontier closed")
	// ErrInvalidSeed rejects seeds that are not absolute http(s) URLs.
	ErrInvalidSeed = errors.New("invalid seed url")
	// ErrDisallowed marks a URL the transport refused to request, e.g. a robots.txt block.
	ErrDisallowed = errors.New("url disallowed")
)
