// Package extract pulls candidate links out of fetched payloads. Each supported
// media type has an Extractor; the Registry dispatches on the probed content
// type. Every emitted link is an absolute URL resolved against the page URL.
package extract
