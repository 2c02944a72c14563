// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that crawl workers use to report activity. It batches events on a
// background goroutine and fans them out to pluggable sinks such as structured
// logs or Prometheus metrics, so a slow or failing sink never stalls a fetch.
package progress
