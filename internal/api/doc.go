// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a crawl from a seed URL.
//   - GET /v1/crawls/{crawl_id} and /v1/crawls/{crawl_id}/urls for progress.
//   - POST /v1/crawls/{crawl_id}/cancel to stop a crawl; collected URLs are
//     still persisted.
package api
