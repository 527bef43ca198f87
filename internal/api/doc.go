// Package api hosts the HTTP server, middleware, and REST handlers. Routes:
//   - GET /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls, GET /v1/crawls/{id}, POST /v1/crawls/{id}/cancel for
//     crawl jobs.
//   - GET /v1/search?q=&k= for hybrid-ranked retrieval.
package api
