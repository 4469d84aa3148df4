// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/threads to start archiving a thread by URL.
//   - GET /v1/threads and /v1/threads/{thread_id} for thread status.
package api
