// Package api hosts the HTTP status server started by `docfetcher serve`.
// Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/latest for the phase summaries of the last run.
//   - POST /v1/runs to start a run in the background (409 while one is running).
package api
