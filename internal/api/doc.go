// Package api serves a read-only status endpoint while a conversion runs.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for run counters.
//   - GET /v1/progress/sites for per-host counters.
package api
