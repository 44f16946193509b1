// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for the live pass board.
//   - GET /v1/portals and /v1/portals/{portal}/... for inspecting crawl
//     state and pass history.
//
// Every endpoint is read-only; crawl passes are started through the CLI,
// not over HTTP.
package api
