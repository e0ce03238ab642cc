// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/targets lists the configured crawl targets.
//   - POST /v1/jobs enqueues a task outside the cron schedule.
//   - GET /v1/runs and /v1/entries report job-run history and entries by
//     processing state.
package api
