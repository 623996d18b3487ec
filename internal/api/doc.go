// Package api hosts the HTTP server, middleware, and REST handlers of the
// crawler. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/v1/codehub/task to start (or re-run) a crawl for a user.
//   - GET /api/v1/codehub/task?task_id= and /api/v1/codehub/task/{task_id}
//     for the task status and crawled repositories.
package api
