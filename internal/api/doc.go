// Package api implements the admin HTTP API and WebSocket push channel for
// SiteWatch Core.
//
// This package provides:
//   - REST endpoints for controller CRUD and site views
//   - Lane commands (gate, display, payment) routed through the adapter factory
//   - On-demand health probes and manual health cycles
//   - A WebSocket hub that pushes controller and site status changes
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// Device failures are mapped to HTTP statuses by kind: unreachable and
// protocol errors become 502, timeouts 504, unknown lanes 400 and
// unsupported capabilities 501. Controllers whose protocol has no adapter
// yield 422.
//
// All routes live under /api/v1.
package api
