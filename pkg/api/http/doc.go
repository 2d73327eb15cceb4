// Package http provides the HTTP control surface.
//
// The server exposes endpoints for:
//   - Plan submission and plan log queries
//   - Mode queries and transition requests
//   - Command submission
//   - Health checks
//   - Prometheus metrics
//
// Writes are published onto the event bus; reads are answered from the
// server's own caches and the plan log.
package http
