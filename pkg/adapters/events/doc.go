// Package events groups adapters that mirror the in-process bus to
// external systems.
//
// Implementations:
//   - redis: fire-and-forget mirror of all bus traffic into a Redis
//     Stream, for external observability
package events
