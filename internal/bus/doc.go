// Package bus implements the in-process event bus the rest of the
// kernel is built on.
//
// The bus is a topic-keyed publish/subscribe primitive:
//   - Publish stamps an envelope (ID, timestamp, schema version), takes a
//     snapshot of the topic's subscribers and schedules delivery.
//   - Delivery happens on a single dispatch goroutine draining a FIFO
//     queue, so delivery order follows publish order globally. Handlers
//     run inline on that goroutine; long-running work belongs in
//     service-owned tasks, not in handlers.
//   - A panicking or failing handler is isolated and logged at the bus
//     boundary; it never affects other handlers or later publishes.
//
// Payloads are validated against a per-topic schema registry at the
// publish boundary. The bus is best-effort and in-memory only: when the
// dispatch queue is full the event is dropped with a warning.
package bus
