// Package events defines the topic set the kernel and its collaborators
// communicate over, one payload type per topic.
//
// The Schemas function feeds the bus schema registry so that payloads
// are validated once, at the publish boundary, instead of loosely at
// every point of use. External collaborators (speech capture,
// transcription, synthesis, music backends, lighting, CLI) speak to the
// kernel exclusively through these topics.
package events
