package bus

import (
	"context"
	"time"
)

// SchemaVersion is stamped on every envelope published by this build.
const SchemaVersion = "1.0"

// Topic names a channel with an associated payload schema.
type Topic string

// Event is the canonical envelope delivered to handlers. Events are
// immutable once published; handlers must not mutate the payload.
type Event struct {
	Topic          Topic     `json:"topic"`
	Payload        any       `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
	EventID        string    `json:"event_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	SchemaVersion  string    `json:"schema_version"`
}

// Handler processes one delivered event. The context is the bus base
// context; it is cancelled when the bus closes.
type Handler func(ctx context.Context, event Event) error

// PublishOption adjusts envelope metadata for a single publish call.
type PublishOption func(*Event)

// WithConversationID tags the published event with a conversation ID so
// downstream services can correlate derived events.
func WithConversationID(id string) PublishOption {
	return func(e *Event) {
		e.ConversationID = id
	}
}
