package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBusClosed is returned by Publish and Subscribe after Close.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrUnknownTopic is returned when the topic has no registered schema.
	ErrUnknownTopic = errors.New("unknown topic")
	// ErrInvalidPayload is returned when the payload type does not match
	// the schema registered for the topic.
	ErrInvalidPayload = errors.New("invalid payload for topic")
)

const defaultQueueSize = 1024

// Metrics receives bus-level counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	EventPublished(topic string)
	EventDropped(topic string)
	HandlerError(topic string)
	HandlerPanic(topic string)
}

type nopMetrics struct{}

func (nopMetrics) EventPublished(string) {}
func (nopMetrics) EventDropped(string)   {}
func (nopMetrics) HandlerError(string)   {}
func (nopMetrics) HandlerPanic(string)   {}

// Subscription identifies one (topic, handler) registration.
type Subscription struct {
	id    uint64
	topic Topic
}

// Topic returns the topic this subscription is registered on.
func (s Subscription) Topic() Topic { return s.topic }

type subscriber struct {
	id      uint64
	handler Handler
}

type delivery struct {
	event Event
	subs  []subscriber
}

// Bus is the in-process event bus. See the package documentation for
// the delivery and ordering model.
type Bus struct {
	logger  *zap.Logger
	metrics Metrics
	schemas map[Topic]reflect.Type

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.RWMutex
	subscribers map[Topic][]subscriber
	nextID      uint64
	closed      bool

	queue chan delivery
	done  chan struct{}
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithQueueSize overrides the dispatch queue capacity.
func WithQueueSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queue = make(chan delivery, n)
		}
	}
}

// WithMetrics attaches a metrics collector to the bus.
func WithMetrics(m Metrics) Option {
	return func(b *Bus) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithSchemas installs the per-topic payload schema registry. Publishing
// to a topic absent from the registry fails with ErrUnknownTopic.
func WithSchemas(schemas map[Topic]reflect.Type) Option {
	return func(b *Bus) {
		b.schemas = schemas
	}
}

// New creates an event bus and starts its dispatch loop.
func New(logger *zap.Logger, opts ...Option) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		logger:      logger,
		metrics:     nopMetrics{},
		baseCtx:     ctx,
		cancel:      cancel,
		subscribers: make(map[Topic][]subscriber),
		queue:       make(chan delivery, defaultQueueSize),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.dispatch()
	return b
}

// Publish stamps an envelope for payload and schedules delivery to every
// handler currently subscribed to topic. It returns once the delivery is
// queued; it never waits for handler completion.
func (b *Bus) Publish(ctx context.Context, topic Topic, payload any, opts ...PublishOption) error {
	if err := b.checkSchema(topic, payload); err != nil {
		return err
	}

	event := Event{
		Topic:         topic,
		Payload:       payload,
		Timestamp:     time.Now(),
		EventID:       uuid.New().String(),
		SchemaVersion: SchemaVersion,
	}
	for _, opt := range opts {
		opt(&event)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	// Snapshot of the subscriber list at publish time: handlers added or
	// removed afterwards do not affect this delivery.
	subs := make([]subscriber, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])

	select {
	case b.queue <- delivery{event: event, subs: subs}:
		b.metrics.EventPublished(string(topic))
		return nil
	default:
		b.metrics.EventDropped(string(topic))
		b.logger.Warn("dispatch queue full, dropping event",
			zap.String("topic", string(topic)),
			zap.String("event_id", event.EventID))
		return nil
	}
}

// PublishEvent schedules delivery of an externally built envelope. Used
// for re-routing an already stamped event to another topic.
func (b *Bus) PublishEvent(ctx context.Context, topic Topic, event Event) error {
	if err := b.checkSchema(topic, event.Payload); err != nil {
		return err
	}
	event.Topic = topic

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	subs := make([]subscriber, len(b.subscribers[topic]))
	copy(subs, b.subscribers[topic])

	select {
	case b.queue <- delivery{event: event, subs: subs}:
		b.metrics.EventPublished(string(topic))
		return nil
	default:
		b.metrics.EventDropped(string(topic))
		b.logger.Warn("dispatch queue full, dropping event",
			zap.String("topic", string(topic)),
			zap.String("event_id", event.EventID))
		return nil
	}
}

// Subscribe registers handler for future publishes to topic. Handlers on
// the same topic are invoked in subscription order.
func (b *Bus) Subscribe(topic Topic, handler Handler) (Subscription, error) {
	if handler == nil {
		return Subscription{}, fmt.Errorf("nil handler for topic %s", topic)
	}
	if b.schemas != nil {
		if _, ok := b.schemas[topic]; !ok {
			return Subscription{}, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Subscription{}, ErrBusClosed
	}

	b.nextID++
	sub := subscriber{id: b.nextID, handler: handler}
	b.subscribers[topic] = append(b.subscribers[topic], sub)
	return Subscription{id: sub.id, topic: topic}, nil
}

// Unsubscribe removes a registration. After it returns no new delivery
// will invoke the handler; deliveries already queued with an earlier
// snapshot may still run.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.topic]
	for i, s := range subs {
		if s.id == sub.id {
			b.subscribers[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// ClearAllHandlers removes every registration. Used in teardown and
// tests.
func (b *Bus) ClearAllHandlers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[Topic][]subscriber)
}

// Close stops the bus: the base context handed to handlers is cancelled,
// queued deliveries are drained and the dispatch loop exits. Publish and
// Subscribe fail with ErrBusClosed afterwards. Close is idempotent.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	close(b.queue)
	<-b.done
	return nil
}

func (b *Bus) checkSchema(topic Topic, payload any) error {
	if b.schemas == nil {
		return nil
	}
	want, ok := b.schemas[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if got := reflect.TypeOf(payload); got != want {
		return fmt.Errorf("%w %s: got %v, want %v", ErrInvalidPayload, topic, got, want)
	}
	return nil
}

// dispatch is the single delivery loop. Running every handler on one
// goroutine preserves publish order in delivery.
func (b *Bus) dispatch() {
	defer close(b.done)
	for d := range b.queue {
		for _, sub := range d.subs {
			b.invoke(sub, d.event)
		}
	}
}

func (b *Bus) invoke(sub subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.HandlerPanic(string(event.Topic))
			b.logger.Error("handler panicked",
				zap.String("topic", string(event.Topic)),
				zap.String("event_id", event.EventID),
				zap.Any("panic", r))
		}
	}()

	if err := sub.handler(b.baseCtx, event); err != nil {
		b.metrics.HandlerError(string(event.Topic))
		b.logger.Error("handler failed",
			zap.String("topic", string(event.Topic)),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}
