package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the tap's name on the status stream.
const ServiceName = "redis-event-tap"

const tapBuffer = 512

// Tap mirrors every bus event into one Redis Stream for external
// consumers (dashboards, log shippers). It is strictly fire-and-forget:
// a slow or unreachable Redis drops mirrored events and never affects
// in-process delivery.
type Tap struct {
	*service.Base

	client *redis.Client
	stream string
	maxLen int64

	ch chan bus.Event
}

// NewTap creates the tap writing to stream, trimmed to maxLen entries.
func NewTap(client *redis.Client, stream string, maxLen int64, eventBus *bus.Bus, logger *zap.Logger) *Tap {
	t := &Tap{
		client: client,
		stream: stream,
		maxLen: maxLen,
		ch:     make(chan bus.Event, tapBuffer),
	}
	t.Base = service.NewBase(ServiceName, eventBus, logger, service.WithHooks(service.Hooks{
		OnStart: t.onStart,
	}))
	return t
}

func (t *Tap) onStart(ctx context.Context) error {
	for _, topic := range events.AllTopics() {
		if err := t.Subscribe(topic, t.enqueue); err != nil {
			return err
		}
	}
	t.Go("stream-writer", t.run)
	return nil
}

// enqueue hands the event to the stream writer without ever blocking
// the bus dispatch loop.
func (t *Tap) enqueue(ctx context.Context, event bus.Event) error {
	select {
	case t.ch <- event:
	default:
		t.Logger().Debug("tap buffer full, dropping mirrored event",
			zap.String("topic", string(event.Topic)),
			zap.String("event_id", event.EventID))
	}
	return nil
}

func (t *Tap) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-t.ch:
			if err := t.write(ctx, event); err != nil {
				t.Logger().Warn("failed to mirror event",
					zap.String("topic", string(event.Topic)),
					zap.Error(err))
			}
		}
	}
}

func (t *Tap) write(ctx context.Context, event bus.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: t.stream,
		MaxLen: t.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"topic": string(event.Topic),
			"data":  string(data),
		},
	}
	if err := t.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}
