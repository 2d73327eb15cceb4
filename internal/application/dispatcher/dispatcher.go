package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the dispatcher's name on the status stream.
const ServiceName = "command-dispatcher"

// Route is one routing table entry.
type Route struct {
	Owner string
	Topic bus.Topic
}

// Dispatcher routes named commands from CLI_COMMAND to the topic their
// owning service listens on.
type Dispatcher struct {
	*service.Base

	mu     sync.RWMutex
	routes map[string]Route
}

// New creates the dispatcher service on eventBus.
func New(eventBus *bus.Bus, logger *zap.Logger, opts ...service.BaseOption) *Dispatcher {
	d := &Dispatcher{
		routes: make(map[string]Route),
	}
	opts = append(opts, service.WithHooks(service.Hooks{OnStart: d.onStart}))
	d.Base = service.NewBase(ServiceName, eventBus, logger, opts...)
	return d
}

func (d *Dispatcher) onStart(ctx context.Context) error {
	return d.Subscribe(events.TopicCLICommand, d.handleCommand)
}

// RegisterCommand inserts or overwrites the routing entry for name.
func (d *Dispatcher) RegisterCommand(name, owner string, topic bus.Topic) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.routes[name]; ok && prev.Owner != owner {
		d.Logger().Warn("command re-registered",
			zap.String("command", name),
			zap.String("previous_owner", prev.Owner),
			zap.String("owner", owner))
	}
	d.routes[name] = Route{Owner: owner, Topic: topic}
	d.Logger().Info("command registered",
		zap.String("command", name),
		zap.String("owner", owner),
		zap.String("topic", string(topic)))
}

// Routes returns a snapshot of the routing table.
func (d *Dispatcher) Routes() map[string]Route {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snapshot := make(map[string]Route, len(d.routes))
	for name, route := range d.routes {
		snapshot[name] = route
	}
	return snapshot
}

// handleCommand routes one command event. Routing failures are surfaced
// on CLI_RESPONSE or the status stream; the dispatcher itself never
// dies from a bad command.
func (d *Dispatcher) handleCommand(ctx context.Context, event bus.Event) error {
	cmd, ok := event.Payload.(events.Command)
	if !ok {
		d.EmitError(fmt.Sprintf("malformed command payload %T", event.Payload))
		return nil
	}

	d.mu.RLock()
	route, found := d.routes[cmd.Command]
	d.mu.RUnlock()

	if !found {
		d.Logger().Warn("unknown command", zap.String("command", cmd.Command))
		return d.Bus().Publish(ctx, events.TopicCLIResponse, events.CLIResponse{
			Command: cmd.Command,
			Message: fmt.Sprintf("Unknown command: %s", cmd.Command),
			IsError: true,
		}, bus.WithConversationID(event.ConversationID))
	}

	d.Logger().Debug("routing command",
		zap.String("command", cmd.Command),
		zap.String("owner", route.Owner),
		zap.String("topic", string(route.Topic)))

	if err := d.Bus().Publish(ctx, route.Topic, cmd, bus.WithConversationID(event.ConversationID)); err != nil {
		return fmt.Errorf("route %s to %s: %w", cmd.Command, route.Topic, err)
	}
	return nil
}
