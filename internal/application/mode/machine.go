package mode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the machine's name on the status stream.
const ServiceName = "mode-machine"

// ErrInvalidTransition is returned when the requested edge is not in
// the transition table. The current mode is left unchanged.
var ErrInvalidTransition = errors.New("invalid mode transition")

// allowed is the transition table. STARTUP only leads to IDLE; the
// AMBIENT/INTERACTIVE pair is reachable through the chain and every
// state may fall back to IDLE.
var allowed = map[events.Mode]map[events.Mode]bool{
	events.ModeStartup:     {events.ModeIdle: true},
	events.ModeIdle:        {events.ModeAmbient: true},
	events.ModeAmbient:     {events.ModeIdle: true, events.ModeInteractive: true},
	events.ModeInteractive: {events.ModeIdle: true, events.ModeAmbient: true},
}

// Metrics receives committed mode transitions.
type Metrics interface {
	ModeChanged(from, to string)
}

// Machine is the mode state machine service. It is the single writer of
// the mode value; everyone else observes SYSTEM_MODE_CHANGE.
type Machine struct {
	*service.Base

	metrics Metrics
	grace   time.Duration

	mu      sync.Mutex
	current events.Mode
	pending events.Mode
	timer   *time.Timer
}

// Option configures a Machine.
type Option func(*Machine)

// WithGracePeriod sets the debounce window applied to set-mode
// requests. Zero applies requests immediately.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Machine) { m.grace = d }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(metrics Metrics) Option {
	return func(m *Machine) { m.metrics = metrics }
}

// New creates the mode state machine on eventBus, starting in STARTUP.
func New(eventBus *bus.Bus, logger *zap.Logger, opts ...Option) *Machine {
	m := &Machine{
		current: events.ModeStartup,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Base = service.NewBase(ServiceName, eventBus, logger, service.WithHooks(service.Hooks{
		OnStart: m.onStart,
		OnStop:  m.onStop,
	}))
	return m
}

func (m *Machine) onStart(ctx context.Context) error {
	if err := m.Subscribe(events.TopicSetModeRequest, m.handleSetModeRequest); err != nil {
		return err
	}
	if err := m.Subscribe(events.TopicModeCommand, m.handleModeCommand); err != nil {
		return err
	}

	// Leave STARTUP as soon as the machine is live.
	return m.SetMode(ctx, events.ModeIdle)
}

func (m *Machine) onStop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.pending = ""
	return nil
}

// Current returns the live mode value.
func (m *Machine) Current() events.Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SetMode validates and commits a transition to target. A request for
// the current mode is a silent no-op; an unknown target or a
// disallowed edge leaves the mode unchanged and emits exactly one
// ERROR status event.
func (m *Machine) SetMode(ctx context.Context, target events.Mode) error {
	if !target.Valid() {
		m.EmitError(fmt.Sprintf("unknown mode %q", target))
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidTransition, target)
	}

	m.mu.Lock()
	if target == m.current {
		m.mu.Unlock()
		return nil
	}
	if !allowed[m.current][target] {
		current := m.current
		m.mu.Unlock()
		m.EmitError(fmt.Sprintf("invalid mode transition %s -> %s", current, target))
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
	}
	old := m.current
	m.current = target
	m.mu.Unlock()

	m.Logger().Info("mode changed",
		zap.String("old_mode", string(old)),
		zap.String("new_mode", string(target)))
	if m.metrics != nil {
		m.metrics.ModeChanged(string(old), string(target))
	}

	return m.Bus().Publish(ctx, events.TopicSystemModeChange, events.SystemModeChange{
		OldMode:   old,
		NewMode:   target,
		Timestamp: time.Now(),
	})
}

// RequestMode schedules a coalesced transition to target: the grace
// timer is re-armed and the latest requested target is committed when
// it fires.
func (m *Machine) RequestMode(target events.Mode) {
	if m.grace <= 0 {
		_ = m.SetMode(context.Background(), target)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = target
	if m.timer == nil {
		m.timer = time.AfterFunc(m.grace, m.commitPending)
	} else {
		m.timer.Reset(m.grace)
	}
}

func (m *Machine) commitPending() {
	m.mu.Lock()
	target := m.pending
	m.pending = ""
	m.timer = nil
	m.mu.Unlock()

	if target == "" {
		return
	}
	_ = m.SetMode(context.Background(), target)
}

func (m *Machine) handleSetModeRequest(ctx context.Context, event bus.Event) error {
	req, ok := event.Payload.(events.SetModeRequest)
	if !ok {
		m.EmitError(fmt.Sprintf("malformed set-mode payload %T", event.Payload))
		return nil
	}
	m.RequestMode(req.Mode)
	return nil
}

// handleModeCommand answers commands the dispatcher routes here:
// "status" reports the current mode, "set <mode>" requests a
// transition.
func (m *Machine) handleModeCommand(ctx context.Context, event bus.Event) error {
	cmd, ok := event.Payload.(events.Command)
	if !ok {
		m.EmitError(fmt.Sprintf("malformed mode command payload %T", event.Payload))
		return nil
	}

	respond := func(message string, isErr bool) error {
		return m.Bus().Publish(ctx, events.TopicCLIResponse, events.CLIResponse{
			Command: cmd.Command,
			Message: message,
			IsError: isErr,
		}, bus.WithConversationID(event.ConversationID))
	}

	switch cmd.Command {
	case "status":
		return respond(fmt.Sprintf("mode: %s", strings.ToLower(string(m.Current()))), false)
	case "set":
		if len(cmd.Args) == 0 {
			return respond("set requires a mode argument", true)
		}
		target := events.Mode(strings.ToUpper(cmd.Args[0]))
		if !target.Valid() {
			return respond(fmt.Sprintf("unknown mode: %s", cmd.Args[0]), true)
		}
		m.RequestMode(target)
		return respond(fmt.Sprintf("mode change to %s requested", strings.ToLower(string(target))), false)
	default:
		return respond(fmt.Sprintf("unknown mode command: %s", cmd.Command), true)
	}
}
