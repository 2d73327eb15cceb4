package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
)

// Status is the lifecycle state of a service.
type Status string

const (
	StatusUninitialized Status = "UNINITIALIZED"
	StatusInitializing  Status = "INITIALIZING"
	StatusRunning       Status = "RUNNING"
	StatusStopping      Status = "STOPPING"
	StatusStopped       Status = "STOPPED"
	StatusError         Status = "ERROR"
)

// DefaultStopGrace bounds how long Stop waits for owned tasks to drain
// before moving on. Cancellation is cooperative; stragglers die at
// their next await point.
const DefaultStopGrace = 5 * time.Second

// Runner is the contract the supervisor manages services through.
type Runner interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
}

// Hooks are the subclass extension points of Base.
type Hooks struct {
	// OnStart must establish all of the service's subscriptions (via
	// Base.Subscribe) before returning.
	OnStart func(ctx context.Context) error
	// OnStop runs after owned tasks are cancelled and subscriptions
	// removed, just before the service reports STOPPED.
	OnStop func(ctx context.Context) error
}

// Base implements the lifecycle contract. Concrete services embed a
// *Base built with their hooks.
type Base struct {
	name   string
	bus    *bus.Bus
	logger *zap.Logger
	hooks  Hooks
	grace  time.Duration

	mu     sync.Mutex
	status Status
	subs   []bus.Subscription

	taskCtx  context.Context
	taskStop context.CancelFunc
	wg       sync.WaitGroup
}

// BaseOption configures a Base at construction time.
type BaseOption func(*Base)

// WithHooks installs the subclass hooks.
func WithHooks(h Hooks) BaseOption {
	return func(b *Base) { b.hooks = h }
}

// WithStopGrace overrides the bounded wait Stop applies to owned tasks.
func WithStopGrace(d time.Duration) BaseOption {
	return func(b *Base) {
		if d > 0 {
			b.grace = d
		}
	}
}

// NewBase creates the lifecycle core of a service.
func NewBase(name string, eventBus *bus.Bus, logger *zap.Logger, opts ...BaseOption) *Base {
	b := &Base{
		name:   name,
		bus:    eventBus,
		logger: logger.With(zap.String("service", name)),
		grace:  DefaultStopGrace,
		status: StatusUninitialized,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the service name.
func (b *Base) Name() string { return b.name }

// Status returns the current lifecycle state.
func (b *Base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Bus returns the event bus the service rides on.
func (b *Base) Bus() *bus.Bus { return b.bus }

// Logger returns the service-scoped logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

// Start moves the service INITIALIZING -> RUNNING. The OnStart hook
// runs in between and must register every subscription before it
// returns; a hook failure leaves the service in ERROR.
func (b *Base) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.status != StatusUninitialized && b.status != StatusStopped {
		status := b.status
		b.mu.Unlock()
		return fmt.Errorf("service %s: cannot start from %s", b.name, status)
	}
	b.status = StatusInitializing
	b.taskCtx, b.taskStop = context.WithCancel(context.Background())
	b.mu.Unlock()

	if b.hooks.OnStart != nil {
		if err := b.hooks.OnStart(ctx); err != nil {
			b.toError(fmt.Errorf("start failed: %w", err))
			return fmt.Errorf("service %s: %w", b.name, err)
		}
	}

	b.setStatus(StatusRunning)
	b.emitStatus(StatusRunning, events.SeverityInfo, "")
	b.logger.Info("service running")
	return nil
}

// Stop moves the service to STOPPED: the task scope is cancelled, owned
// tasks get a bounded grace period to drain, all subscriptions are
// removed, then the OnStop hook runs. Stop is idempotent.
func (b *Base) Stop(ctx context.Context) error {
	b.mu.Lock()
	switch b.status {
	case StatusStopped:
		b.mu.Unlock()
		return nil
	case StatusUninitialized:
		b.status = StatusStopped
		b.mu.Unlock()
		return nil
	}
	b.status = StatusStopping
	cancel := b.taskStop
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.logger.Info("service stopping")
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(b.grace):
		b.logger.Warn("tasks did not drain within grace period",
			zap.Duration("grace", b.grace))
	case <-ctx.Done():
		b.logger.Warn("stop context cancelled before tasks drained")
	}

	for _, sub := range subs {
		b.bus.Unsubscribe(sub)
	}

	if b.hooks.OnStop != nil {
		if err := b.hooks.OnStop(ctx); err != nil {
			b.logger.Error("stop hook failed", zap.Error(err))
		}
	}

	b.setStatus(StatusStopped)
	b.emitStatus(StatusStopped, events.SeverityInfo, "")
	b.logger.Info("service stopped")
	return nil
}

// Subscribe registers handler on topic and records the subscription so
// Stop can remove it.
func (b *Base) Subscribe(topic bus.Topic, handler bus.Handler) error {
	sub, err := b.bus.Subscribe(topic, handler)
	if err != nil {
		return fmt.Errorf("service %s: subscribe %s: %w", b.name, topic, err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Go spawns fn as a task owned by the service's cancellation scope.
// The task must observe ctx at await points; a non-cancellation error
// return moves the service to ERROR.
func (b *Base) Go(name string, fn func(ctx context.Context) error) {
	b.mu.Lock()
	ctx := b.taskCtx
	b.mu.Unlock()
	if ctx == nil {
		b.logger.Error("task spawned before start", zap.String("task", name))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.Fail(fmt.Errorf("task %s panicked: %v", name, r))
			}
		}()
		if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.Fail(fmt.Errorf("task %s: %w", name, err))
		}
	}()
}

// Fail reports a failure while RUNNING: the service moves to ERROR and
// emits an ERROR status event. Failures after stop began are only
// logged.
func (b *Base) Fail(err error) {
	b.mu.Lock()
	running := b.status == StatusRunning || b.status == StatusInitializing
	if running {
		b.status = StatusError
	}
	b.mu.Unlock()

	if !running {
		b.logger.Warn("failure after stop", zap.Error(err))
		return
	}
	b.logger.Error("service failed", zap.Error(err))
	b.emitStatus(StatusError, events.SeverityError, err.Error())
}

// EmitError surfaces a handled error as an ERROR-severity status event
// without changing the lifecycle state.
func (b *Base) EmitError(msg string) {
	b.logger.Error(msg)
	b.emitStatus(b.Status(), events.SeverityError, msg)
}

func (b *Base) toError(err error) {
	b.setStatus(StatusError)
	b.logger.Error("service failed to start", zap.Error(err))
	b.emitStatus(StatusError, events.SeverityError, err.Error())
}

func (b *Base) setStatus(s Status) {
	b.mu.Lock()
	b.status = s
	b.mu.Unlock()
}

func (b *Base) emitStatus(status Status, severity, message string) {
	err := b.bus.Publish(context.Background(), events.TopicServiceStatus, events.ServiceStatusUpdate{
		Service:  b.name,
		Status:   string(status),
		Severity: severity,
		Message:  message,
	})
	if err != nil && !errors.Is(err, bus.ErrBusClosed) {
		b.logger.Error("failed to publish status update", zap.Error(err))
	}
}
