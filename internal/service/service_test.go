package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(zap.NewNop(), bus.WithSchemas(events.Schemas()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func statusRecorder(t *testing.T, b *bus.Bus) <-chan events.ServiceStatusUpdate {
	t.Helper()
	ch := make(chan events.ServiceStatusUpdate, 16)
	_, err := b.Subscribe(events.TopicServiceStatus, func(ctx context.Context, e bus.Event) error {
		ch <- e.Payload.(events.ServiceStatusUpdate)
		return nil
	})
	require.NoError(t, err)
	return ch
}

func nextStatus(t *testing.T, ch <-chan events.ServiceStatusUpdate) events.ServiceStatusUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
		return events.ServiceStatusUpdate{}
	}
}

func TestStartRunsHookThenReportsRunning(t *testing.T) {
	b := newTestBus(t)
	statuses := statusRecorder(t, b)

	var hookStatus Status
	var svc *Base
	svc = NewBase("demo", b, zap.NewNop(), WithHooks(Hooks{
		OnStart: func(ctx context.Context) error {
			// Subscriptions registered here are live before RUNNING.
			hookStatus = svc.Status()
			return svc.Subscribe(events.TopicCLIResponse, func(ctx context.Context, e bus.Event) error {
				return nil
			})
		},
	}))

	require.NoError(t, svc.Start(context.Background()))
	assert.Equal(t, StatusInitializing, hookStatus)
	assert.Equal(t, StatusRunning, svc.Status())

	update := nextStatus(t, statuses)
	assert.Equal(t, "demo", update.Service)
	assert.Equal(t, string(StatusRunning), update.Status)
	assert.Equal(t, events.SeverityInfo, update.Severity)
}

func TestStartHookFailureLeavesError(t *testing.T) {
	b := newTestBus(t)
	statuses := statusRecorder(t, b)

	svc := NewBase("demo", b, zap.NewNop(), WithHooks(Hooks{
		OnStart: func(ctx context.Context) error {
			return errors.New("dependency missing")
		},
	}))

	require.Error(t, svc.Start(context.Background()))
	assert.Equal(t, StatusError, svc.Status())

	update := nextStatus(t, statuses)
	assert.Equal(t, string(StatusError), update.Status)
	assert.Equal(t, events.SeverityError, update.Severity)
	assert.Contains(t, update.Message, "dependency missing")
}

func TestStopIsIdempotentAndRemovesSubscriptions(t *testing.T) {
	b := newTestBus(t)

	var calls atomic.Int64
	var svc *Base
	svc = NewBase("demo", b, zap.NewNop(),
		WithStopGrace(100*time.Millisecond),
		WithHooks(Hooks{
			OnStart: func(ctx context.Context) error {
				return svc.Subscribe(events.TopicCLIResponse, func(ctx context.Context, e bus.Event) error {
					calls.Add(1)
					return nil
				})
			},
		}))

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
	assert.Equal(t, StatusStopped, svc.Status())

	// A publish after stop must not reach the removed handler.
	marker := make(chan struct{}, 1)
	_, err := b.Subscribe(events.TopicCLIResponse, func(ctx context.Context, e bus.Event) error {
		marker <- struct{}{}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, b.Publish(context.Background(), events.TopicCLIResponse, events.CLIResponse{Message: "m"}))

	select {
	case <-marker:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for marker delivery")
	}
	assert.Equal(t, int64(0), calls.Load())
}

func TestStopWaitsForOwnedTasks(t *testing.T) {
	b := newTestBus(t)

	taskDone := make(chan struct{})
	var svc *Base
	svc = NewBase("demo", b, zap.NewNop(),
		WithStopGrace(time.Second),
		WithHooks(Hooks{
			OnStart: func(ctx context.Context) error {
				svc.Go("worker", func(ctx context.Context) error {
					<-ctx.Done()
					close(taskDone)
					return nil
				})
				return nil
			},
		}))

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))

	select {
	case <-taskDone:
	default:
		t.Fatal("stop returned before the owned task exited")
	}
}

func TestTaskFailureMovesServiceToError(t *testing.T) {
	b := newTestBus(t)
	statuses := statusRecorder(t, b)

	svc := NewBase("demo", b, zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))
	nextStatus(t, statuses) // RUNNING

	svc.Go("worker", func(ctx context.Context) error {
		return errors.New("disk on fire")
	})

	update := nextStatus(t, statuses)
	assert.Equal(t, string(StatusError), update.Status)
	assert.Equal(t, events.SeverityError, update.Severity)
	assert.Equal(t, StatusError, svc.Status())
}

func TestCannotStartTwice(t *testing.T) {
	b := newTestBus(t)

	svc := NewBase("demo", b, zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))
	assert.Error(t, svc.Start(context.Background()))

	require.NoError(t, svc.Stop(context.Background()))
	// A stopped service may be restarted.
	assert.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop(context.Background()))
}

func TestSupervisorRollsBackOnStartFailure(t *testing.T) {
	b := newTestBus(t)

	first := NewBase("first", b, zap.NewNop())
	second := NewBase("second", b, zap.NewNop(), WithHooks(Hooks{
		OnStart: func(ctx context.Context) error {
			return errors.New("no dice")
		},
	}))

	sup := NewSupervisor(zap.NewNop())
	sup.Register(first)
	sup.Register(second)

	require.Error(t, sup.StartAll(context.Background()))
	assert.Equal(t, StatusStopped, first.Status())
	assert.False(t, sup.Healthy())
}

func TestSupervisorStartStopAll(t *testing.T) {
	b := newTestBus(t)

	first := NewBase("first", b, zap.NewNop())
	second := NewBase("second", b, zap.NewNop())

	sup := NewSupervisor(zap.NewNop())
	sup.Register(first)
	sup.Register(second)

	require.NoError(t, sup.StartAll(context.Background()))
	assert.True(t, sup.Healthy())
	assert.Equal(t, map[string]Status{
		"first":  StatusRunning,
		"second": StatusRunning,
	}, sup.Statuses())

	require.NoError(t, sup.StopAll(context.Background()))
	assert.Equal(t, map[string]Status{
		"first":  StatusStopped,
		"second": StatusStopped,
	}, sup.Statuses())
	assert.False(t, sup.Healthy())
}

type recordingHealthMetrics struct {
	ch chan string
}

func (r *recordingHealthMetrics) ServiceStatus(name, status string) {
	select {
	case r.ch <- name + "=" + status:
	default:
	}
}

func TestHealthMonitorReportsStatuses(t *testing.T) {
	b := newTestBus(t)

	svc := NewBase("demo", b, zap.NewNop())
	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop(context.Background())

	sup := NewSupervisor(zap.NewNop())
	sup.Register(svc)

	metrics := &recordingHealthMetrics{ch: make(chan string, 16)}
	monitor := NewHealthMonitor(sup, 10*time.Millisecond, zap.NewNop(), metrics)
	monitor.Start()
	defer monitor.Stop()

	select {
	case got := <-metrics.ch:
		assert.Equal(t, "demo="+string(StatusRunning), got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for health snapshot")
	}
}
