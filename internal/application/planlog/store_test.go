package planlog

import (
	"context"
	"fmt"
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

func startStore(t *testing.T, b *bus.Bus, opts ...Option) *Store {
	t.Helper()
	s := New(b, zap.NewNop(), opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func TestRecordsPlanLifecycle(t *testing.T) {
	b := newTestBus(t)
	s := startStore(t, b)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicPlanStarted,
		events.PlanStarted{PlanID: "p1", Layer: events.LayerForeground}))
	require.NoError(t, b.Publish(ctx, events.TopicStepExecuted,
		events.StepExecuted{PlanID: "p1", StepID: "s1", Status: events.StepStatusSuccess}))
	require.NoError(t, b.Publish(ctx, events.TopicStepExecuted,
		events.StepExecuted{PlanID: "p1", StepID: "s2", Status: events.StepStatusError, Error: "no signal"}))
	require.NoError(t, b.Publish(ctx, events.TopicPlanEnded,
		events.PlanEnded{PlanID: "p1", Layer: events.LayerForeground, Status: events.PlanStatusError}))

	require.Eventually(t, func() bool {
		rec, ok := s.Get("p1")
		return ok && rec.Status == events.PlanStatusError
	}, 2*time.Second, 10*time.Millisecond)

	rec, ok := s.Get("p1")
	require.True(t, ok)
	assert.Equal(t, events.LayerForeground, rec.Layer)
	assert.False(t, rec.StartedAt.IsZero())
	require.NotNil(t, rec.EndedAt)
	require.Len(t, rec.Steps, 2)
	assert.Equal(t, "s1", rec.Steps[0].StepID)
	assert.Equal(t, events.StepStatusSuccess, rec.Steps[0].Status)
	assert.Equal(t, "s2", rec.Steps[1].StepID)
	assert.Equal(t, "no signal", rec.Steps[1].Error)
}

func TestRunningPlanVisibleBeforeEnd(t *testing.T) {
	b := newTestBus(t)
	s := startStore(t, b)

	require.NoError(t, b.Publish(context.Background(), events.TopicPlanStarted,
		events.PlanStarted{PlanID: "p1", Layer: events.LayerAmbient}))

	require.Eventually(t, func() bool {
		rec, ok := s.Get("p1")
		return ok && rec.Status == StatusRunning && rec.EndedAt == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUnknownPlanEventsIgnored(t *testing.T) {
	b := newTestBus(t)
	s := startStore(t, b)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicStepExecuted,
		events.StepExecuted{PlanID: "ghost", StepID: "s1", Status: events.StepStatusSuccess}))
	require.NoError(t, b.Publish(ctx, events.TopicPlanEnded,
		events.PlanEnded{PlanID: "ghost", Layer: events.LayerAmbient, Status: events.PlanStatusCompleted}))

	time.Sleep(50 * time.Millisecond)
	_, ok := s.Get("ghost")
	assert.False(t, ok)
	assert.Empty(t, s.List())
}

func TestCapacityEvictsOldest(t *testing.T) {
	b := newTestBus(t)
	s := startStore(t, b, WithCapacity(2))

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		require.NoError(t, b.Publish(ctx, events.TopicPlanStarted,
			events.PlanStarted{PlanID: fmt.Sprintf("p%d", i), Layer: events.LayerAmbient}))
	}

	require.Eventually(t, func() bool {
		_, ok := s.Get("p3")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := s.Get("p1")
	assert.False(t, ok)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "p2", list[0].PlanID)
	assert.Equal(t, "p3", list[1].PlanID)
}

func TestGetReturnsCopy(t *testing.T) {
	b := newTestBus(t)
	s := startStore(t, b)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, events.TopicPlanStarted,
		events.PlanStarted{PlanID: "p1", Layer: events.LayerAmbient}))
	require.NoError(t, b.Publish(ctx, events.TopicStepExecuted,
		events.StepExecuted{PlanID: "p1", StepID: "s1", Status: events.StepStatusSuccess}))

	require.Eventually(t, func() bool {
		rec, ok := s.Get("p1")
		return ok && len(rec.Steps) == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec, _ := s.Get("p1")
	rec.Steps[0].StepID = "mutated"
	rec.Status = "mutated"

	fresh, _ := s.Get("p1")
	assert.Equal(t, "s1", fresh.Steps[0].StepID)
	assert.Equal(t, StatusRunning, fresh.Status)
}
