package dispatcher

import (
	"context"
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

func recordEvents(t *testing.T, b *bus.Bus, topic bus.Topic) <-chan bus.Event {
	t.Helper()
	ch := make(chan bus.Event, 16)
	_, err := b.Subscribe(topic, func(ctx context.Context, e bus.Event) error {
		ch <- e
		return nil
	})
	require.NoError(t, err)
	return ch
}

func recv(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return bus.Event{}
	}
}

func TestRoutesRegisteredCommand(t *testing.T) {
	b := newTestBus(t)
	d := New(b, zap.NewNop())
	d.RegisterCommand("status", "mode-machine", events.TopicModeCommand)
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	routed := recordEvents(t, b, events.TopicModeCommand)

	cmd := events.Command{Command: "status", Args: []string{"verbose"}, Source: "cli"}
	require.NoError(t, b.Publish(context.Background(), events.TopicCLICommand, cmd,
		bus.WithConversationID("conv-1")))

	got := recv(t, routed)
	assert.Equal(t, cmd, got.Payload)
	assert.Equal(t, "conv-1", got.ConversationID)
}

func TestUnknownCommandAnswersError(t *testing.T) {
	b := newTestBus(t)
	d := New(b, zap.NewNop())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	responses := recordEvents(t, b, events.TopicCLIResponse)

	require.NoError(t, b.Publish(context.Background(), events.TopicCLICommand,
		events.Command{Command: "frobnicate"}))

	got := recv(t, responses)
	resp := got.Payload.(events.CLIResponse)
	assert.True(t, resp.IsError)
	assert.Equal(t, "frobnicate", resp.Command)
	assert.Equal(t, "Unknown command: frobnicate", resp.Message)
}

func TestReRegistrationLastWins(t *testing.T) {
	b := newTestBus(t)
	d := New(b, zap.NewNop())
	d.RegisterCommand("volume", "music-service", events.TopicMusicDuck)
	d.RegisterCommand("volume", "mode-machine", events.TopicModeCommand)

	routes := d.Routes()
	require.Contains(t, routes, "volume")
	assert.Equal(t, Route{Owner: "mode-machine", Topic: events.TopicModeCommand}, routes["volume"])
}

func TestRegistrationWhileRunning(t *testing.T) {
	b := newTestBus(t)
	d := New(b, zap.NewNop())
	require.NoError(t, d.Start(context.Background()))
	defer d.Stop(context.Background())

	routed := recordEvents(t, b, events.TopicModeCommand)
	responses := recordEvents(t, b, events.TopicCLIResponse)

	// Unknown before registration.
	require.NoError(t, b.Publish(context.Background(), events.TopicCLICommand,
		events.Command{Command: "set"}))
	assert.True(t, recv(t, responses).Payload.(events.CLIResponse).IsError)

	// Routed after.
	d.RegisterCommand("set", "mode-machine", events.TopicModeCommand)
	require.NoError(t, b.Publish(context.Background(), events.TopicCLICommand,
		events.Command{Command: "set", Args: []string{"ambient"}}))
	got := recv(t, routed)
	assert.Equal(t, "set", got.Payload.(events.Command).Command)
}
