package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/application/planlog"
	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

type rig struct {
	bus    *bus.Bus
	sup    *service.Supervisor
	plans  *planlog.Store
	server *Server
}

func newRig(t *testing.T) *rig {
	t.Helper()
	b := bus.New(zap.NewNop(), bus.WithSchemas(events.Schemas()))
	t.Cleanup(func() { _ = b.Close() })

	sup := service.NewSupervisor(zap.NewNop())
	plans := planlog.New(b, zap.NewNop())
	require.NoError(t, plans.Start(context.Background()))
	t.Cleanup(func() { _ = plans.Stop(context.Background()) })
	sup.Register(plans)

	s := NewServer(&Config{
		Addr:       "127.0.0.1:0",
		Bus:        b,
		Supervisor: sup,
		Plans:      plans,
		Logger:     zap.NewNop(),
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	sup.Register(s)

	return &rig{bus: b, sup: sup, plans: plans, server: s}
}

func (r *rig) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.server.router.ServeHTTP(w, req)
	return w
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

func TestHealthReportsServices(t *testing.T) {
	r := newRig(t)

	w := r.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string            `json:"status"`
		Mode     string            `json:"mode"`
		Services map[string]string `json:"services"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, string(events.ModeStartup), body.Mode)
	assert.Equal(t, string(service.StatusRunning), body.Services[planlog.ServiceName])
	assert.Equal(t, string(service.StatusRunning), body.Services[ServiceName])
}

func TestHealthDegradedWhenServiceDown(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.plans.Stop(context.Background()))

	w := r.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestSubmitPlanPublishes(t *testing.T) {
	r := newRig(t)
	ready := recordEvents(t, r.bus, events.TopicPlanReady)

	body := `{
		"conversation_id": "conv-3",
		"plan": {
			"plan_id": "p1",
			"layer": "foreground",
			"steps": [{"id": "s1", "type": "speak", "text": "hi"}]
		}
	}`
	w := r.do(http.MethodPost, "/api/v1/plans", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "p1")

	e := recv(t, ready)
	plan := e.Payload.(events.Plan)
	assert.Equal(t, "p1", plan.PlanID)
	assert.Equal(t, events.LayerForeground, plan.Layer)
	assert.Equal(t, "conv-3", e.ConversationID)
}

func TestSubmitPlanValidation(t *testing.T) {
	r := newRig(t)

	w := r.do(http.MethodPost, "/api/v1/plans", `{"plan": {`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	invalid := `{"plan": {"plan_id": "p1", "layer": "urgent", "steps": [{"id": "s1", "type": "speak", "text": "x"}]}}`
	w = r.do(http.MethodPost, "/api/v1/plans", invalid)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_PLAN")
}

func TestPlanLogEndpoints(t *testing.T) {
	r := newRig(t)

	ctx := context.Background()
	require.NoError(t, r.bus.Publish(ctx, events.TopicPlanStarted,
		events.PlanStarted{PlanID: "p1", Layer: events.LayerAmbient}))
	require.NoError(t, r.bus.Publish(ctx, events.TopicPlanEnded,
		events.PlanEnded{PlanID: "p1", Layer: events.LayerAmbient, Status: events.PlanStatusCompleted}))

	require.Eventually(t, func() bool {
		rec, ok := r.plans.Get("p1")
		return ok && rec.Status == events.PlanStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w := r.do(http.MethodGet, "/api/v1/plans/p1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec planlog.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, events.PlanStatusCompleted, rec.Status)

	w = r.do(http.MethodGet, "/api/v1/plans/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = r.do(http.MethodGet, "/api/v1/plans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestModeEndpoints(t *testing.T) {
	r := newRig(t)
	requests := recordEvents(t, r.bus, events.TopicSetModeRequest)

	// The cache follows committed mode changes.
	require.NoError(t, r.bus.Publish(context.Background(), events.TopicSystemModeChange,
		events.SystemModeChange{OldMode: events.ModeStartup, NewMode: events.ModeIdle, Timestamp: time.Now()}))
	require.Eventually(t, func() bool {
		return r.server.currentMode() == events.ModeIdle
	}, 2*time.Second, 10*time.Millisecond)

	w := r.do(http.MethodGet, "/api/v1/mode", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(events.ModeIdle))

	w = r.do(http.MethodPost, "/api/v1/mode", `{"mode": "AMBIENT"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	req := recv(t, requests).Payload.(events.SetModeRequest)
	assert.Equal(t, events.ModeAmbient, req.Mode)
	assert.Equal(t, "http", req.Source)

	w = r.do(http.MethodPost, "/api/v1/mode", `{"mode": "TURBO"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestCommandEndpoint(t *testing.T) {
	r := newRig(t)
	commands := recordEvents(t, r.bus, events.TopicCLICommand)

	w := r.do(http.MethodPost, "/api/v1/commands", `{"command": "status"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	cmd := recv(t, commands).Payload.(events.Command)
	assert.Equal(t, "status", cmd.Command)
	assert.Equal(t, "http", cmd.Source)

	w = r.do(http.MethodPost, "/api/v1/commands", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
