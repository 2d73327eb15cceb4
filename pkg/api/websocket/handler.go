package websocket

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the stream's name on the status stream.
const ServiceName = "websocket-stream"

const clientBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	ch chan bus.Event
	// topics is nil when the client wants all traffic.
	topics map[bus.Topic]struct{}
}

// Handler mirrors bus traffic to websocket clients. Each connection
// gets a bounded buffer; a slow client loses events rather than slowing
// the bus.
type Handler struct {
	*service.Base

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHandler creates the stream service on eventBus.
func NewHandler(eventBus *bus.Bus, logger *zap.Logger) *Handler {
	h := &Handler{
		clients: make(map[*client]struct{}),
	}
	h.Base = service.NewBase(ServiceName, eventBus, logger, service.WithHooks(service.Hooks{
		OnStart: h.onStart,
	}))
	return h
}

func (h *Handler) onStart(ctx context.Context) error {
	for _, topic := range events.AllTopics() {
		if err := h.Subscribe(topic, h.fanOut); err != nil {
			return err
		}
	}
	return nil
}

// fanOut hands the event to every interested client without blocking
// the dispatch loop.
func (h *Handler) fanOut(ctx context.Context, event bus.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		if c.topics != nil {
			if _, ok := c.topics[event.Topic]; !ok {
				continue
			}
		}
		select {
		case c.ch <- event:
		default:
			h.Logger().Debug("client buffer full, dropping event",
				zap.String("topic", string(event.Topic)))
		}
	}
	return nil
}

// HandleStream upgrades the request and streams event envelopes as JSON
// text messages. An optional topics query parameter (comma separated)
// restricts the stream.
func (h *Handler) HandleStream(c *gin.Context) {
	if h.Status() != service.StatusRunning {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}

	var topics map[bus.Topic]struct{}
	if raw := c.Query("topics"); raw != "" {
		topics = make(map[bus.Topic]struct{})
		for _, t := range strings.Split(raw, ",") {
			topics[bus.Topic(strings.TrimSpace(t))] = struct{}{}
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger().Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.Logger().Info("websocket client connected",
		zap.String("client", c.ClientIP()))

	cl := &client{
		ch:     make(chan bus.Event, clientBuffer),
		topics: topics,
	}
	h.addClient(cl)
	defer h.removeClient(cl)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Drain reads so close frames and dead peers are noticed.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-cl.ch:
			if err := conn.WriteJSON(event); err != nil {
				h.Logger().Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *Handler) addClient(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) removeClient(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
