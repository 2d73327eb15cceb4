package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/application/planlog"
	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the API server's name on the status stream.
const ServiceName = "http-api"

const shutdownGrace = 5 * time.Second

// Server is the HTTP control surface. It publishes requests onto the
// bus and answers reads from its own caches; it never reaches into the
// kernel components directly.
type Server struct {
	*service.Base

	router     *gin.Engine
	server     *http.Server
	supervisor *service.Supervisor
	plans      *planlog.Store

	modeMu sync.RWMutex
	mode   events.Mode
}

// Config holds HTTP server configuration.
type Config struct {
	Addr       string
	Bus        *bus.Bus
	Supervisor *service.Supervisor
	Plans      *planlog.Store
	Logger     *zap.Logger

	// Stream, when set, is mounted as the websocket event stream
	// endpoint.
	Stream gin.HandlerFunc
}

// NewServer creates the API server. It starts listening when Start is
// called.
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:     router,
		supervisor: cfg.Supervisor,
		plans:      cfg.Plans,
		mode:       events.ModeStartup,
	}
	s.Base = service.NewBase(ServiceName, cfg.Bus, cfg.Logger, service.WithHooks(service.Hooks{
		OnStart: s.onStart,
	}))

	s.setupRoutes(cfg.Stream)

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	return s
}

func (s *Server) setupRoutes(stream gin.HandlerFunc) {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/plans", s.handleSubmitPlan)
		v1.GET("/plans", s.handleListPlans)
		v1.GET("/plans/:id", s.handleGetPlan)
		v1.GET("/mode", s.handleGetMode)
		v1.POST("/mode", s.handleSetMode)
		v1.POST("/commands", s.handleSubmitCommand)

		if stream != nil {
			v1.GET("/events/ws", stream)
		}
	}
}

func (s *Server) onStart(ctx context.Context) error {
	if err := s.Subscribe(events.TopicSystemModeChange, s.handleModeChange); err != nil {
		return err
	}

	s.Go("http-listen", func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- s.server.ListenAndServe() }()

		s.Logger().Info("http server listening", zap.String("addr", s.server.Addr))

		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				s.Logger().Warn("http shutdown incomplete", zap.Error(err))
			}
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		}
	})
	return nil
}

// handleModeChange keeps the server's mode cache in sync with the mode
// state machine.
func (s *Server) handleModeChange(ctx context.Context, event bus.Event) error {
	change, ok := event.Payload.(events.SystemModeChange)
	if !ok {
		return nil
	}
	s.modeMu.Lock()
	s.mode = change.NewMode
	s.modeMu.Unlock()
	return nil
}

func (s *Server) currentMode() events.Mode {
	s.modeMu.RLock()
	defer s.modeMu.RUnlock()
	return s.mode
}
