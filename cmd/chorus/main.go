package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veslabs/chorus/internal/application/dispatcher"
	"github.com/veslabs/chorus/internal/application/mode"
	"github.com/veslabs/chorus/internal/application/planlog"
	"github.com/veslabs/chorus/internal/application/timeline"
	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/config"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
	redistap "github.com/veslabs/chorus/pkg/adapters/events/redis"
	"github.com/veslabs/chorus/pkg/adapters/metrics/prometheus"
	"github.com/veslabs/chorus/pkg/api/http"
	"github.com/veslabs/chorus/pkg/api/websocket"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting chorus kernel",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	metricsCollector := prometheus.NewCollector()

	eventBus := bus.New(logger,
		bus.WithQueueSize(cfg.Bus.QueueSize),
		bus.WithMetrics(metricsCollector),
		bus.WithSchemas(events.Schemas()))

	// Application services.
	commandDispatcher := dispatcher.New(eventBus, logger,
		service.WithStopGrace(cfg.Service.StopGrace))

	modeMachine := mode.New(eventBus, logger,
		mode.WithGracePeriod(cfg.Mode.GracePeriod),
		mode.WithMetrics(metricsCollector))

	executor := timeline.New(eventBus, logger,
		timeline.WithConfig(timeline.Config{
			SpeakTimeout:        cfg.Timeline.SpeakTimeout,
			SpeakSlack:          cfg.Timeline.SpeakSlack,
			MusicConfirmTimeout: cfg.Timeline.MusicConfirmTimeout,
			AwaitMusicConfirm:   cfg.Timeline.AwaitMusicConfirm,
			PreemptGrace:        cfg.Timeline.PreemptGrace,
		}),
		timeline.WithMetrics(metricsCollector))

	planLog := planlog.New(eventBus, logger,
		planlog.WithCapacity(cfg.Timeline.PlanLogCapacity))

	// Command routing: the mode machine owns "status" and "set".
	commandDispatcher.RegisterCommand("status", mode.ServiceName, events.TopicModeCommand)
	commandDispatcher.RegisterCommand("set", mode.ServiceName, events.TopicModeCommand)

	supervisor := service.NewSupervisor(logger)
	supervisor.Register(commandDispatcher)
	supervisor.Register(modeMachine)
	supervisor.Register(executor)
	supervisor.Register(planLog)

	// Optional Redis mirror of bus traffic for external consumers.
	var redisClient *goredis.Client
	if cfg.Redis.TapEnabled {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		supervisor.Register(redistap.NewTap(
			redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen, eventBus, logger))
	}

	// Control surface.
	wsHandler := websocket.NewHandler(eventBus, logger)
	supervisor.Register(wsHandler)

	httpServer := http.NewServer(&http.Config{
		Addr:       cfg.GetHTTPAddr(),
		Bus:        eventBus,
		Supervisor: supervisor,
		Plans:      planLog,
		Logger:     logger,
		Stream:     wsHandler.HandleStream,
	})
	supervisor.Register(httpServer)

	ctx := context.Background()
	if err := supervisor.StartAll(ctx); err != nil {
		logger.Fatal("failed to start services", zap.Error(err))
	}

	healthMonitor := service.NewHealthMonitor(
		supervisor, cfg.Service.HealthCheckInterval, logger, metricsCollector)
	healthMonitor.Start()

	logger.Info("chorus kernel started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.String("mode", string(modeMachine.Current())))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	healthMonitor.Stop()

	if err := supervisor.StopAll(shutdownCtx); err != nil {
		logger.Error("service shutdown error", zap.Error(err))
	}

	eventBus.Close()

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	logger.Info("chorus kernel shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
