package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the chorus kernel.
type Config struct {
	// Server configuration
	HTTPPort int    `env:"CHORUS_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Bus configuration
	Bus BusConfig

	// Service lifecycle
	Service ServiceConfig

	// Mode state machine
	Mode ModeConfig

	// Timeline executor
	Timeline TimelineConfig

	// Redis event tap (optional observability mirror)
	Redis RedisConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// BusConfig holds event bus configuration.
type BusConfig struct {
	QueueSize int `env:"CHORUS_BUS_QUEUE_SIZE" envDefault:"1024"`
}

// ServiceConfig holds lifecycle contract configuration.
type ServiceConfig struct {
	// StopGrace bounds how long a stopping service waits for its owned
	// tasks before proceeding.
	StopGrace           time.Duration `env:"CHORUS_STOP_GRACE" envDefault:"5s"`
	HealthCheckInterval time.Duration `env:"CHORUS_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// ModeConfig holds mode state machine configuration.
type ModeConfig struct {
	// GracePeriod is the debounce window for coalescing rapid
	// successive set-mode requests.
	GracePeriod time.Duration `env:"CHORUS_MODE_GRACE_PERIOD" envDefault:"150ms"`
}

// TimelineConfig holds timeline executor configuration.
type TimelineConfig struct {
	SpeakTimeout        time.Duration `env:"CHORUS_SPEAK_TIMEOUT" envDefault:"30s"`
	SpeakSlack          time.Duration `env:"CHORUS_SPEAK_SLACK" envDefault:"5s"`
	MusicConfirmTimeout time.Duration `env:"CHORUS_MUSIC_CONFIRM_TIMEOUT" envDefault:"5s"`
	AwaitMusicConfirm   bool          `env:"CHORUS_AWAIT_MUSIC_CONFIRM" envDefault:"false"`
	PreemptGrace        time.Duration `env:"CHORUS_PREEMPT_GRACE" envDefault:"5s"`
	PlanLogCapacity     int           `env:"CHORUS_PLAN_LOG_CAPACITY" envDefault:"256"`
}

// RedisConfig holds the optional Redis event tap configuration.
type RedisConfig struct {
	TapEnabled bool   `env:"CHORUS_REDIS_TAP_ENABLED" envDefault:"false"`
	Addr       string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password   string `env:"REDIS_PASS"`
	DB         int    `env:"REDIS_DB" envDefault:"0"`
	Stream     string `env:"CHORUS_REDIS_STREAM" envDefault:"chorus:events"`
	MaxLen     int64  `env:"CHORUS_REDIS_STREAM_MAXLEN" envDefault:"10000"`

	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// TimeoutConfig holds process-level timeouts.
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"CHORUS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Bus.QueueSize < 1 {
		return fmt.Errorf("bus queue size must be at least 1")
	}

	if c.Service.StopGrace <= 0 {
		return fmt.Errorf("stop grace must be positive")
	}

	if c.Mode.GracePeriod < 0 {
		return fmt.Errorf("mode grace period must not be negative")
	}

	if c.Timeline.SpeakTimeout <= 0 {
		return fmt.Errorf("speak timeout must be positive")
	}
	if c.Timeline.PreemptGrace <= 0 {
		return fmt.Errorf("preempt grace must be positive")
	}
	if c.Timeline.PlanLogCapacity < 1 {
		return fmt.Errorf("plan log capacity must be at least 1")
	}

	if c.Redis.TapEnabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required when the event tap is enabled")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
