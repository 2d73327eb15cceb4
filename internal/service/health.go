package service

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// HealthMetrics receives the periodic supervision snapshot.
type HealthMetrics interface {
	ServiceStatus(name string, status string)
}

// HealthMonitor periodically logs and records the state of every
// supervised service, and warns when a service sits in ERROR.
type HealthMonitor struct {
	sup      *Supervisor
	interval time.Duration
	logger   *zap.Logger
	metrics  HealthMetrics

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewHealthMonitor creates a monitor over sup ticking at interval.
func NewHealthMonitor(sup *Supervisor, interval time.Duration, logger *zap.Logger, metrics HealthMetrics) *HealthMonitor {
	return &HealthMonitor{
		sup:      sup,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the monitoring loop. Calling Start twice is a no-op.
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop halts the monitoring loop. Calling Stop twice is a no-op.
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

func (h *HealthMonitor) checkHealth() {
	statuses := h.sup.Statuses()

	var running, errored int
	for name, status := range statuses {
		if h.metrics != nil {
			h.metrics.ServiceStatus(name, string(status))
		}
		switch status {
		case StatusRunning:
			running++
		case StatusError:
			errored++
			h.logger.Warn("service in error state", zap.String("service", name))
		}
	}

	h.logger.Info("service health check",
		zap.Int("total", len(statuses)),
		zap.Int("running", running),
		zap.Int("errored", errored))
}
