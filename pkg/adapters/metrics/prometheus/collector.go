package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/veslabs/chorus/internal/service"
)

// Collector implements the metrics interfaces the kernel components
// accept (bus, mode machine, timeline executor, health monitor) using
// Prometheus.
type Collector struct {
	eventsPublished *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	handlerErrors   *prometheus.CounterVec
	handlerPanics   *prometheus.CounterVec

	modeChanges *prometheus.CounterVec

	plansStarted *prometheus.CounterVec
	plansEnded   *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	stepDuration *prometheus.HistogramVec

	serviceUp *prometheus.GaugeVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector() *Collector {
	return &Collector{
		eventsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_events_published_total",
				Help: "Total number of events accepted by the bus",
			},
			[]string{"topic"},
		),
		eventsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_events_dropped_total",
				Help: "Total number of events dropped because the dispatch queue was full",
			},
			[]string{"topic"},
		),
		handlerErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_handler_errors_total",
				Help: "Total number of handler errors isolated at the bus boundary",
			},
			[]string{"topic"},
		),
		handlerPanics: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_handler_panics_total",
				Help: "Total number of handler panics recovered at the bus boundary",
			},
			[]string{"topic"},
		),
		modeChanges: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_mode_changes_total",
				Help: "Total number of committed mode transitions",
			},
			[]string{"from", "to"},
		),
		plansStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_plans_started_total",
				Help: "Total number of plans started",
			},
			[]string{"layer"},
		),
		plansEnded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_plans_ended_total",
				Help: "Total number of plans ended",
			},
			[]string{"layer", "status"},
		),
		stepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chorus_steps_executed_total",
				Help: "Total number of steps executed",
			},
			[]string{"step_type", "status"},
		),
		stepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "chorus_step_duration_seconds",
				Help:    "Step execution duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"step_type"},
		),
		serviceUp: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "chorus_service_up",
				Help: "Whether a service is RUNNING (1) or not (0)",
			},
			[]string{"service"},
		),
	}
}

// EventPublished counts an accepted publish.
func (c *Collector) EventPublished(topic string) {
	c.eventsPublished.WithLabelValues(topic).Inc()
}

// EventDropped counts a publish dropped on queue overflow.
func (c *Collector) EventDropped(topic string) {
	c.eventsDropped.WithLabelValues(topic).Inc()
}

// HandlerError counts a handler error isolated by the bus.
func (c *Collector) HandlerError(topic string) {
	c.handlerErrors.WithLabelValues(topic).Inc()
}

// HandlerPanic counts a handler panic recovered by the bus.
func (c *Collector) HandlerPanic(topic string) {
	c.handlerPanics.WithLabelValues(topic).Inc()
}

// ModeChanged counts a committed mode transition.
func (c *Collector) ModeChanged(from, to string) {
	c.modeChanges.WithLabelValues(from, to).Inc()
}

// PlanStarted counts a plan started on a layer.
func (c *Collector) PlanStarted(layer string) {
	c.plansStarted.WithLabelValues(layer).Inc()
}

// PlanEnded counts a plan outcome on a layer.
func (c *Collector) PlanEnded(layer, status string) {
	c.plansEnded.WithLabelValues(layer, status).Inc()
}

// StepExecuted counts a step outcome and records its duration.
func (c *Collector) StepExecuted(stepType, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(stepType, status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// ServiceStatus records whether a service is RUNNING.
func (c *Collector) ServiceStatus(name string, status string) {
	up := 0.0
	if status == string(service.StatusRunning) {
		up = 1.0
	}
	c.serviceUp.WithLabelValues(name).Set(up)
}
