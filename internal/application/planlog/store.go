package planlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the store's name on the status stream.
const ServiceName = "plan-log"

const defaultCapacity = 256

// StatusRunning marks a plan that has started but not yet ended.
const StatusRunning = "running"

// StepRecord is the recorded outcome of one step.
type StepRecord struct {
	StepID  string         `json:"step_id"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
	At      time.Time      `json:"at"`
}

// Record is the recorded lifecycle of one plan.
type Record struct {
	PlanID    string       `json:"plan_id"`
	Layer     events.Layer `json:"layer"`
	Status    string       `json:"status"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
	Steps     []StepRecord `json:"steps,omitempty"`
}

// Store is the plan log service.
type Store struct {
	*service.Base

	capacity int

	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity bounds how many plan records are retained; the oldest
// record is evicted first.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// New creates the plan log on eventBus.
func New(eventBus *bus.Bus, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		capacity: defaultCapacity,
		records:  make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Base = service.NewBase(ServiceName, eventBus, logger, service.WithHooks(service.Hooks{
		OnStart: s.onStart,
	}))
	return s
}

func (s *Store) onStart(ctx context.Context) error {
	if err := s.Subscribe(events.TopicPlanStarted, s.handlePlanStarted); err != nil {
		return err
	}
	if err := s.Subscribe(events.TopicStepExecuted, s.handleStepExecuted); err != nil {
		return err
	}
	return s.Subscribe(events.TopicPlanEnded, s.handlePlanEnded)
}

// Get returns a copy of the record for planID.
func (s *Store) Get(planID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[planID]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.Steps = append([]StepRecord(nil), rec.Steps...)
	return out, true
}

// List returns copies of all retained records, oldest first.
func (s *Store) List() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.order))
	for _, planID := range s.order {
		if rec, ok := s.records[planID]; ok {
			copied := *rec
			copied.Steps = append([]StepRecord(nil), rec.Steps...)
			out = append(out, copied)
		}
	}
	return out
}

func (s *Store) handlePlanStarted(ctx context.Context, event bus.Event) error {
	started, ok := event.Payload.(events.PlanStarted)
	if !ok {
		return fmt.Errorf("malformed plan-started payload %T", event.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[started.PlanID]; !exists {
		s.order = append(s.order, started.PlanID)
	}
	s.records[started.PlanID] = &Record{
		PlanID:    started.PlanID,
		Layer:     started.Layer,
		Status:    StatusRunning,
		StartedAt: event.Timestamp,
	}

	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
	return nil
}

func (s *Store) handleStepExecuted(ctx context.Context, event bus.Event) error {
	step, ok := event.Payload.(events.StepExecuted)
	if !ok {
		return fmt.Errorf("malformed step-executed payload %T", event.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[step.PlanID]
	if !exists {
		return nil
	}
	rec.Steps = append(rec.Steps, StepRecord{
		StepID:  step.StepID,
		Status:  step.Status,
		Details: step.Details,
		Error:   step.Error,
		At:      event.Timestamp,
	})
	return nil
}

func (s *Store) handlePlanEnded(ctx context.Context, event bus.Event) error {
	ended, ok := event.Payload.(events.PlanEnded)
	if !ok {
		return fmt.Errorf("malformed plan-ended payload %T", event.Payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[ended.PlanID]
	if !exists {
		return nil
	}
	rec.Status = ended.Status
	at := event.Timestamp
	rec.EndedAt = &at
	return nil
}
