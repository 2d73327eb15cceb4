package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Supervisor owns the ordered start and stop of the process's services.
// Services start in registration order and stop in reverse.
type Supervisor struct {
	logger *zap.Logger

	mu      sync.RWMutex
	runners []Runner
}

// NewSupervisor creates an empty supervisor.
func NewSupervisor(logger *zap.Logger) *Supervisor {
	return &Supervisor{logger: logger}
}

// Register appends a service to the start order.
func (s *Supervisor) Register(r Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners = append(s.runners, r)
}

// StartAll starts every registered service in order. On failure the
// services already running are stopped in reverse before the error is
// returned.
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.RLock()
	runners := append([]Runner(nil), s.runners...)
	s.mu.RUnlock()

	for i, r := range runners {
		s.logger.Info("starting service", zap.String("service", r.Name()))
		if err := r.Start(ctx); err != nil {
			s.logger.Error("service failed to start",
				zap.String("service", r.Name()),
				zap.Error(err))
			for j := i - 1; j >= 0; j-- {
				if stopErr := runners[j].Stop(ctx); stopErr != nil {
					s.logger.Error("rollback stop failed",
						zap.String("service", runners[j].Name()),
						zap.Error(stopErr))
				}
			}
			return fmt.Errorf("start %s: %w", r.Name(), err)
		}
	}
	return nil
}

// StopAll stops every registered service in reverse order, collecting
// errors instead of aborting early.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.RLock()
	runners := append([]Runner(nil), s.runners...)
	s.mu.RUnlock()

	var errs []error
	for i := len(runners) - 1; i >= 0; i-- {
		r := runners[i]
		s.logger.Info("stopping service", zap.String("service", r.Name()))
		if err := r.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", r.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Statuses returns a point-in-time snapshot of every service's state.
func (s *Supervisor) Statuses() map[string]Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make(map[string]Status, len(s.runners))
	for _, r := range s.runners {
		statuses[r.Name()] = r.Status()
	}
	return statuses
}

// Healthy reports whether every registered service is RUNNING.
func (s *Supervisor) Healthy() bool {
	for _, status := range s.Statuses() {
		if status != StatusRunning {
			return false
		}
	}
	return true
}
