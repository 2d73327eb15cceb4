package timeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/veslabs/chorus/internal/bus"
)

// ErrWaitTimeout is returned when an expected external signal did not
// arrive in time. At step level this is a step failure.
var ErrWaitTimeout = errors.New("timed out waiting for external signal")

// waiters correlates outgoing requests with the external completion
// events that answer them. A waiter that was cancelled or timed out is
// deregistered, so a late completion is dropped instead of resolving a
// stale wait.
type waiters struct {
	mu    sync.Mutex
	chans map[string]chan bus.Event
}

func newWaiters() *waiters {
	return &waiters{chans: make(map[string]chan bus.Event)}
}

// register creates a one-shot waiter for the correlation key.
func (w *waiters) register(key string) <-chan bus.Event {
	ch := make(chan bus.Event, 1)
	w.mu.Lock()
	w.chans[key] = ch
	w.mu.Unlock()
	return ch
}

// deregister drops the waiter for key, if any.
func (w *waiters) deregister(key string) {
	w.mu.Lock()
	delete(w.chans, key)
	w.mu.Unlock()
}

// resolve delivers event to the waiter registered for key. It reports
// whether a waiter was found; a miss means the wait was abandoned.
func (w *waiters) resolve(key string, event bus.Event) bool {
	w.mu.Lock()
	ch, ok := w.chans[key]
	if ok {
		delete(w.chans, key)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}
	ch <- event
	return true
}

// await blocks until the waiter resolves, the timeout elapses, or ctx
// is cancelled. The waiter is always deregistered before returning.
func (w *waiters) await(ctx context.Context, key string, ch <-chan bus.Event, timeout time.Duration) (bus.Event, error) {
	defer w.deregister(key)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-ch:
		return event, nil
	case <-timer.C:
		return bus.Event{}, ErrWaitTimeout
	case <-ctx.Done():
		return bus.Event{}, ctx.Err()
	}
}
