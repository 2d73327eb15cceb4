package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
	"github.com/veslabs/chorus/internal/service"
)

// ServiceName is the executor's name on the status stream.
const ServiceName = "timeline-executor"

// Config holds the executor's timing knobs.
type Config struct {
	// SpeakTimeout bounds the wait for a speech-ended signal when the
	// step carries no expected duration.
	SpeakTimeout time.Duration
	// SpeakSlack is added on top of a step's expected duration.
	SpeakSlack time.Duration
	// MusicConfirmTimeout bounds the wait for a music confirmation.
	MusicConfirmTimeout time.Duration
	// AwaitMusicConfirm makes music steps wait for MUSIC_STATE_CHANGED
	// before reporting success.
	AwaitMusicConfirm bool
	// PreemptGrace bounds how long a preemption waits for the displaced
	// task before moving on.
	PreemptGrace time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		SpeakTimeout:        30 * time.Second,
		SpeakSlack:          5 * time.Second,
		MusicConfirmTimeout: 5 * time.Second,
		AwaitMusicConfirm:   false,
		PreemptGrace:        5 * time.Second,
	}
}

// Metrics receives plan and step lifecycle counters.
type Metrics interface {
	PlanStarted(layer string)
	PlanEnded(layer, status string)
	StepExecuted(stepType, status string, duration time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) PlanStarted(string)                         {}
func (nopMetrics) PlanEnded(string, string)                   {}
func (nopMetrics) StepExecuted(string, string, time.Duration) {}

// planRun is one layer's active task. ended flips exactly once, when
// the terminal PLAN_ENDED for the plan is published, so natural
// completion and preemption never both report an outcome.
type planRun struct {
	plan           events.Plan
	conversationID string
	cancel         context.CancelFunc
	done           chan struct{}
	ended          atomic.Bool
}

// Executor is the timeline executor service.
type Executor struct {
	*service.Base

	cfg     Config
	metrics Metrics
	waiters *waiters

	// layers is the per-layer runtime table; the executor is its single
	// writer, under mu.
	mu     sync.Mutex
	layers map[events.Layer]*planRun
}

// Option configures an Executor.
type Option func(*Executor)

// WithConfig overrides the timing defaults.
func WithConfig(cfg Config) Option {
	return func(x *Executor) { x.cfg = cfg }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(metrics Metrics) Option {
	return func(x *Executor) {
		if metrics != nil {
			x.metrics = metrics
		}
	}
}

// New creates the timeline executor on eventBus.
func New(eventBus *bus.Bus, logger *zap.Logger, opts ...Option) *Executor {
	x := &Executor{
		cfg:     DefaultConfig(),
		metrics: nopMetrics{},
		waiters: newWaiters(),
		layers:  make(map[events.Layer]*planRun),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.Base = service.NewBase(ServiceName, eventBus, logger, service.WithHooks(service.Hooks{
		OnStart: x.onStart,
		OnStop:  x.onStop,
	}))
	return x
}

func (x *Executor) onStart(ctx context.Context) error {
	if err := x.Subscribe(events.TopicPlanReady, x.handlePlanReady); err != nil {
		return err
	}
	if err := x.Subscribe(events.TopicSpeechEnded, x.handleSpeechEnded); err != nil {
		return err
	}
	return x.Subscribe(events.TopicMusicStateChanged, x.handleMusicStateChanged)
}

// onStop runs after the task scope is closed: every run has already
// been cancelled and drained, so what is left is reporting the
// displaced plans.
func (x *Executor) onStop(ctx context.Context) error {
	x.mu.Lock()
	runs := make([]*planRun, 0, len(x.layers))
	for _, run := range x.layers {
		runs = append(runs, run)
	}
	x.layers = make(map[events.Layer]*planRun)
	x.mu.Unlock()

	for _, run := range runs {
		x.endPlan(context.Background(), run, events.PlanStatusCancelled)
	}
	return nil
}

// ActivePlans returns the plan ID currently running per layer.
func (x *Executor) ActivePlans() map[events.Layer]string {
	x.mu.Lock()
	defer x.mu.Unlock()

	active := make(map[events.Layer]string, len(x.layers))
	for layer, run := range x.layers {
		active[layer] = run.plan.PlanID
	}
	return active
}

// handlePlanReady validates the plan, preempts the target layer and
// every strictly lower layer, then spawns the plan's task. Preempted
// plans report PLAN_ENDED{cancelled} strictly before the new plan's
// PLAN_STARTED.
func (x *Executor) handlePlanReady(ctx context.Context, event bus.Event) error {
	plan, ok := event.Payload.(events.Plan)
	if !ok {
		x.EmitError(fmt.Sprintf("malformed plan payload %T", event.Payload))
		return nil
	}
	if err := plan.Validate(); err != nil {
		x.EmitError(fmt.Sprintf("plan rejected: %v", err))
		return nil
	}

	run := &planRun{
		plan:           plan,
		conversationID: event.ConversationID,
		done:           make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel

	// Swap the layer table atomically with respect to other plan
	// submissions, then cancel the displaced runs outside the lock.
	x.mu.Lock()
	var displaced []*planRun
	for _, layer := range events.Layers() {
		if layer.Priority() > plan.Layer.Priority() {
			continue
		}
		if active := x.layers[layer]; active != nil {
			displaced = append(displaced, active)
			delete(x.layers, layer)
		}
	}
	x.layers[plan.Layer] = run
	x.mu.Unlock()

	for _, old := range displaced {
		x.preempt(ctx, old)
	}

	x.Logger().Info("plan started",
		zap.String("plan_id", plan.PlanID),
		zap.String("layer", string(plan.Layer)),
		zap.Int("steps", len(plan.Steps)))
	x.metrics.PlanStarted(string(plan.Layer))
	if err := x.publish(ctx, run, events.TopicPlanStarted, events.PlanStarted{
		PlanID: plan.PlanID,
		Layer:  plan.Layer,
	}); err != nil {
		x.Logger().Error("failed to publish plan started", zap.Error(err))
	}

	x.Go("plan-"+plan.PlanID, func(scope context.Context) error {
		// Tie the run to the service scope so Stop cancels it too.
		detach := context.AfterFunc(scope, run.cancel)
		defer detach()
		x.runPlan(runCtx, run)
		return nil
	})
	return nil
}

// preempt cancels a displaced run, waits a bounded grace for it to stop
// at an await point or step boundary, then reports the cancellation.
func (x *Executor) preempt(ctx context.Context, run *planRun) {
	x.Logger().Info("preempting plan",
		zap.String("plan_id", run.plan.PlanID),
		zap.String("layer", string(run.plan.Layer)))
	run.cancel()

	select {
	case <-run.done:
	case <-time.After(x.cfg.PreemptGrace):
		x.Logger().Warn("displaced plan did not stop within grace period",
			zap.String("plan_id", run.plan.PlanID),
			zap.Duration("grace", x.cfg.PreemptGrace))
	}

	x.endPlan(ctx, run, events.PlanStatusCancelled)
}

// runPlan executes the plan's steps strictly sequentially with
// fail-fast semantics. On cancellation it returns without reporting;
// whoever cancelled the run owns the PLAN_ENDED{cancelled}.
func (x *Executor) runPlan(ctx context.Context, run *planRun) {
	defer close(run.done)

	for _, step := range run.plan.Steps {
		if ctx.Err() != nil {
			return
		}
		if err := x.runStep(ctx, run, step); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			x.clearLayer(run)
			x.endPlan(ctx, run, events.PlanStatusError)
			return
		}
	}

	x.clearLayer(run)
	x.endPlan(ctx, run, events.PlanStatusCompleted)
}

// runStep announces, dispatches and reports one top-level step.
func (x *Executor) runStep(ctx context.Context, run *planRun, step events.Step) error {
	if err := x.publish(ctx, run, events.TopicStepReady, events.StepReady{
		PlanID: run.plan.PlanID,
		StepID: step.ID,
	}); err != nil {
		x.Logger().Error("failed to publish step ready", zap.Error(err))
	}

	start := time.Now()
	details, err := x.executeStep(ctx, run, step)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		x.Logger().Warn("step failed",
			zap.String("plan_id", run.plan.PlanID),
			zap.String("step_id", step.ID),
			zap.Error(err))
		x.metrics.StepExecuted(string(step.Type), events.StepStatusError, duration)
		if pubErr := x.publish(ctx, run, events.TopicStepExecuted, events.StepExecuted{
			PlanID: run.plan.PlanID,
			StepID: step.ID,
			Status: events.StepStatusError,
			Error:  err.Error(),
		}); pubErr != nil {
			x.Logger().Error("failed to publish step executed", zap.Error(pubErr))
		}
		return err
	}

	x.metrics.StepExecuted(string(step.Type), events.StepStatusSuccess, duration)
	if pubErr := x.publish(ctx, run, events.TopicStepExecuted, events.StepExecuted{
		PlanID:  run.plan.PlanID,
		StepID:  step.ID,
		Status:  events.StepStatusSuccess,
		Details: details,
	}); pubErr != nil {
		x.Logger().Error("failed to publish step executed", zap.Error(pubErr))
	}
	return nil
}

// endPlan publishes the terminal PLAN_ENDED for a run, exactly once.
func (x *Executor) endPlan(ctx context.Context, run *planRun, status string) {
	if !run.ended.CompareAndSwap(false, true) {
		return
	}

	x.Logger().Info("plan ended",
		zap.String("plan_id", run.plan.PlanID),
		zap.String("layer", string(run.plan.Layer)),
		zap.String("status", status))
	x.metrics.PlanEnded(string(run.plan.Layer), status)
	if err := x.publish(ctx, run, events.TopicPlanEnded, events.PlanEnded{
		PlanID: run.plan.PlanID,
		Layer:  run.plan.Layer,
		Status: status,
	}); err != nil && !errors.Is(err, bus.ErrBusClosed) {
		x.Logger().Error("failed to publish plan ended", zap.Error(err))
	}
}

// clearLayer removes the run from the layer table if it still owns its
// slot (a preemption may already have replaced it).
func (x *Executor) clearLayer(run *planRun) {
	x.mu.Lock()
	if x.layers[run.plan.Layer] == run {
		delete(x.layers, run.plan.Layer)
	}
	x.mu.Unlock()
}

// publish stamps the plan's conversation ID onto a derived event.
func (x *Executor) publish(ctx context.Context, run *planRun, topic bus.Topic, payload any) error {
	return x.Bus().Publish(ctx, topic, payload, bus.WithConversationID(run.conversationID))
}

func (x *Executor) handleSpeechEnded(ctx context.Context, event bus.Event) error {
	signal, ok := event.Payload.(events.SpeechEnded)
	if !ok {
		return fmt.Errorf("malformed speech-ended payload %T", event.Payload)
	}
	if !x.waiters.resolve(signal.UtteranceID, event) {
		// Late completion for a cancelled or timed-out wait.
		x.Logger().Debug("dropping uncorrelated speech-ended signal",
			zap.String("utterance_id", signal.UtteranceID))
	}
	return nil
}

func (x *Executor) handleMusicStateChanged(ctx context.Context, event bus.Event) error {
	signal, ok := event.Payload.(events.MusicStateChanged)
	if !ok {
		return fmt.Errorf("malformed music-state payload %T", event.Payload)
	}
	if !x.waiters.resolve(signal.RequestID, event) {
		x.Logger().Debug("dropping uncorrelated music confirmation",
			zap.String("request_id", signal.RequestID))
	}
	return nil
}
