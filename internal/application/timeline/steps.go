package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/veslabs/chorus/internal/bus"
	"github.com/veslabs/chorus/internal/events"
)

// executeStep dispatches a top-level step to its type handler.
func (x *Executor) executeStep(ctx context.Context, run *planRun, step events.Step) (map[string]any, error) {
	switch step.Type {
	case events.StepSpeak:
		return x.stepSpeak(ctx, run, step)
	case events.StepMusicCrossfade, events.StepMusicDuck, events.StepMusicUnduck:
		return x.stepMusic(ctx, run, step)
	case events.StepParallel:
		return x.stepParallel(ctx, run, step)
	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// stepSpeak brackets a TTS request with audio ducking and waits for the
// correlated speech-ended signal. Ducking is released on completion,
// timeout and cancellation alike; a timeout is a step failure.
func (x *Executor) stepSpeak(ctx context.Context, run *planRun, step events.Step) (map[string]any, error) {
	ducking := events.AudioDucking{PlanID: run.plan.PlanID, StepID: step.ID}
	if err := x.publish(ctx, run, events.TopicAudioDuckingStart, ducking); err != nil {
		return nil, fmt.Errorf("ducking start: %w", err)
	}
	defer func() {
		if err := x.publish(context.Background(), run, events.TopicAudioDuckingStop, ducking); err != nil && !errors.Is(err, bus.ErrBusClosed) {
			x.Logger().Error("failed to publish ducking stop", zap.Error(err))
		}
	}()

	utteranceID := uuid.New().String()
	ch := x.waiters.register(utteranceID)
	if err := x.publish(ctx, run, events.TopicTTSGenerateRequest, events.TTSGenerateRequest{
		Text:        step.Text,
		UtteranceID: utteranceID,
		PlanID:      run.plan.PlanID,
		StepID:      step.ID,
	}); err != nil {
		x.waiters.deregister(utteranceID)
		return nil, fmt.Errorf("tts request: %w", err)
	}

	if _, err := x.waiters.await(ctx, utteranceID, ch, x.speakTimeout(step)); err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			return nil, fmt.Errorf("speak %s: %w", step.ID, err)
		}
		return nil, err
	}
	return map[string]any{"text": step.Text}, nil
}

// stepMusic publishes the control event for the step's variant and
// optionally awaits the backend's confirmation.
func (x *Executor) stepMusic(ctx context.Context, run *planRun, step events.Step) (map[string]any, error) {
	requestID := uuid.New().String()

	var (
		topic   bus.Topic
		payload any
	)
	switch step.Type {
	case events.StepMusicCrossfade:
		topic = events.TopicMusicCrossfade
		payload = events.MusicCrossfade{
			RequestID:  requestID,
			Playlist:   step.Playlist,
			DurationMs: step.DurationMs,
		}
	case events.StepMusicDuck:
		topic = events.TopicMusicDuck
		payload = events.MusicDuck{RequestID: requestID, Level: step.Level}
	case events.StepMusicUnduck:
		topic = events.TopicMusicUnduck
		payload = events.MusicUnduck{RequestID: requestID}
	}

	if !x.cfg.AwaitMusicConfirm {
		if err := x.publish(ctx, run, topic, payload); err != nil {
			return nil, fmt.Errorf("music control: %w", err)
		}
		return map[string]any{"request_id": requestID}, nil
	}

	ch := x.waiters.register(requestID)
	if err := x.publish(ctx, run, topic, payload); err != nil {
		x.waiters.deregister(requestID)
		return nil, fmt.Errorf("music control: %w", err)
	}
	if _, err := x.waiters.await(ctx, requestID, ch, x.cfg.MusicConfirmTimeout); err != nil {
		if errors.Is(err, ErrWaitTimeout) {
			return nil, fmt.Errorf("music %s: %w", step.ID, err)
		}
		return nil, err
	}
	return map[string]any{"request_id": requestID}, nil
}

// stepParallel fans the sub-steps out concurrently and joins them with
// all-must-succeed semantics: the first failure cancels the remaining
// sub-steps and fails the composite step.
func (x *Executor) stepParallel(ctx context.Context, run *planRun, step events.Step) (map[string]any, error) {
	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range step.Steps {
		sub := sub
		g.Go(func() error {
			if err := x.runStep(gctx, run, sub); err != nil {
				return fmt.Errorf("sub-step %s: %w", sub.ID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return map[string]any{"sub_steps": len(step.Steps)}, nil
}

// speakTimeout derives the speech wait bound from the step's expected
// duration when present.
func (x *Executor) speakTimeout(step events.Step) time.Duration {
	if step.ExpectedDuration > 0 {
		return time.Duration(step.ExpectedDuration*float64(time.Second)) + x.cfg.SpeakSlack
	}
	return x.cfg.SpeakTimeout
}
