package events

import (
	"errors"
	"fmt"
)

// Layer is one of the three fixed priority lanes a plan runs on.
type Layer string

const (
	LayerAmbient    Layer = "ambient"
	LayerForeground Layer = "foreground"
	LayerOverride   Layer = "override"
)

// Valid reports whether l is a known layer.
func (l Layer) Valid() bool {
	switch l {
	case LayerAmbient, LayerForeground, LayerOverride:
		return true
	}
	return false
}

// Priority returns the layer's rank in the fixed total order
// override > foreground > ambient. Unknown layers rank lowest.
func (l Layer) Priority() int {
	switch l {
	case LayerOverride:
		return 2
	case LayerForeground:
		return 1
	case LayerAmbient:
		return 0
	}
	return -1
}

// Layers lists the three lanes in ascending priority order.
func Layers() []Layer {
	return []Layer{LayerAmbient, LayerForeground, LayerOverride}
}

// StepType tags the Step union.
type StepType string

const (
	StepSpeak          StepType = "speak"
	StepMusicCrossfade StepType = "music_crossfade"
	StepMusicDuck      StepType = "music_duck"
	StepMusicUnduck    StepType = "music_unduck"
	StepParallel       StepType = "parallel_steps"
)

// Step is one unit of work within a plan. It is a tagged union on Type;
// only the fields belonging to the tagged variant are meaningful.
type Step struct {
	ID   string   `json:"id"`
	Type StepType `json:"type"`

	// speak
	Text string `json:"text,omitempty"`

	// music_crossfade
	Playlist   string `json:"playlist,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`

	// music_duck
	Level float64 `json:"level,omitempty"`

	// parallel_steps
	Steps []Step `json:"steps,omitempty"`

	// ExpectedDuration, in seconds, bounds the wait for external
	// completion signals when set.
	ExpectedDuration float64 `json:"expected_duration,omitempty"`
}

// Validate checks the step against its tagged variant.
func (s Step) Validate() error {
	if s.ID == "" {
		return errors.New("step id is required")
	}
	switch s.Type {
	case StepSpeak:
		if s.Text == "" {
			return fmt.Errorf("step %s: speak requires text", s.ID)
		}
	case StepMusicCrossfade:
		if s.Playlist == "" {
			return fmt.Errorf("step %s: music_crossfade requires playlist", s.ID)
		}
	case StepMusicDuck, StepMusicUnduck:
		// No required fields.
	case StepParallel:
		if len(s.Steps) == 0 {
			return fmt.Errorf("step %s: parallel_steps requires sub-steps", s.ID)
		}
		for _, sub := range s.Steps {
			if sub.Type == StepParallel {
				return fmt.Errorf("step %s: nested parallel_steps are not supported", s.ID)
			}
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("step %s: unknown type %q", s.ID, s.Type)
	}
	return nil
}

// Plan is an ordered sequence of steps submitted to one priority layer.
// A plan is consumed once by the timeline executor and then discarded.
type Plan struct {
	PlanID string `json:"plan_id"`
	Layer  Layer  `json:"layer"`
	Steps  []Step `json:"steps"`
}

// Validate checks the plan envelope and every step in it.
func (p Plan) Validate() error {
	if p.PlanID == "" {
		return errors.New("plan_id is required")
	}
	if !p.Layer.Valid() {
		return fmt.Errorf("plan %s: unknown layer %q", p.PlanID, p.Layer)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan %s: empty step list", p.PlanID)
	}
	for _, s := range p.Steps {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("plan %s: %w", p.PlanID, err)
		}
	}
	return nil
}
