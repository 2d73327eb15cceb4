package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerPriorityOrder(t *testing.T) {
	assert.Greater(t, LayerOverride.Priority(), LayerForeground.Priority())
	assert.Greater(t, LayerForeground.Priority(), LayerAmbient.Priority())
	assert.Equal(t, -1, Layer("bogus").Priority())
	assert.False(t, Layer("bogus").Valid())
}

func TestPlanValidate(t *testing.T) {
	valid := Plan{
		PlanID: "p1",
		Layer:  LayerForeground,
		Steps: []Step{
			{ID: "s1", Type: StepSpeak, Text: "hello"},
			{ID: "s2", Type: StepMusicCrossfade, Playlist: "calm", DurationMs: 2000},
			{ID: "s3", Type: StepMusicDuck, Level: 0.2},
			{ID: "s4", Type: StepMusicUnduck},
			{ID: "s5", Type: StepParallel, Steps: []Step{
				{ID: "s5a", Type: StepSpeak, Text: "inner"},
				{ID: "s5b", Type: StepMusicUnduck},
			}},
		},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		plan Plan
	}{
		{"missing plan id", Plan{Layer: LayerAmbient, Steps: valid.Steps}},
		{"unknown layer", Plan{PlanID: "p", Layer: "urgent", Steps: valid.Steps}},
		{"empty steps", Plan{PlanID: "p", Layer: LayerAmbient}},
		{"missing step id", Plan{PlanID: "p", Layer: LayerAmbient,
			Steps: []Step{{Type: StepSpeak, Text: "x"}}}},
		{"speak without text", Plan{PlanID: "p", Layer: LayerAmbient,
			Steps: []Step{{ID: "s", Type: StepSpeak}}}},
		{"crossfade without playlist", Plan{PlanID: "p", Layer: LayerAmbient,
			Steps: []Step{{ID: "s", Type: StepMusicCrossfade}}}},
		{"unknown step type", Plan{PlanID: "p", Layer: LayerAmbient,
			Steps: []Step{{ID: "s", Type: "dance"}}}},
		{"empty parallel", Plan{PlanID: "p", Layer: LayerAmbient,
			Steps: []Step{{ID: "s", Type: StepParallel}}}},
		{"nested parallel", Plan{PlanID: "p", Layer: LayerAmbient,
			Steps: []Step{{ID: "s", Type: StepParallel, Steps: []Step{
				{ID: "inner", Type: StepParallel, Steps: []Step{
					{ID: "leaf", Type: StepMusicUnduck},
				}},
			}}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.plan.Validate())
		})
	}
}

func TestPlanDecodesFromJSON(t *testing.T) {
	raw := `{
		"plan_id": "evening-1",
		"layer": "ambient",
		"steps": [
			{"id": "s1", "type": "music_crossfade", "playlist": "sunset", "duration_ms": 3000},
			{"id": "s2", "type": "speak", "text": "good evening", "expected_duration": 2.5},
			{"id": "s3", "type": "parallel_steps", "steps": [
				{"id": "s3a", "type": "music_duck", "level": 0.3},
				{"id": "s3b", "type": "speak", "text": "quiet now"}
			]}
		]
	}`

	var plan Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &plan))
	require.NoError(t, plan.Validate())

	assert.Equal(t, "evening-1", plan.PlanID)
	assert.Equal(t, LayerAmbient, plan.Layer)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, StepMusicCrossfade, plan.Steps[0].Type)
	assert.Equal(t, 3000, plan.Steps[0].DurationMs)
	assert.InDelta(t, 2.5, plan.Steps[1].ExpectedDuration, 0.001)
	require.Len(t, plan.Steps[2].Steps, 2)
	assert.InDelta(t, 0.3, plan.Steps[2].Steps[0].Level, 0.001)
}

func TestSchemasCoverAllTopics(t *testing.T) {
	schemas := Schemas()
	for _, topic := range AllTopics() {
		assert.Contains(t, schemas, topic)
	}
	assert.Len(t, schemas, len(AllTopics()))
}
