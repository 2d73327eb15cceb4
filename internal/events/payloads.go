package events

import "time"

// Severity levels carried by ServiceStatusUpdate.
const (
	SeverityInfo  = "info"
	SeverityError = "error"
)

// SystemModeChange announces a committed mode transition.
type SystemModeChange struct {
	OldMode   Mode      `json:"old_mode"`
	NewMode   Mode      `json:"new_mode"`
	Timestamp time.Time `json:"timestamp"`
}

// SetModeRequest asks the mode state machine to move to Mode. Rapid
// successive requests are coalesced within the configured grace period.
type SetModeRequest struct {
	Mode   Mode   `json:"mode"`
	Source string `json:"source,omitempty"`
}

// ServiceStatusUpdate reports a service lifecycle transition or an
// error surfaced inside a service.
type ServiceStatusUpdate struct {
	Service  string `json:"service"`
	Status   string `json:"status"`
	Severity string `json:"severity"`
	Message  string `json:"message,omitempty"`
}

// Command is a named command with optional arguments, published on
// CLI_COMMAND and forwarded by the dispatcher to the owner's topic.
type Command struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// CLIResponse is the user-visible reply to a command.
type CLIResponse struct {
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
	IsError bool   `json:"is_error"`
}

// PlanStarted is emitted when a plan's task is spawned on a layer.
type PlanStarted struct {
	PlanID string `json:"plan_id"`
	Layer  Layer  `json:"layer"`
}

// StepReady is emitted immediately before a step is dispatched to its
// handler.
type StepReady struct {
	PlanID string `json:"plan_id"`
	StepID string `json:"step_id"`
}

// Step execution outcomes.
const (
	StepStatusSuccess = "success"
	StepStatusError   = "error"
)

// StepExecuted reports the outcome of a single step.
type StepExecuted struct {
	PlanID  string         `json:"plan_id"`
	StepID  string         `json:"step_id"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Plan outcomes.
const (
	PlanStatusCompleted = "completed"
	PlanStatusError     = "error"
	PlanStatusCancelled = "cancelled"
)

// PlanEnded closes a plan's lifecycle on its layer.
type PlanEnded struct {
	PlanID string `json:"plan_id"`
	Layer  Layer  `json:"layer"`
	Status string `json:"status"`
}

// AudioDucking brackets speech output: START before a TTS request,
// STOP once speech ended (or the wait was abandoned).
type AudioDucking struct {
	PlanID string `json:"plan_id,omitempty"`
	StepID string `json:"step_id,omitempty"`
}

// TTSGenerateRequest asks the speech synthesizer collaborator to speak
// text. The synthesizer answers with SpeechEnded carrying the same
// utterance ID.
type TTSGenerateRequest struct {
	Text        string `json:"text"`
	UtteranceID string `json:"utterance_id"`
	PlanID      string `json:"plan_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
}

// SpeechEnded is the externally produced signal that playback of an
// utterance finished.
type SpeechEnded struct {
	UtteranceID string `json:"utterance_id"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// MusicCrossfade asks the music backend to crossfade to a playlist.
type MusicCrossfade struct {
	RequestID  string `json:"request_id"`
	Playlist   string `json:"playlist"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// MusicDuck lowers music volume to the given level (0..1).
type MusicDuck struct {
	RequestID string  `json:"request_id"`
	Level     float64 `json:"level,omitempty"`
}

// MusicUnduck restores music volume.
type MusicUnduck struct {
	RequestID string `json:"request_id"`
}

// MusicStateChanged confirms a music control request.
type MusicStateChanged struct {
	RequestID string `json:"request_id"`
	State     string `json:"state,omitempty"`
}
