package events

import (
	"reflect"

	"github.com/veslabs/chorus/internal/bus"
)

// Topics consumed and produced by the kernel. The set is fixed; the bus
// rejects publishes and subscriptions outside of it.
const (
	TopicSystemModeChange   bus.Topic = "SYSTEM_MODE_CHANGE"
	TopicSetModeRequest     bus.Topic = "SYSTEM_SET_MODE_REQUEST"
	TopicServiceStatus      bus.Topic = "SERVICE_STATUS_UPDATE"
	TopicCLICommand         bus.Topic = "CLI_COMMAND"
	TopicModeCommand        bus.Topic = "MODE_COMMAND"
	TopicCLIResponse        bus.Topic = "CLI_RESPONSE"
	TopicPlanReady          bus.Topic = "PLAN_READY"
	TopicPlanStarted        bus.Topic = "PLAN_STARTED"
	TopicStepReady          bus.Topic = "STEP_READY"
	TopicStepExecuted       bus.Topic = "STEP_EXECUTED"
	TopicPlanEnded          bus.Topic = "PLAN_ENDED"
	TopicAudioDuckingStart  bus.Topic = "AUDIO_DUCKING_START"
	TopicAudioDuckingStop   bus.Topic = "AUDIO_DUCKING_STOP"
	TopicTTSGenerateRequest bus.Topic = "TTS_GENERATE_REQUEST"
	TopicSpeechEnded        bus.Topic = "SPEECH_ENDED"
	TopicMusicCrossfade     bus.Topic = "MUSIC_CROSSFADE"
	TopicMusicDuck          bus.Topic = "MUSIC_DUCK"
	TopicMusicUnduck        bus.Topic = "MUSIC_UNDUCK"
	TopicMusicStateChanged  bus.Topic = "MUSIC_STATE_CHANGED"
)

// Schemas returns the payload type registered for each topic. Payloads
// are published as values of these types.
func Schemas() map[bus.Topic]reflect.Type {
	return map[bus.Topic]reflect.Type{
		TopicSystemModeChange:   reflect.TypeOf(SystemModeChange{}),
		TopicSetModeRequest:     reflect.TypeOf(SetModeRequest{}),
		TopicServiceStatus:      reflect.TypeOf(ServiceStatusUpdate{}),
		TopicCLICommand:         reflect.TypeOf(Command{}),
		TopicModeCommand:        reflect.TypeOf(Command{}),
		TopicCLIResponse:        reflect.TypeOf(CLIResponse{}),
		TopicPlanReady:          reflect.TypeOf(Plan{}),
		TopicPlanStarted:        reflect.TypeOf(PlanStarted{}),
		TopicStepReady:          reflect.TypeOf(StepReady{}),
		TopicStepExecuted:       reflect.TypeOf(StepExecuted{}),
		TopicPlanEnded:          reflect.TypeOf(PlanEnded{}),
		TopicAudioDuckingStart:  reflect.TypeOf(AudioDucking{}),
		TopicAudioDuckingStop:   reflect.TypeOf(AudioDucking{}),
		TopicTTSGenerateRequest: reflect.TypeOf(TTSGenerateRequest{}),
		TopicSpeechEnded:        reflect.TypeOf(SpeechEnded{}),
		TopicMusicCrossfade:     reflect.TypeOf(MusicCrossfade{}),
		TopicMusicDuck:          reflect.TypeOf(MusicDuck{}),
		TopicMusicUnduck:        reflect.TypeOf(MusicUnduck{}),
		TopicMusicStateChanged:  reflect.TypeOf(MusicStateChanged{}),
	}
}

// AllTopics lists every registered topic, in a stable order. Used by
// observers (websocket stream, Redis tap) that mirror all traffic.
func AllTopics() []bus.Topic {
	return []bus.Topic{
		TopicSystemModeChange,
		TopicSetModeRequest,
		TopicServiceStatus,
		TopicCLICommand,
		TopicModeCommand,
		TopicCLIResponse,
		TopicPlanReady,
		TopicPlanStarted,
		TopicStepReady,
		TopicStepExecuted,
		TopicPlanEnded,
		TopicAudioDuckingStart,
		TopicAudioDuckingStop,
		TopicTTSGenerateRequest,
		TopicSpeechEnded,
		TopicMusicCrossfade,
		TopicMusicDuck,
		TopicMusicUnduck,
		TopicMusicStateChanged,
	}
}
