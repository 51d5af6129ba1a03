package pipeline

import "context"

// Event types as they appear on the wire.
const (
	TypeMeta        = "meta"
	TypePromptReady = "prompt_ready"
)

// Event is a message produced for the transport layer. Run emits [Meta] and
// then [PromptReady]; downstream stages add their own event types.
type Event interface {
	EventType() string
}

// Meta announces the chosen action and the instant cue to play while the
// response is generated. It is emitted before context gathering starts.
type Meta struct {
	TurnID         string `json:"turn_id"`
	NPCID          string `json:"npc_id,omitempty"`
	Action         string `json:"npc_action"`
	PlayerSignal   string `json:"player_signal"`
	CueCategory    string `json:"cue_category"`
	InstantBark    string `json:"instant_bark"`
	BarkDurationMS int64  `json:"bark_duration_ms"`
	BarkAudioPath  string `json:"bark_audio_path,omitempty"`
}

// EventType implements [Event].
func (Meta) EventType() string { return TypeMeta }

// PromptReady carries the assembled generation prompt.
type PromptReady struct {
	TurnID string `json:"turn_id"`
	Prompt string `json:"prompt"`
	Action string `json:"action"`

	// Timing maps stage name to duration in milliseconds.
	Timing map[string]float64 `json:"pipeline_timing"`

	// PromptTokens is the prompt size when a token counter is configured.
	PromptTokens int `json:"prompt_tokens,omitempty"`

	// Facts lists the memory contents included in the prompt.
	Facts []string `json:"memory_facts,omitempty"`
}

// EventType implements [Event].
func (PromptReady) EventType() string { return TypePromptReady }

// Sink receives events in order. Emit must not retain the event after
// returning an error.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, ev Event) error

// Emit implements [Sink].
func (f SinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }
