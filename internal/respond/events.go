package respond

// Event types as they appear on the wire.
const (
	TypeSentence = "sentence"
	TypeDone     = "done"
)

// Sentence is one spoken unit of the NPC's response. AudioPath and
// DurationMS are empty when synthesis was skipped or failed; the text is
// delivered regardless.
type Sentence struct {
	TurnID     string `json:"turn_id"`
	NPCName    string `json:"npc_name"`
	Sentence   string `json:"sentence"`
	AudioPath  string `json:"audio_path,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// EventType implements [pipeline.Event].
func (Sentence) EventType() string { return TypeSentence }

// Done closes a turn's event stream.
type Done struct {
	TurnID    string `json:"turn_id"`
	NPCName   string `json:"npc_name"`
	Response  string `json:"response"`
	Sentences int    `json:"sentences"`

	// FirstSentenceMS is the time from the start of generation to the first
	// emitted sentence.
	FirstSentenceMS float64 `json:"first_sentence_ms"`

	// TotalMS is the time from the start of generation to Done.
	TotalMS float64 `json:"total_ms"`
}

// EventType implements [pipeline.Event].
func (Done) EventType() string { return TypeDone }
