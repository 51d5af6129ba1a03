package pipeline

import "time"

// State keys read from [Turn.NPCState] when assembling the prompt. Other
// keys are passed through to the action scorer untouched.
const (
	StateName         = "npc_name"
	StateMood         = "mood"
	StateRelationship = "relationship"
)

// Defaults for missing NPC state fields.
const (
	DefaultName         = "NPC"
	DefaultMood         = "neutral"
	DefaultRelationship = "stranger"
)

// Stage names in execution order.
const (
	StageActionScoring   = "action_scoring"
	StageMemoryRetrieval = "memory_retrieval"
	StagePromptBuilding  = "prompt_building"
)

// Stage is one timed step of a turn. End is zero while the stage runs.
type Stage struct {
	Name  string
	Start time.Time
	End   time.Time
}

// Duration returns End - Start, or 0 for a stage that has not finished.
func (s Stage) Duration() time.Duration {
	if s.End.IsZero() {
		return 0
	}
	return s.End.Sub(s.Start)
}

// Turn is the state of one player-utterance/NPC-response exchange. It is
// owned by a single [Orchestrator.Run] call and must not be reused.
type Turn struct {
	// ID identifies the turn in events and logs. Run assigns a UUID when
	// empty.
	ID string

	// NPCID selects the NPC's cue table.
	NPCID string

	// Utterance is the player's text. It may be empty.
	Utterance string

	// NPCState is the caller's snapshot of the NPC (name, mood,
	// relationship and any scorer-specific keys).
	NPCState map[string]string

	// PlayerSignal is the externally computed intent/tone label passed to
	// the action scorer.
	PlayerSignal string

	// History supplies recent conversation lines. Nil skips history.
	History HistoryProvider

	// Memory overrides the orchestrator's memory searcher for this turn,
	// e.g. to scope facts to the NPC. Nil uses the orchestrator default.
	Memory MemorySearcher

	// Stages is appended to by Run, in start order.
	Stages []Stage
}

// NPCName returns the NPC's display name or [DefaultName].
func (t *Turn) NPCName() string { return t.state(StateName, DefaultName) }

// Mood returns the NPC's mood or [DefaultMood].
func (t *Turn) Mood() string { return t.state(StateMood, DefaultMood) }

// Relationship returns the NPC's relationship tier or [DefaultRelationship].
func (t *Turn) Relationship() string { return t.state(StateRelationship, DefaultRelationship) }

func (t *Turn) state(key, def string) string {
	if v := t.NPCState[key]; v != "" {
		return v
	}
	return def
}

// Timing returns the finished stage durations in milliseconds keyed by
// stage name.
func (t *Turn) Timing() map[string]float64 {
	out := make(map[string]float64, len(t.Stages))
	for _, s := range t.Stages {
		if s.End.IsZero() {
			continue
		}
		out[s.Name] = float64(s.Duration().Microseconds()) / 1000
	}
	return out
}

func (t *Turn) beginStage(name string, now time.Time) int {
	t.Stages = append(t.Stages, Stage{Name: name, Start: now})
	return len(t.Stages) - 1
}

func (t *Turn) endStage(i int, now time.Time) Stage {
	t.Stages[i].End = now
	return t.Stages[i]
}
