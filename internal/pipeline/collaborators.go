package pipeline

import (
	"context"

	"github.com/MrWong99/parley/internal/cue"
	"github.com/MrWong99/parley/pkg/memory"
)

// Snapshot is the scorer-specific encoding of an NPC state.
type Snapshot map[string]float64

// ActionScorer chooses among candidate actions. Implementations may call
// remote services and may fail; the orchestrator recovers from any error.
type ActionScorer interface {
	// Snapshot encodes the NPC state for Score.
	Snapshot(npcState map[string]string) (Snapshot, error)

	// Score returns a utility per candidate action label.
	Score(ctx context.Context, snap Snapshot, signal string) (map[string]float64, error)
}

// MemorySearcher finds long-term facts relevant to the utterance. Results
// are ordered by descending relevance.
type MemorySearcher interface {
	Search(ctx context.Context, query string, topK int, minScore float64) ([]memory.Fact, error)
}

// HistoryProvider returns the most recent window lines of conversation as
// newline-separated text.
type HistoryProvider interface {
	Recent(ctx context.Context, window int) (string, error)
}

// CueSource resolves instant cues. [cue.Registry] implements it.
type CueSource interface {
	Resolve(npcID string, c cue.Category) cue.Cue
}

// TokenCounter measures prompt size.
type TokenCounter interface {
	Count(text string) int
}

var _ CueSource = (*cue.Registry)(nil)
