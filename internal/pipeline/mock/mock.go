// Package mock provides test doubles for the pipeline collaborators.
//
// Every mock records its calls under a mutex and returns the values held in
// its exported fields. An optional Block channel makes a call wait until the
// channel is closed or the context is cancelled.
package mock

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/pkg/memory"
)

// Compile-time interface checks.
var (
	_ pipeline.ActionScorer    = (*Scorer)(nil)
	_ pipeline.MemorySearcher  = (*Memory)(nil)
	_ pipeline.HistoryProvider = (*History)(nil)
	_ pipeline.Sink            = (*Sink)(nil)
)

func wait(ctx context.Context, block <-chan struct{}) error {
	if block == nil {
		return nil
	}
	select {
	case <-block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScoreCall records one Score invocation.
type ScoreCall struct {
	Snapshot pipeline.Snapshot
	Signal   string
}

// Scorer is a configurable [pipeline.ActionScorer].
type Scorer struct {
	mu sync.Mutex

	// SnapshotResult is returned by Snapshot. When nil, an empty snapshot
	// is returned.
	SnapshotResult pipeline.Snapshot

	// SnapshotErr is returned by Snapshot when non-nil.
	SnapshotErr error

	// Scores is returned by Score.
	Scores map[string]float64

	// ScoreErr is returned by Score when non-nil.
	ScoreErr error

	// Block, when non-nil, delays Score until it is closed.
	Block chan struct{}

	states []map[string]string
	calls  []ScoreCall
}

// Snapshot implements [pipeline.ActionScorer].
func (s *Scorer) Snapshot(state map[string]string) (pipeline.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, maps.Clone(state))
	if s.SnapshotErr != nil {
		return nil, s.SnapshotErr
	}
	if s.SnapshotResult == nil {
		return pipeline.Snapshot{}, nil
	}
	return maps.Clone(s.SnapshotResult), nil
}

// Score implements [pipeline.ActionScorer].
func (s *Scorer) Score(ctx context.Context, snap pipeline.Snapshot, signal string) (map[string]float64, error) {
	s.mu.Lock()
	s.calls = append(s.calls, ScoreCall{Snapshot: snap, Signal: signal})
	block, scores, err := s.Block, maps.Clone(s.Scores), s.ScoreErr
	s.mu.Unlock()

	if werr := wait(ctx, block); werr != nil {
		return nil, werr
	}
	return scores, err
}

// ScoreCalls returns a copy of the recorded Score calls.
func (s *Scorer) ScoreCalls() []ScoreCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// SnapshotStates returns the NPC states passed to Snapshot.
func (s *Scorer) SnapshotStates() []map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.states)
}

// SearchCall records one Search invocation.
type SearchCall struct {
	Query    string
	TopK     int
	MinScore float64
}

// Memory is a configurable [pipeline.MemorySearcher].
type Memory struct {
	mu sync.Mutex

	// Facts is returned by Search.
	Facts []memory.Fact

	// Err is returned by Search when non-nil.
	Err error

	// Block, when non-nil, delays Search until it is closed.
	Block chan struct{}

	// Started, when non-nil, receives a value as Search begins.
	Started chan struct{}

	calls []SearchCall
}

// Search implements [pipeline.MemorySearcher].
func (m *Memory) Search(ctx context.Context, query string, topK int, minScore float64) ([]memory.Fact, error) {
	m.mu.Lock()
	m.calls = append(m.calls, SearchCall{Query: query, TopK: topK, MinScore: minScore})
	block, started, facts, err := m.Block, m.Started, slices.Clone(m.Facts), m.Err
	m.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if werr := wait(ctx, block); werr != nil {
		return nil, werr
	}
	return facts, err
}

// Calls returns a copy of the recorded Search calls.
func (m *Memory) Calls() []SearchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// History is a configurable [pipeline.HistoryProvider].
type History struct {
	mu sync.Mutex

	// Text is returned by Recent.
	Text string

	// Err is returned by Recent when non-nil.
	Err error

	// Block, when non-nil, delays Recent until it is closed.
	Block chan struct{}

	// Started, when non-nil, receives a value as Recent begins.
	Started chan struct{}

	windows []int
}

// Recent implements [pipeline.HistoryProvider].
func (h *History) Recent(ctx context.Context, window int) (string, error) {
	h.mu.Lock()
	h.windows = append(h.windows, window)
	block, started, text, err := h.Block, h.Started, h.Text, h.Err
	h.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if werr := wait(ctx, block); werr != nil {
		return "", werr
	}
	return text, err
}

// Windows returns the window sizes passed to Recent.
func (h *History) Windows() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.windows)
}

// Sink records emitted events. OnEmit, when set, runs synchronously inside
// Emit before the event is recorded; its error is returned.
type Sink struct {
	mu     sync.Mutex
	events []pipeline.Event

	OnEmit func(ev pipeline.Event) error
}

// Emit implements [pipeline.Sink].
func (s *Sink) Emit(_ context.Context, ev pipeline.Event) error {
	if s.OnEmit != nil {
		if err := s.OnEmit(ev); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (s *Sink) Events() []pipeline.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

// Types returns the event types in emission order.
func (s *Sink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.EventType()
	}
	return out
}
