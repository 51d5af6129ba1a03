// Package pipeline runs one dialogue turn: it picks the NPC's action, emits
// an instant cue so the player hears something at once, gathers memory and
// history concurrently and assembles the generation prompt.
//
// Events reach the caller through a [Sink] in a fixed order: [Meta] is
// delivered before context gathering starts and [PromptReady] follows once
// the prompt is built. Collaborator failures degrade the turn (default
// action, no facts, no history) but never abort it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/cue"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/pkg/memory"
)

// DefaultAction is used whenever the scorer cannot pick an action.
const DefaultAction = "talk"

// Context gathering defaults.
const (
	DefaultMemoryTopK     = 3
	DefaultMemoryMinScore = 0.4
	DefaultHistoryWindow  = 4
)

// ErrInvalidTurn is returned by [Orchestrator.Run] when it is called without
// a turn or a sink. Nothing is emitted in that case.
var ErrInvalidTurn = errors.New("pipeline: invalid turn")

// Option is a functional option for [New].
type Option func(*Orchestrator)

// WithScorer sets the action scorer. Without one every turn uses
// [DefaultAction].
func WithScorer(s ActionScorer) Option {
	return func(o *Orchestrator) { o.scorer = s }
}

// WithMemory sets the default memory searcher. Turns may override it.
func WithMemory(m MemorySearcher) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// WithMemoryLimits bounds memory search to topK results scoring at least
// minScore. Defaults to 3 and 0.4.
func WithMemoryLimits(topK int, minScore float64) Option {
	return func(o *Orchestrator) {
		o.topK = topK
		o.minScore = minScore
	}
}

// WithHistoryWindow sets how many history lines are requested per turn.
// Defaults to 4.
func WithHistoryWindow(n int) Option {
	return func(o *Orchestrator) { o.historyWindow = n }
}

// WithTokenCounter reports prompt size on [PromptReady].
func WithTokenCounter(c TokenCounter) Option {
	return func(o *Orchestrator) { o.tokens = c }
}

// WithMetrics records stage latencies, turns and fallbacks.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStageWindow feeds stage durations into a rolling latency window.
func WithStageWindow(w *observe.StageWindow) Option {
	return func(o *Orchestrator) { o.window = w }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs turns. It holds no per-turn state and is safe for
// concurrent use; turns for different conversations may run in parallel.
type Orchestrator struct {
	cues          CueSource
	scorer        ActionScorer
	memory        MemorySearcher
	topK          int
	minScore      float64
	historyWindow int
	tokens        TokenCounter
	metrics       *observe.Metrics
	window        *observe.StageWindow
	now           func() time.Time
}

// New returns an Orchestrator resolving instant cues from cues.
func New(cues CueSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cues:          cues,
		topK:          DefaultMemoryTopK,
		minScore:      DefaultMemoryMinScore,
		historyWindow: DefaultHistoryWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes turn and delivers its events to sink:
//
//  1. action_scoring: score the NPC state and pick the best action.
//  2. Meta is emitted with the instant cue for that action.
//  3. memory_retrieval: memory search and history lookup run concurrently.
//  4. prompt_building: the prompt is assembled and PromptReady emitted.
//
// Run returns [ErrInvalidTurn] for a nil turn or sink, the sink's error if an
// emit fails, and ctx.Err() if the caller cancels before the prompt is
// emitted. Collaborator failures are logged and never returned.
func (o *Orchestrator) Run(ctx context.Context, turn *Turn, sink Sink) error {
	if turn == nil || sink == nil {
		return ErrInvalidTurn
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}

	ctx = observe.WithTurn(ctx, turn.ID)
	ctx, span := observe.StartSpan(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("npc_id", turn.NPCID),
			attribute.String("player_signal", turn.PlayerSignal),
		),
	)
	defer span.End()

	// Stage 1: action selection.
	i := turn.beginStage(StageActionScoring, o.now())
	action := o.selectAction(ctx, turn)
	o.endStage(ctx, turn, i)
	span.SetAttributes(attribute.String("action", action))

	category := cue.CategoryForAction(action)
	c := o.cues.Resolve(turn.NPCID, category)
	if o.metrics != nil {
		o.metrics.RecordCue(ctx, string(category))
	}
	meta := Meta{
		TurnID:         turn.ID,
		NPCID:          turn.NPCID,
		Action:         action,
		PlayerSignal:   turn.PlayerSignal,
		CueCategory:    string(category),
		InstantBark:    c.Text,
		BarkDurationMS: c.DurationMS(),
		BarkAudioPath:  c.AudioPath,
	}
	if err := sink.Emit(ctx, meta); err != nil {
		return fmt.Errorf("pipeline: emit meta: %w", err)
	}

	// Stage 2: context gathering.
	i = turn.beginStage(StageMemoryRetrieval, o.now())
	facts, history := o.gather(ctx, turn)
	o.endStage(ctx, turn, i)
	if err := ctx.Err(); err != nil {
		return err
	}

	// Stage 3: prompt assembly.
	i = turn.beginStage(StagePromptBuilding, o.now())
	contents := make([]string, len(facts))
	for j, f := range facts {
		contents[j] = f.Content
	}
	prompt := BuildPrompt(PromptInput{
		Name:         turn.NPCName(),
		Mood:         turn.Mood(),
		Relationship: turn.Relationship(),
		Action:       action,
		Facts:        contents,
		History:      history,
		Utterance:    turn.Utterance,
	})
	o.endStage(ctx, turn, i)

	ready := PromptReady{
		TurnID: turn.ID,
		Prompt: prompt,
		Action: action,
		Timing: turn.Timing(),
		Facts:  contents,
	}
	if o.tokens != nil {
		ready.PromptTokens = o.tokens.Count(prompt)
	}
	if err := sink.Emit(ctx, ready); err != nil {
		return fmt.Errorf("pipeline: emit prompt: %w", err)
	}

	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, turn.NPCID, action)
	}
	observe.Logger(ctx).Debug("turn prompt ready",
		slog.String("npc_id", turn.NPCID),
		slog.String("action", action),
		slog.Int("facts", len(facts)),
		slog.Int("prompt_tokens", ready.PromptTokens),
	)
	return nil
}

// selectAction runs the scorer and returns the best action, or
// [DefaultAction] when scoring is unavailable, fails or yields nothing.
func (o *Orchestrator) selectAction(ctx context.Context, turn *Turn) string {
	if o.scorer == nil {
		return DefaultAction
	}
	log := observe.Logger(ctx)

	snap, err := o.scorer.Snapshot(turn.NPCState)
	if err != nil {
		log.Warn("state snapshot failed, using default action",
			slog.Any("err", err),
			slog.String("fallback_action", DefaultAction),
		)
		o.fallback(ctx, "snapshot_error")
		return DefaultAction
	}
	scores, err := o.scorer.Score(ctx, snap, turn.PlayerSignal)
	if err != nil {
		log.Warn("action scorer failed, using default action",
			slog.Any("err", err),
			slog.String("fallback_action", DefaultAction),
		)
		o.fallback(ctx, "scorer_error")
		return DefaultAction
	}
	action, ok := BestAction(scores)
	if !ok {
		log.Warn("action scorer returned no usable scores, using default action",
			slog.Int("candidates", len(scores)),
			slog.String("fallback_action", DefaultAction),
		)
		o.fallback(ctx, "no_scores")
		return DefaultAction
	}
	return action
}

func (o *Orchestrator) fallback(ctx context.Context, reason string) {
	if o.metrics != nil {
		o.metrics.RecordScorerFallback(ctx, reason)
	}
	o.window.ObserveIndicator("scorer_fallback")
}

// BestAction returns the label with the highest score. Equal scores resolve
// to the lexically smallest label and NaN scores are ignored. ok is false
// when no label has a usable score.
func BestAction(scores map[string]float64) (action string, ok bool) {
	best := math.Inf(-1)
	for _, label := range slices.Sorted(maps.Keys(scores)) {
		s := scores[label]
		if label == "" || math.IsNaN(s) {
			continue
		}
		if !ok || s > best {
			action, best, ok = label, s, true
		}
	}
	return action, ok
}

// gather runs memory search and history lookup concurrently and waits for
// both. A failure in one leaves the other's result intact.
func (o *Orchestrator) gather(ctx context.Context, turn *Turn) ([]memory.Fact, string) {
	var (
		facts   []memory.Fact
		history string
		g       errgroup.Group
	)

	mem := turn.Memory
	if mem == nil {
		mem = o.memory
	}
	if mem != nil && turn.Utterance != "" {
		g.Go(func() error {
			found, err := mem.Search(ctx, turn.Utterance, o.topK, o.minScore)
			if err != nil {
				o.collaboratorFailed(ctx, "memory", err)
				return nil
			}
			facts = found
			return nil
		})
	}

	if turn.History != nil {
		g.Go(func() error {
			recent, err := turn.History.Recent(ctx, o.historyWindow)
			if err != nil {
				o.collaboratorFailed(ctx, "history", err)
				return nil
			}
			history = recent
			return nil
		})
	}

	_ = g.Wait()
	return facts, history
}

func (o *Orchestrator) collaboratorFailed(ctx context.Context, name string, err error) {
	observe.Logger(ctx).Warn("context collaborator failed, continuing without it",
		slog.String("stage", StageMemoryRetrieval),
		slog.String("collaborator", name),
		slog.Any("err", err),
	)
	if o.metrics != nil {
		o.metrics.RecordCollaboratorError(ctx, name)
	}
	o.window.ObserveIndicator(name + "_error")
}

func (o *Orchestrator) endStage(ctx context.Context, turn *Turn, i int) {
	s := turn.endStage(i, o.now())
	if o.metrics != nil {
		o.metrics.RecordStage(ctx, s.Name, s.Duration())
	}
	o.window.Observe(s.Name, s.Duration())
}
