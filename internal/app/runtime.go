package app

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/MrWong99/parley/internal/config"
	"github.com/MrWong99/parley/internal/cue"
	"github.com/MrWong99/parley/internal/httpapi"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/resilience"
	"github.com/MrWong99/parley/internal/respond"
	"github.com/MrWong99/parley/internal/scorer"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/tts"
	"github.com/MrWong99/parley/pkg/provider/tts/chatterbox"
)

var _ httpapi.Dialogue = (*App)(nil)

// runtime is the hot-reloadable part of the app. A new runtime is built on
// every relevant config change and swapped in atomically; turns in flight
// finish on the runtime they started with.
type runtime struct {
	cues      *cue.Registry
	scorer    pipeline.ActionScorer
	orch      *pipeline.Orchestrator
	responder *respond.Responder
	npcs      map[string]config.NPCConfig
}

// buildRuntime assembles a runtime for cfg. The cue registry and the scorer
// (with its breaker state) are carried over from prev unless diff says they
// changed.
func (a *App) buildRuntime(cfg *config.Config, prev *runtime, diff config.ConfigDiff) (*runtime, error) {
	rt := &runtime{npcs: make(map[string]config.NPCConfig, len(cfg.NPCs))}
	for _, n := range cfg.NPCs {
		rt.npcs[n.ID] = n
	}

	if prev != nil && !cuesChanged(diff) {
		rt.cues = prev.cues
	} else {
		cues, err := buildCues(cfg.NPCs)
		if err != nil {
			return nil, err
		}
		rt.cues = cues
	}

	if prev != nil && !diff.ScorerChanged {
		rt.scorer = prev.scorer
	} else {
		s, err := a.buildScorer(cfg.Scorer)
		if err != nil {
			return nil, err
		}
		rt.scorer = s
	}

	p := cfg.Pipeline
	opts := []pipeline.Option{
		pipeline.WithStageWindow(a.window),
		pipeline.WithClock(a.now),
	}
	if rt.scorer != nil {
		opts = append(opts, pipeline.WithScorer(rt.scorer))
	}
	if a.retriever != nil {
		opts = append(opts, pipeline.WithMemory(a.retriever))
	}
	if p.MemoryTopK > 0 || p.MemoryMinScore != nil {
		topK, minScore := pipeline.DefaultMemoryTopK, pipeline.DefaultMemoryMinScore
		if p.MemoryTopK > 0 {
			topK = p.MemoryTopK
		}
		if p.MemoryMinScore != nil {
			minScore = *p.MemoryMinScore
		}
		opts = append(opts, pipeline.WithMemoryLimits(topK, minScore))
	}
	if p.HistoryWindow > 0 {
		opts = append(opts, pipeline.WithHistoryWindow(p.HistoryWindow))
	}
	if a.tokens != nil {
		opts = append(opts, pipeline.WithTokenCounter(a.tokens))
	}
	if a.metrics != nil {
		opts = append(opts, pipeline.WithMetrics(a.metrics))
	}
	rt.orch = pipeline.New(rt.cues, opts...)

	if a.providers.LLM != nil {
		ropts := []respond.Option{
			respond.WithGeneration(p.Temperature, p.MaxTokens),
			respond.WithStageWindow(a.window),
			respond.WithClock(a.now),
		}
		if a.providers.TTS != nil {
			ropts = append(ropts, respond.WithTTS(a.providers.TTS))
		}
		if a.metrics != nil {
			ropts = append(ropts, respond.WithMetrics(a.metrics))
		}
		rt.responder = respond.New(a.providers.LLM, ropts...)
	}
	return rt, nil
}

func cuesChanged(d config.ConfigDiff) bool {
	for _, n := range d.NPCChanges {
		if n.CuesChanged || n.Added || n.Removed {
			return true
		}
	}
	return false
}

// buildCues creates a fresh registry, which also resets every rotation
// cursor.
func buildCues(npcs []config.NPCConfig) (*cue.Registry, error) {
	opts := []cue.Option{cue.WithDefaults(cue.DefaultTable())}
	for _, n := range npcs {
		if len(n.Cues) == 0 {
			continue
		}
		t, err := cue.TableFromEntries(n.Cues)
		if err != nil {
			return nil, fmt.Errorf("cues for npc %q: %w", n.ID, err)
		}
		opts = append(opts, cue.WithNPCTable(n.ID, t))
	}
	return cue.New(opts...), nil
}

// buildScorer returns the remote scorer behind a circuit breaker when a URL
// is configured, a local weight table when weights are, and nil otherwise.
func (a *App) buildScorer(sc config.ScorerConfig) (pipeline.ActionScorer, error) {
	switch {
	case sc.URL != "":
		hopts := []scorer.HTTPOption{}
		if sc.Timeout > 0 {
			hopts = append(hopts, scorer.WithTimeout(sc.Timeout))
		}
		if a.metrics != nil {
			hopts = append(hopts, scorer.WithMetrics(a.metrics))
		}
		hs, err := scorer.NewHTTPScorer(sc.URL, hopts...)
		if err != nil {
			return nil, fmt.Errorf("scorer: %w", err)
		}
		return scorer.NewBreaker(hs, resilience.CircuitBreakerConfig{
			Name:         "scorer",
			MaxFailures:  sc.MaxFailures,
			ResetTimeout: sc.ResetTimeout,
		}), nil
	case len(sc.Weights) > 0:
		return scorer.NewTable(sc.Weights, scorer.WithBias(sc.Bias)), nil
	}
	return nil, nil
}

func (a *App) current() *runtime {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rt
}

// Converse runs one dialogue turn: the pipeline emits meta and prompt_ready,
// then the responder streams sentences and done. Without an LLM provider the
// stream ends after prompt_ready.
func (a *App) Converse(ctx context.Context, req httpapi.DialogueRequest, sink pipeline.Sink) error {
	rt := a.current()
	npc := rt.npcs[req.NPCID]

	turn := &pipeline.Turn{
		NPCID:        req.NPCID,
		Utterance:    req.Utterance,
		NPCState:     npcState(npc, req.NPCState),
		PlayerSignal: req.PlayerSignal,
	}

	var conv *memory.ConversationHistory
	if req.ConversationID != "" {
		conv = memory.Conversation(a.history, req.ConversationID)
		turn.History = conv
	}
	if a.retriever != nil && req.NPCID != "" {
		turn.Memory = a.retriever.ForNPC(req.NPCID)
	}

	var prompt string
	capture := pipeline.SinkFunc(func(ctx context.Context, ev pipeline.Event) error {
		if pr, ok := ev.(pipeline.PromptReady); ok {
			prompt = pr.Prompt
		}
		return sink.Emit(ctx, ev)
	})
	if err := rt.orch.Run(ctx, turn, capture); err != nil {
		return fmt.Errorf("app: run turn: %w", err)
	}
	if rt.responder == nil {
		return nil
	}

	rreq := respond.Request{
		TurnID:    turn.ID,
		NPCID:     req.NPCID,
		NPCName:   turn.NPCName(),
		Utterance: req.Utterance,
		Prompt:    prompt,
		Voice:     voiceFor(npc, turn.Mood()),
	}
	if conv != nil {
		rreq.History = conv
	}
	return rt.responder.Respond(ctx, rreq, sink)
}

// npcState merges the configured NPC with the request. Request keys win.
func npcState(npc config.NPCConfig, req map[string]string) map[string]string {
	state := make(map[string]string, len(npc.State)+len(req)+3)
	maps.Copy(state, npc.State)
	if npc.Name != "" {
		state[pipeline.StateName] = npc.Name
	}
	if npc.Mood != "" {
		state[pipeline.StateMood] = npc.Mood
	}
	if npc.Relationship != "" {
		state[pipeline.StateRelationship] = npc.Relationship
	}
	maps.Copy(state, req)
	return state
}

// voiceFor derives the synthesis voice. An emotion pinned in config wins
// over the one implied by the current mood.
func voiceFor(npc config.NPCConfig, mood string) tts.Voice {
	emotion := npc.Voice.Emotion
	if emotion == "" {
		emotion = chatterbox.EmotionForMood(mood)
	}
	return tts.Voice{
		Reference: npc.Voice.Reference,
		Emotion:   emotion,
		Intensity: npc.Voice.Intensity,
		Pace:      npc.Voice.Pace,
	}
}

// Reload applies a changed configuration. It matches [config.ChangeFunc].
// Provider, memory and listener changes are ignored until restart.
func (a *App) Reload(_, next *config.Config, diff config.ConfigDiff) {
	if diff.LogLevelChanged && a.level != nil {
		a.level.Set(diff.NewLogLevel.SlogLevel())
		slog.Info("log level changed", slog.String("level", string(diff.NewLogLevel)))
	}
	if !diff.NPCsChanged && !diff.ScorerChanged && !diff.PipelineChanged {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	rt, err := a.buildRuntime(next, a.rt, diff)
	if err != nil {
		slog.Error("config reload failed, keeping previous runtime", slog.Any("err", err))
		return
	}
	a.rt = rt
	slog.Info("runtime reloaded",
		slog.Int("npcs", len(rt.npcs)),
		slog.Bool("cues_rebuilt", cuesChanged(diff)),
		slog.Bool("scorer_rebuilt", diff.ScorerChanged),
	)
}
