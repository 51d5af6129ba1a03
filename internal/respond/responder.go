// Package respond voices an NPC's answer once its prompt is ready. The text
// generator's stream is cut into clauses as it arrives and every clause is
// synthesised and emitted as soon as it is complete, so the player hears the
// first words while the rest is still being generated.
package respond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parley/internal/clause"
	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/pkg/memory"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/tts"
)

// Stage names recorded in the latency window.
const (
	StageFirstSentence = "first_sentence"
	StageGeneration    = "generation"
	StageSynthesis     = "synthesis"
)

// PlayerSpeaker is the speaker name used for the player's history lines.
const PlayerSpeaker = "Player"

// unitBuffer bounds how far generation may run ahead of synthesis.
const unitBuffer = 8

// ErrEmptyPrompt is returned by [Responder.Respond] for a request without a
// prompt.
var ErrEmptyPrompt = errors.New("respond: empty prompt")

// Recorder stores finished exchanges. [memory.ConversationHistory]
// implements it.
type Recorder interface {
	Record(ctx context.Context, lines ...memory.Line) error
}

// Request is one response to generate.
type Request struct {
	TurnID    string
	NPCID     string
	NPCName   string
	Utterance string
	Prompt    string
	Voice     tts.Voice

	// History receives the player line and the response after Done. Nil
	// skips write-back.
	History Recorder
}

// Option is a functional option for [New].
type Option func(*Responder)

// WithTTS enables speech synthesis. Without it sentences are text only.
func WithTTS(p tts.Provider) Option {
	return func(r *Responder) { r.tts = p }
}

// WithGeneration sets the sampling temperature and the completion length
// cap. Zero values use the provider defaults.
func WithGeneration(temperature float64, maxTokens int) Option {
	return func(r *Responder) {
		r.temperature = temperature
		r.maxTokens = maxTokens
	}
}

// WithMetrics records generation and synthesis latency.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Responder) { r.metrics = m }
}

// WithStageWindow feeds response latencies into a rolling window.
func WithStageWindow(w *observe.StageWindow) Option {
	return func(r *Responder) { r.window = w }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Responder) { r.now = now }
}

// Responder turns a ready prompt into sentence events. It is safe for
// concurrent use; each call owns its own clause tokenizer.
type Responder struct {
	llm         llm.Provider
	tts         tts.Provider
	temperature float64
	maxTokens   int
	metrics     *observe.Metrics
	window      *observe.StageWindow
	now         func() time.Time
}

// New returns a Responder generating text with gen.
func New(gen llm.Provider, opts ...Option) *Responder {
	r := &Responder{llm: gen, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Respond streams the completion for req.Prompt and emits a [Sentence] per
// clause followed by [Done]. Synthesis failures are logged and the sentence
// goes out without audio. A generation failure stops the stream: sentences
// already cut are still emitted, the unfinished one is dropped, the error is
// returned and Done is not sent. A history write-back failure is logged only.
func (r *Responder) Respond(ctx context.Context, req Request, sink pipeline.Sink) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}
	ctx, span := observe.StartSpan(ctx, "respond.stream")
	defer span.End()

	// The stream gets its own context so an aborted turn stops generation.
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := r.now()
	stream, err := r.llm.StreamCompletion(sctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return fmt.Errorf("respond: start stream: %w", err)
	}
	defer func() {
		cancel()
		drain(stream)
	}()

	units := make(chan string, unitBuffer)
	g, gctx := errgroup.WithContext(sctx)

	var genErr error
	g.Go(func() error {
		defer close(units)
		genErr = r.produce(gctx, stream, units)
		if genErr != nil && gctx.Err() == nil {
			// Sentences already cut are still delivered.
			return nil
		}
		return genErr
	})

	var (
		spoken     []string
		firstAfter time.Duration
	)
	g.Go(func() error {
		for unit := range units {
			s := r.synthesize(gctx, req, unit)
			if err := sink.Emit(gctx, s); err != nil {
				return fmt.Errorf("respond: emit sentence: %w", err)
			}
			if len(spoken) == 0 {
				firstAfter = r.now().Sub(start)
				r.window.Observe(StageFirstSentence, firstAfter)
			}
			spoken = append(spoken, unit)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if genErr != nil {
		return fmt.Errorf("respond: generate: %w", genErr)
	}
	total := r.now().Sub(start)
	r.window.Observe(StageGeneration, total)
	if r.metrics != nil {
		r.metrics.LLMDuration.Record(ctx, total.Seconds())
	}

	response := strings.Join(spoken, " ")
	done := Done{
		TurnID:          req.TurnID,
		NPCName:         req.NPCName,
		Response:        response,
		Sentences:       len(spoken),
		FirstSentenceMS: float64(firstAfter.Microseconds()) / 1000,
		TotalMS:         float64(total.Microseconds()) / 1000,
	}
	if err := sink.Emit(ctx, done); err != nil {
		return fmt.Errorf("respond: emit done: %w", err)
	}

	r.record(ctx, req, response)
	return nil
}

// produce feeds the stream through a clause tokenizer and sends each
// complete unit on units. It returns the stream's in-band error, if any.
func (r *Responder) produce(ctx context.Context, stream <-chan llm.Chunk, units chan<- string) error {
	tok := clause.New()
	send := func(u string) error {
		select {
		case units <- u:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		var (
			chunk llm.Chunk
			ok    bool
		)
		select {
		case chunk, ok = <-stream:
		case <-ctx.Done():
			return ctx.Err()
		}
		if !ok {
			if err := ctx.Err(); err != nil {
				return err
			}
			break
		}
		if err := chunk.Err(); err != nil {
			// The unfinished clause is dropped.
			return err
		}
		for _, u := range tok.Feed(chunk.Text) {
			if err := send(u); err != nil {
				return err
			}
		}
	}
	if u, ok := tok.Flush(); ok {
		return send(u)
	}
	return nil
}

// synthesize renders unit. Failures leave the audio fields empty.
func (r *Responder) synthesize(ctx context.Context, req Request, unit string) Sentence {
	s := Sentence{TurnID: req.TurnID, NPCName: req.NPCName, Sentence: unit}
	if r.tts == nil {
		return s
	}
	start := r.now()
	res, err := r.tts.Synthesize(ctx, unit, req.Voice)
	took := r.now().Sub(start)
	r.window.Observe(StageSynthesis, took)
	if r.metrics != nil {
		r.metrics.TTSDuration.Record(ctx, took.Seconds())
	}
	if err != nil {
		observe.Logger(ctx).Warn("speech synthesis failed, sending text only",
			slog.String("npc_id", req.NPCID),
			slog.Any("err", err),
		)
		if r.metrics != nil {
			r.metrics.RecordProviderError(ctx, "tts", "synthesize")
		}
		r.window.ObserveIndicator("tts_error")
		return s
	}
	s.AudioPath = res.AudioPath
	s.DurationMS = res.Duration.Milliseconds()
	return s
}

func (r *Responder) record(ctx context.Context, req Request, response string) {
	if req.History == nil {
		return
	}
	now := r.now()
	var lines []memory.Line
	if req.Utterance != "" {
		lines = append(lines, memory.Line{Speaker: PlayerSpeaker, Text: req.Utterance, Timestamp: now})
	}
	if response != "" {
		lines = append(lines, memory.Line{Speaker: req.NPCName, Text: response, NPCID: req.NPCID, Timestamp: now})
	}
	if len(lines) == 0 {
		return
	}
	if err := req.History.Record(ctx, lines...); err != nil {
		observe.Logger(ctx).Warn("history write-back failed",
			slog.String("npc_id", req.NPCID),
			slog.Any("err", err),
		)
	}
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
