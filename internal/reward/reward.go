// Package reward turns a player's reply into a scalar reward for the action
// the NPC just performed.
package reward

import (
	"context"
	"log/slog"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/sentiment"
)

// DisengagementPenalty is subtracted when the player did not continue the
// conversation.
const DisengagementPenalty = 0.3

// Outcome is the result of [Computer.Evaluate].
type Outcome struct {
	Reward    float64          `json:"reward"`
	Sentiment sentiment.Result `json:"sentiment"`
}

// Option configures a [Computer].
type Option func(*Computer)

// Entry is one evaluated reward as handed to a [Journal].
type Entry struct {
	Text           string
	PreviousAction string
	Continued      bool
	Outcome        Outcome
}

// Journal persists evaluated rewards, typically for offline tuning of the
// scorer weights.
type Journal interface {
	Save(ctx context.Context, e Entry) error
}

// WithJournal hands every evaluation to j. A failing journal is logged and
// does not change the result.
func WithJournal(j Journal) Option {
	return func(c *Computer) { c.journal = j }
}

// WithMetrics records every computed reward.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Computer) { c.metrics = m }
}

// Computer computes rewards. It holds no per-call state and is safe for
// concurrent use.
type Computer struct {
	metrics *observe.Metrics
	journal Journal
}

// New returns a Computer.
func New(opts ...Option) *Computer {
	c := &Computer{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compute returns the reward in [-1, 1] for text. See [Computer.Evaluate].
func (c *Computer) Compute(ctx context.Context, text, previousAction string, continued bool) float64 {
	return c.Evaluate(ctx, text, previousAction, continued).Reward
}

// Evaluate classifies text and derives the reward: -1.0 on an explicit
// complaint, otherwise the sentiment minus [DisengagementPenalty] when the
// conversation was not continued, clamped to [-1, 1].
//
// previousAction is only logged and journaled. It does not change the
// result.
func (c *Computer) Evaluate(ctx context.Context, text, previousAction string, continued bool) Outcome {
	res := sentiment.Classify(text)

	var r float64
	if res.ExplicitNegative {
		r = -1.0
		observe.Logger(ctx).Warn("explicit negative feedback",
			slog.Any("triggers", res.Triggers),
			slog.String("previous_action", previousAction),
		)
	} else {
		r = res.Sentiment
		if !continued {
			r -= DisengagementPenalty
		}
		r = max(-1.0, min(1.0, r))
	}

	if c.metrics != nil {
		c.metrics.RecordReward(ctx, r, res.ExplicitNegative)
	}
	out := Outcome{Reward: r, Sentiment: res}
	if c.journal != nil {
		e := Entry{Text: text, PreviousAction: previousAction, Continued: continued, Outcome: out}
		if err := c.journal.Save(ctx, e); err != nil {
			observe.Logger(ctx).Warn("reward journal write failed", slog.Any("err", err))
		}
	}
	return out
}
