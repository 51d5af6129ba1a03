package scorer

import (
	"context"
	"errors"

	"github.com/MrWong99/parley/internal/pipeline"
	"github.com/MrWong99/parley/internal/resilience"
)

var _ pipeline.ActionScorer = (*Breaker)(nil)

// Breaker guards a scorer with a circuit breaker. While the breaker is open
// Score fails at once with [resilience.ErrCircuitOpen], so the turn falls
// back to its default action without waiting on a dead service.
//
// [ErrNoScores] does not count against the breaker: the service answered.
type Breaker struct {
	next pipeline.ActionScorer
	cb   *resilience.CircuitBreaker
}

// NewBreaker wraps next. cfg.IsFailure is replaced so that [ErrNoScores]
// and caller cancellation are not counted.
func NewBreaker(next pipeline.ActionScorer, cfg resilience.CircuitBreakerConfig) *Breaker {
	if cfg.Name == "" {
		cfg.Name = "scorer"
	}
	cfg.IsFailure = func(err error) bool {
		return !errors.Is(err, ErrNoScores) && !errors.Is(err, context.Canceled)
	}
	return &Breaker{next: next, cb: resilience.NewCircuitBreaker(cfg)}
}

// State reports the breaker state.
func (b *Breaker) State() resilience.State { return b.cb.State() }

// Snapshot delegates to the wrapped scorer. Encoding is local and does not
// pass through the breaker.
func (b *Breaker) Snapshot(npcState map[string]string) (pipeline.Snapshot, error) {
	return b.next.Snapshot(npcState)
}

// Score calls the wrapped scorer through the breaker.
func (b *Breaker) Score(ctx context.Context, snap pipeline.Snapshot, signal string) (map[string]float64, error) {
	var scores map[string]float64
	err := b.cb.Execute(func() error {
		var err error
		scores, err = b.next.Score(ctx, snap, signal)
		return err
	})
	return scores, err
}
