package scorer

import (
	"context"
	"fmt"
	"maps"

	"github.com/MrWong99/parley/internal/pipeline"
)

// AnySignal is the weight table row used for signals without their own row.
const AnySignal = "*"

var _ pipeline.ActionScorer = (*Table)(nil)

// Table scores actions from a fixed signal-to-action weight table. Its
// snapshot adds a feature's value to every action with a matching
// "feature:action" bias entry, so mood or relationship can tilt the result.
type Table struct {
	weights map[string]map[string]float64
	bias    map[string]float64
}

// TableOption configures a [Table].
type TableOption func(*Table)

// WithBias adds per-feature action biases keyed "feature:action", for
// example "mood=angry:warn": 0.3.
func WithBias(bias map[string]float64) TableOption {
	return func(t *Table) { t.bias = maps.Clone(bias) }
}

// NewTable returns a Table over weights, keyed signal then action. The table
// is copied.
func NewTable(weights map[string]map[string]float64, opts ...TableOption) *Table {
	t := &Table{weights: make(map[string]map[string]float64, len(weights))}
	for signal, row := range weights {
		t.weights[signal] = maps.Clone(row)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Snapshot implements [pipeline.ActionScorer] using [Encode].
func (t *Table) Snapshot(npcState map[string]string) (pipeline.Snapshot, error) {
	return Encode(npcState)
}

// Score returns the row for signal, or the [AnySignal] row, with biases for
// the features present in snap applied. It returns [ErrNoScores] when
// neither row exists.
func (t *Table) Score(_ context.Context, snap pipeline.Snapshot, signal string) (map[string]float64, error) {
	row, ok := t.weights[signal]
	if !ok {
		row, ok = t.weights[AnySignal]
	}
	if !ok || len(row) == 0 {
		return nil, fmt.Errorf("%w for signal %q", ErrNoScores, signal)
	}
	scores := maps.Clone(row)
	for action := range scores {
		for feature, v := range snap {
			if b, ok := t.bias[feature+":"+action]; ok {
				scores[action] += b * v
			}
		}
	}
	return scores, nil
}
