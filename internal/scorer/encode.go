// Package scorer provides [pipeline.ActionScorer] implementations: a remote
// utility service reached over HTTP, a local weight table and a circuit
// breaker that keeps a failing remote from stalling turns.
package scorer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/parley/internal/pipeline"
)

// ErrNoScores is returned when a scorer has nothing to offer for a signal.
var ErrNoScores = errors.New("scorer: no scores")

// ErrInvalidState is returned by [Encode] for state values it cannot encode.
var ErrInvalidState = errors.New("scorer: invalid state")

// Encode turns an NPC state into a snapshot. Finite numeric values are kept
// under their key. Any other non-empty value becomes a one-hot feature named
// "key=value" (lower-cased) with value 1. The display name is dropped and
// empty values are skipped.
func Encode(state map[string]string) (pipeline.Snapshot, error) {
	snap := make(pipeline.Snapshot, len(state))
	for k, v := range state {
		v = strings.TrimSpace(v)
		if k == pipeline.StateName || v == "" {
			continue
		}
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%w: %s=%s", ErrInvalidState, k, v)
			}
			snap[k] = f
			continue
		}
		snap[k+"="+strings.ToLower(v)] = 1
	}
	return snap, nil
}
