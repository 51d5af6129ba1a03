// Package sentiment classifies a player's utterance into a signed sentiment
// score by matching fixed trigger phrases.
//
// Matching is case-insensitive substring containment, so "stop" also matches
// "unstoppable". The phrase sets are checked in strict priority order:
// explicit negatives veto everything, then positives, then continuation
// signals, then a mild default credit for engagement.
package sentiment

import "strings"

// NegativeTriggers are explicit complaints. Any match scores -1.0.
var NegativeTriggers = []string{
	"shut up", "stop", "bad bot", "ignore me", "go away",
	"you're annoying", "useless", "stupid npc", "broken",
	"doesn't work", "hate you", "worst", "terrible",
}

// PositiveTriggers are approval phrases. Each match adds 0.5, capped at 1.0.
var PositiveTriggers = []string{
	"thanks", "thank you", "helpful", "good job", "nice",
	"perfect", "exactly", "great", "love it", "amazing",
	"well done", "that's right", "correct",
}

// ContinuationSignals show the player is still listening without approving.
var ContinuationSignals = []string{
	"ok", "okay", "i see", "hmm", "interesting", "go on",
	"what else", "and then",
}

const (
	positiveStep       = 0.5
	positiveConfidence = 0.8

	continuationConfidence = 0.5

	defaultSentiment  = 0.1
	defaultConfidence = 0.3
)

// Result is the outcome of [Classify].
type Result struct {
	// Sentiment is in [-1.0, 1.0].
	Sentiment float64 `json:"sentiment"`

	// Confidence is in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// ExplicitNegative is set when a negative trigger matched.
	ExplicitNegative bool `json:"explicit_negative"`

	// Triggers lists the matched phrases prefixed with their set, e.g.
	// "negative:shut up" or "positive:thanks".
	Triggers []string `json:"triggers"`
}

// Classify scores text. It is pure and deterministic.
func Classify(text string) Result {
	norm := strings.ToLower(strings.TrimSpace(text))

	for _, p := range NegativeTriggers {
		if strings.Contains(norm, p) {
			return Result{
				Sentiment:        -1.0,
				Confidence:       1.0,
				ExplicitNegative: true,
				Triggers:         []string{"negative:" + p},
			}
		}
	}

	var triggers []string
	for _, p := range PositiveTriggers {
		if strings.Contains(norm, p) {
			triggers = append(triggers, "positive:"+p)
		}
	}
	if len(triggers) > 0 {
		return Result{
			Sentiment:  min(1.0, float64(len(triggers))*positiveStep),
			Confidence: positiveConfidence,
			Triggers:   triggers,
		}
	}

	for _, p := range ContinuationSignals {
		if strings.Contains(norm, p) {
			return Result{
				Sentiment:  0.0,
				Confidence: continuationConfidence,
				Triggers:   []string{"continuation:" + p},
			}
		}
	}

	return Result{
		Sentiment:  defaultSentiment,
		Confidence: defaultConfidence,
		Triggers:   []string{},
	}
}
