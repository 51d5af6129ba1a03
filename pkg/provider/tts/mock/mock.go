// Package mock provides a recording test double for [tts.Provider].
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/parley/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// Call records one Synthesize invocation.
type Call struct {
	Text  string
	Voice tts.Voice
}

// Provider is a mock implementation of tts.Provider. By default every call
// succeeds with AudioPath "clip-N.wav" (N counting from 1) and a duration of
// 100ms per word.
type Provider struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every call.
	Err error

	// FailOn makes calls whose text equals a key fail with the mapped error.
	FailOn map[string]error

	calls []Call
}

// Synthesize records the call and returns a synthetic result.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Text: text, Voice: voice})
	if err := ctx.Err(); err != nil {
		return tts.Result{}, err
	}
	if p.Err != nil {
		return tts.Result{}, p.Err
	}
	if err, ok := p.FailOn[text]; ok {
		return tts.Result{}, err
	}
	return tts.Result{
		AudioPath: fmt.Sprintf("clip-%d.wav", len(p.calls)),
		Duration:  time.Duration(wordCount(text)) * 100 * time.Millisecond,
		Model:     "mock",
	}, nil
}

// Calls returns the recorded calls in order.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

func wordCount(s string) int {
	n, in := 0, false
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			in = false
			continue
		}
		if !in {
			n++
			in = true
		}
	}
	return n
}
