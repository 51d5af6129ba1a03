package resilience

import (
	"context"

	"github.com/MrWong99/parley/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with failover across several text
// generators, each behind its own circuit breaker.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after those already added.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete returns the first successful completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion returns the first stream that starts and whose first chunk
// is not an error. Failures after the first chunk are delivered in-stream as
// usual; the player has already heard part of that answer.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		ch, err := p.StreamCompletion(ctx, req)
		if err != nil {
			return nil, err
		}
		return peekStream(ctx, ch)
	})
}

// peekStream waits for the first chunk of ch. An error chunk, or a stream that
// closes while ctx is done, fails the attempt. Otherwise the returned channel
// replays the first chunk followed by the rest of ch.
func peekStream(ctx context.Context, ch <-chan llm.Chunk) (<-chan llm.Chunk, error) {
	var first llm.Chunk
	select {
	case c, ok := <-ch:
		if !ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out := make(chan llm.Chunk)
			close(out)
			return out, nil
		}
		first = c
	case <-ctx.Done():
		go drain(ch)
		return nil, ctx.Err()
	}
	if err := first.Err(); err != nil {
		go drain(ch)
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		select {
		case out <- first:
		case <-ctx.Done():
			drain(ch)
			return
		}
		for c := range ch {
			select {
			case out <- c:
			case <-ctx.Done():
				drain(ch)
				return
			}
		}
	}()
	return out, nil
}

func drain(ch <-chan llm.Chunk) {
	for range ch {
	}
}
