// Package llm defines the Provider interface for the text generators that
// voice NPC responses.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the context is cancelled.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a [Chunk] that reports a mid-stream failure. Its
// Text carries the error message.
const FinishReasonError = "error"

// Message is a single entry of the conversation sent to the model.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// CompletionRequest carries everything the model needs to respond. At least
// one message is required.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message drives the reply.
	Messages []Message

	// SystemPrompt, when set, is sent ahead of Messages as a system message.
	SystemPrompt string

	// Temperature in [0, 2]. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int
}

// Chunk is one fragment of a streamed completion.
type Chunk struct {
	// Text is the incremental content. It may be empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// FinishReasonError.
	FinishReason string
}

// Err returns the stream error carried by c, or nil.
func (c Chunk) Err() error {
	if c.FinishReason != FinishReasonError {
		return nil
	}
	return &StreamError{Message: c.Text}
}

// StreamError is a failure reported inside a completion stream.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string { return "llm: stream: " + e.Message }

// Usage is the token accounting reported by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the result of a non-streaming completion.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion starts a streamed completion. The returned error is
	// non-nil only when the stream could not start; later failures arrive as
	// a chunk with FinishReasonError. The channel is never nil when err is
	// nil, and callers must drain it.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
