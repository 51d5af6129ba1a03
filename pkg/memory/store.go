// Package memory defines the storage contracts behind an NPC's context:
// long-term facts retrieved by semantic similarity and the rolling
// conversation history that precedes each player line.
//
//   - [FactIndex] stores pre-embedded facts and answers nearest-neighbour
//     queries. [Retriever] puts an embedding provider in front of it so
//     callers can search with plain text.
//   - [HistoryStore] is an append-only, per-conversation line log.
//     [Conversation] adapts one conversation of it into a text history
//     provider.
//
// All interfaces are public so that alternative backends can be supplied.
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"time"
)

// Fact is one piece of long-term knowledge, e.g. "The smith owes the
// innkeeper ten gold."
type Fact struct {
	// ID is the unique identifier of the fact (a UUID).
	ID string

	// NPCID optionally ties the fact to one NPC. Empty facts are world lore.
	NPCID string

	// Content is the text inserted into prompts.
	Content string

	// Embedding is the vector representation of Content. Its dimension must
	// match the index configuration.
	Embedding []float32

	// Score is the cosine similarity to the query in [-1, 1]. It is only
	// set on search results.
	Score float64

	// CreatedAt is when the fact was stored.
	CreatedAt time.Time
}

// Line is one line of conversation history.
type Line struct {
	// Speaker is the display name, e.g. "Player" or the NPC's name.
	Speaker string

	// Text is what was said.
	Text string

	// NPCID identifies the NPC when the line was spoken by one.
	NPCID string

	// Timestamp is when the line was recorded.
	Timestamp time.Time
}

// FactQuery narrows a fact search. Zero fields are not applied.
type FactQuery struct {
	// Embedding is the query vector.
	Embedding []float32

	// TopK caps the number of results.
	TopK int

	// MinScore drops results whose similarity is below it.
	MinScore float64

	// NPCID restricts results to world lore plus facts of this NPC.
	NPCID string
}

// FactIndex stores facts and answers similarity queries. Results are ordered
// by descending score.
type FactIndex interface {
	// IndexFact upserts a pre-embedded fact.
	IndexFact(ctx context.Context, fact Fact) error

	// SearchFacts returns the facts closest to q.Embedding.
	SearchFacts(ctx context.Context, q FactQuery) ([]Fact, error)
}

// HistoryStore is an append-only conversation log.
type HistoryStore interface {
	// Append records lines under conversationID, in order.
	Append(ctx context.Context, conversationID string, lines ...Line) error

	// Recent returns at most n of the newest lines of conversationID in
	// chronological order (oldest first).
	Recent(ctx context.Context, conversationID string, n int) ([]Line, error)
}
