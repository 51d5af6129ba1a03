package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/parley/pkg/provider/embeddings"
)

// Retriever searches a [FactIndex] with text by embedding the query first.
// It is safe for concurrent use when its index and embedder are.
type Retriever struct {
	index    FactIndex
	embedder embeddings.Provider
	npcID    string
}

// NewRetriever returns a Retriever over index using embedder for queries.
func NewRetriever(index FactIndex, embedder embeddings.Provider) *Retriever {
	return &Retriever{index: index, embedder: embedder}
}

// ForNPC returns a copy of r whose searches include only world lore and the
// facts of npcID.
func (r *Retriever) ForNPC(npcID string) *Retriever {
	cp := *r
	cp.npcID = npcID
	return &cp
}

// Search embeds query and returns up to topK facts scoring at least
// minScore.
func (r *Retriever) Search(ctx context.Context, query string, topK int, minScore float64) ([]Fact, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	facts, err := r.index.SearchFacts(ctx, FactQuery{
		Embedding: vec,
		TopK:      topK,
		MinScore:  minScore,
		NPCID:     r.npcID,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: search facts: %w", err)
	}
	return facts, nil
}

// Remember embeds content and stores it as a new fact. An empty npcID stores
// world lore.
func (r *Retriever) Remember(ctx context.Context, npcID, content string) (Fact, error) {
	vec, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return Fact{}, fmt.Errorf("memory: embed fact: %w", err)
	}
	f := Fact{
		ID:        uuid.NewString(),
		NPCID:     npcID,
		Content:   content,
		Embedding: vec,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.index.IndexFact(ctx, f); err != nil {
		return Fact{}, fmt.Errorf("memory: index fact: %w", err)
	}
	return f, nil
}
