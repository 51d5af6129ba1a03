// Package postgres provides the PostgreSQL-backed implementation of the
// Parley memory contracts: a pgvector fact index and a conversation log.
//
// Both share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it via CREATE
// EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//
//	retriever := memory.NewRetriever(store.Facts(), embedder)
//	history := memory.Conversation(store.History(), conversationID)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlHistory = `
CREATE TABLE IF NOT EXISTS conversation_lines (
    id               BIGSERIAL    PRIMARY KEY,
    conversation_id  TEXT         NOT NULL,
    speaker          TEXT         NOT NULL,
    text             TEXT         NOT NULL,
    npc_id           TEXT         NOT NULL DEFAULT '',
    timestamp        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_lines_conversation
    ON conversation_lines (conversation_id, id);
`

// ddlFacts returns the fact table DDL with the embedding dimension
// substituted. The dimension is baked into the column type.
func ddlFacts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS facts (
    id          TEXT         PRIMARY KEY,
    npc_id      TEXT         NOT NULL DEFAULT '',
    content     TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facts_npc_id
    ON facts (npc_id);

CREATE INDEX IF NOT EXISTS idx_facts_embedding
    ON facts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	for _, stmt := range []string{ddlFacts(embeddingDimensions), ddlHistory} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
