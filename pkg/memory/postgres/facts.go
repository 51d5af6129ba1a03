package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/parley/pkg/memory"
)

// FactIndex stores facts in a table with a pgvector HNSW index for
// approximate nearest-neighbour search by cosine distance.
//
// Obtain one via [Store.Facts]. All methods are safe for concurrent use.
type FactIndex struct {
	pool *pgxpool.Pool
}

// IndexFact implements [memory.FactIndex]. A fact with an existing ID is
// replaced.
func (f *FactIndex) IndexFact(ctx context.Context, fact memory.Fact) error {
	const q = `
		INSERT INTO facts (id, npc_id, content, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    npc_id     = EXCLUDED.npc_id,
		    content    = EXCLUDED.content,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	createdAt := fact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := f.pool.Exec(ctx, q,
		fact.ID,
		fact.NPCID,
		fact.Content,
		pgvector.NewVector(fact.Embedding),
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("fact index: index fact: %w", err)
	}
	return nil
}

// SearchFacts implements [memory.FactIndex]. Score is 1 - cosine distance,
// so identical directions score 1.0.
func (f *FactIndex) SearchFacts(ctx context.Context, q memory.FactQuery) ([]memory.Fact, error) {
	if q.TopK <= 0 {
		return []memory.Fact{}, nil
	}

	args := []any{pgvector.NewVector(q.Embedding)} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"1 - (embedding <=> $1) >= " + next(q.MinScore)}
	if q.NPCID != "" {
		conditions = append(conditions, "npc_id IN ('', "+next(q.NPCID)+")")
	}

	sql := fmt.Sprintf(`
		SELECT id, npc_id, content, created_at,
		       1 - (embedding <=> $1) AS score
		FROM   facts
		WHERE  %s
		ORDER  BY embedding <=> $1
		LIMIT  %s`, strings.Join(conditions, "\n\t\t  AND  "), next(q.TopK))

	rows, err := f.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("fact index: search: %w", err)
	}

	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Fact, error) {
		var fact memory.Fact
		err := row.Scan(&fact.ID, &fact.NPCID, &fact.Content, &fact.CreatedAt, &fact.Score)
		return fact, err
	})
	if err != nil {
		return nil, fmt.Errorf("fact index: scan rows: %w", err)
	}
	if facts == nil {
		facts = []memory.Fact{}
	}
	return facts, nil
}
