package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/parley/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.FactIndex    = (*FactIndex)(nil)
	_ memory.HistoryStore = (*HistoryLog)(nil)
)

// Store is the PostgreSQL-backed memory store for Parley. It holds a single
// [pgxpool.Pool] shared by the fact index and the history log.
//
// All operations are safe for concurrent use.
type Store struct {
	pool    *pgxpool.Pool
	facts   *FactIndex
	history *HistoryLog
}

// NewStore creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// that produces [memory.Fact.Embedding] values. Changing it after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:    pool,
		facts:   &FactIndex{pool: pool},
		history: &HistoryLog{pool: pool},
	}, nil
}

// Facts returns the fact index.
func (s *Store) Facts() *FactIndex { return s.facts }

// History returns the conversation log.
func (s *Store) History() *HistoryLog { return s.history }

// Ping checks that the database is reachable. It is used as a readiness
// check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
