package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/memory"
)

// HistoryLog is the append-only conversation log backed by the
// conversation_lines table.
//
// Obtain one via [Store.History]. All methods are safe for concurrent use.
type HistoryLog struct {
	pool *pgxpool.Pool
}

// Append implements [memory.HistoryStore]. All lines are written in one
// batch so a turn's player and NPC lines land together.
func (h *HistoryLog) Append(ctx context.Context, conversationID string, lines ...memory.Line) error {
	if len(lines) == 0 {
		return nil
	}
	const q = `
		INSERT INTO conversation_lines (conversation_id, speaker, text, npc_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	batch := &pgx.Batch{}
	for _, l := range lines {
		ts := l.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		batch.Queue(q, conversationID, l.Speaker, l.Text, l.NPCID, ts)
	}
	if err := h.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("history log: append: %w", err)
	}
	return nil
}

// Recent implements [memory.HistoryStore].
func (h *HistoryLog) Recent(ctx context.Context, conversationID string, n int) ([]memory.Line, error) {
	if n <= 0 {
		return []memory.Line{}, nil
	}
	const q = `
		SELECT speaker, text, npc_id, timestamp
		FROM (
		    SELECT id, speaker, text, npc_id, timestamp
		    FROM   conversation_lines
		    WHERE  conversation_id = $1
		    ORDER  BY id DESC
		    LIMIT  $2
		) newest
		ORDER BY id`

	rows, err := h.pool.Query(ctx, q, conversationID, n)
	if err != nil {
		return nil, fmt.Errorf("history log: recent: %w", err)
	}
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Line, error) {
		var l memory.Line
		err := row.Scan(&l.Speaker, &l.Text, &l.NPCID, &l.Timestamp)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("history log: scan rows: %w", err)
	}
	if lines == nil {
		lines = []memory.Line{}
	}
	return lines, nil
}
