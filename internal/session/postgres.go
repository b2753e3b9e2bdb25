package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// insert relies on the bigserial id for ordering; created_at is stored
// for display only.
const appendTurnSQL = `INSERT INTO session_turns (session_id, role, content, created_at)
	VALUES ($1, $2, $3, $4)`

// recentTurnsSQL selects the last n turns by descending id, then the
// outer query restores chronological order.
const recentTurnsSQL = `SELECT role, content, created_at FROM (
		SELECT id, role, content, created_at
		FROM session_turns
		WHERE session_id = $1
		ORDER BY id DESC
		LIMIT $2
	) recent
	ORDER BY id ASC`

const allTurnsSQL = `SELECT role, content, created_at
	FROM session_turns
	WHERE session_id = $1
	ORDER BY id ASC`

// PostgresHistory persists conversation turns in the session_turns
// table. Safe for concurrent use.
type PostgresHistory struct {
	pool *pgxpool.Pool
}

// NewPostgresHistory creates a History backed by PostgreSQL.
func NewPostgresHistory(pool *pgxpool.Pool) (*PostgresHistory, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostgresHistory{pool: pool}, nil
}

// Append implements History.
func (p *PostgresHistory) Append(ctx context.Context, sessionID string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}
	if _, err := p.pool.Exec(ctx, appendTurnSQL, sessionID, turn.Role, turn.Content, turn.CreatedAt); err != nil {
		return fmt.Errorf("appending turn to session %q: %w", sessionID, err)
	}
	return nil
}

// Recent implements History.
func (p *PostgresHistory) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	sql, args := allTurnsSQL, []any{sessionID}
	if n > 0 {
		sql, args = recentTurnsSQL, []any{sessionID, n}
	}

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}
