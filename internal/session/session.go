// Package session keeps per-conversation history. A session is an
// append-only sequence of turns; drivers exist for in-process memory,
// PostgreSQL, and Redis.
package session

import (
	"context"
	"time"
)

// Roles of a conversation turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// History stores conversation turns. Implementations must preserve
// append order: Recent returns the last n turns oldest-first, exactly
// as appended.
type History interface {
	// Append records a turn at the end of the session.
	Append(ctx context.Context, sessionID string, turn Turn) error
	// Recent returns up to n most recent turns, oldest first.
	// n <= 0 means no limit.
	Recent(ctx context.Context, sessionID string, n int) ([]Turn, error)
}
