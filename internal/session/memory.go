package session

import (
	"context"
	"sync"
	"time"
)

// MemoryHistory is an in-process History for tests and single-node
// development runs. Turns vanish on restart.
type MemoryHistory struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
}

// NewMemoryHistory creates an empty in-process history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{sessions: make(map[string][]Turn)}
}

// Append implements History.
func (m *MemoryHistory) Append(_ context.Context, sessionID string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], turn)
	return nil
}

// Recent implements History.
func (m *MemoryHistory) Recent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	turns := m.sessions[sessionID]
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}
