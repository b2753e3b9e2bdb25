package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long an idle session's history survives in Redis.
const DefaultTTL = 24 * time.Hour

// RedisHistory keeps each session as a Redis list of JSON-encoded
// turns. RPUSH preserves append order; LRANGE with negative offsets
// reads the tail.
type RedisHistory struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistory creates a History backed by Redis. ttl <= 0 uses
// DefaultTTL.
func NewRedisHistory(client *redis.Client, ttl time.Duration) (*RedisHistory, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisHistory{client: client, ttl: ttl}, nil
}

func sessionKey(sessionID string) string {
	return "casadex:session:" + sessionID
}

// Append implements History. Every append refreshes the session TTL.
func (r *RedisHistory) Append(ctx context.Context, sessionID string, turn Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}

	key := sessionKey(sessionID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("appending turn to session %q: %w", sessionID, err)
	}
	return nil
}

// Recent implements History.
func (r *RedisHistory) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}

	items, err := r.client.LRange(ctx, sessionKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading session %q: %w", sessionID, err)
	}

	turns := make([]Turn, 0, len(items))
	for _, item := range items {
		var t Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("unmarshaling turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}
