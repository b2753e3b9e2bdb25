package config

import "fmt"

// Validate checks the configuration and fails fast with sentinel
// errors. Called automatically by Load.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.GeminiAPIKey == "" {
		return fmt.Errorf("%w: set GEMINI_API_KEY", ErrMissingAPIKey)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name is empty", ErrInvalidPostgresDBName)
	}

	switch c.HistoryBackend {
	case HistoryPostgres, HistoryMemory:
	case HistoryRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: redis backend needs redis_addr", ErrInvalidHistoryBackend)
		}
	default:
		return fmt.Errorf("%w: %q (expected postgres, redis, or memory)", ErrInvalidHistoryBackend, c.HistoryBackend)
	}

	if c.SourceDir == "" {
		return fmt.Errorf("%w: source_dir is empty", ErrInvalidSourceDir)
	}

	if c.ChunkMaxRunes < 100 {
		return fmt.Errorf("%w: chunk_max_runes %d (minimum 100)", ErrInvalidChunking, c.ChunkMaxRunes)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkMaxRunes {
		return fmt.Errorf("%w: chunk_overlap %d (must be 0 <= overlap < chunk_max_runes)", ErrInvalidChunking, c.ChunkOverlap)
	}
	if c.RowsPerSegment < 1 {
		return fmt.Errorf("%w: rows_per_segment %d (minimum 1)", ErrInvalidChunking, c.RowsPerSegment)
	}

	if c.TopK < 1 {
		return fmt.Errorf("%w: top_k %d (minimum 1)", ErrInvalidRetrieval, c.TopK)
	}
	if c.Overfetch < 1 {
		return fmt.Errorf("%w: overfetch %d (minimum 1)", ErrInvalidRetrieval, c.Overfetch)
	}

	return nil
}
