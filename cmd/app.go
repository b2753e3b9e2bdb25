package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/casadex/casadex/db"
	"github.com/casadex/casadex/internal/ai"
	"github.com/casadex/casadex/internal/answer"
	"github.com/casadex/casadex/internal/chunk"
	"github.com/casadex/casadex/internal/config"
	"github.com/casadex/casadex/internal/log"
	"github.com/casadex/casadex/internal/retrieval"
	"github.com/casadex/casadex/internal/session"
	"github.com/casadex/casadex/internal/store"
	"github.com/casadex/casadex/internal/sync"
)

// app holds the wired application components shared by the commands.
type app struct {
	cfg    *config.Config
	logger log.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	store  *store.Store
	gemini *ai.Gemini
	syncer *sync.Synchronizer
	answer *answer.Service
}

// setup loads configuration, runs migrations, and wires every
// component. Callers must Close the returned app.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := log.New(log.Config{Level: parseLogLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	if err := db.Migrate(cfg.ConnectionURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.ConnectionURL())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, pool: pool}

	a.store, err = store.New(pool, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	a.gemini, err = ai.NewGemini(ctx, cfg.GeminiAPIKey,
		ai.WithEmbedModel(cfg.EmbedModel),
		ai.WithGenerateModel(cfg.GenerateModel),
		ai.WithDimension(cfg.EmbedDimension),
		ai.WithRateLimit(cfg.ModelRPS),
		ai.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	splitter := chunk.New(
		chunk.WithMaxRunes(cfg.ChunkMaxRunes),
		chunk.WithOverlap(cfg.ChunkOverlap),
	)
	a.syncer, err = sync.New(cfg.SourceDir, a.store, a.gemini,
		sync.WithSplitter(splitter),
		sync.WithRowsPerSegment(cfg.RowsPerSegment),
		sync.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating synchronizer: %w", err)
	}

	filter, err := retrieval.New(a.gemini, a.store,
		retrieval.WithTopK(cfg.TopK),
		retrieval.WithOverfetch(cfg.Overfetch),
		retrieval.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating retrieval filter: %w", err)
	}

	history, err := a.newHistory()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating session history: %w", err)
	}

	a.answer, err = answer.New(filter, a.gemini, history,
		answer.WithHistoryLimit(cfg.HistoryLimit),
		answer.WithLogger(logger),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating answer service: %w", err)
	}

	return a, nil
}

// newHistory builds the session history for the configured backend.
func (a *app) newHistory() (session.History, error) {
	switch a.cfg.HistoryBackend {
	case config.HistoryPostgres:
		return session.NewPostgresHistory(a.pool)
	case config.HistoryRedis:
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
		})
		return session.NewRedisHistory(a.redis, a.cfg.SessionTTL())
	case config.HistoryMemory:
		return session.NewMemoryHistory(), nil
	default:
		return nil, fmt.Errorf("unknown history backend %q", a.cfg.HistoryBackend)
	}
}

// Close releases pooled connections. Safe to call on a partially
// initialized app.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("closing redis client", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
