package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MeshJS/mimir/db"
	"github.com/MeshJS/mimir/internal/answer"
	"github.com/MeshJS/mimir/internal/chunk"
	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/llm"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/observability"
	"github.com/MeshJS/mimir/internal/query"
	"github.com/MeshJS/mimir/internal/retrieval"
	"github.com/MeshJS/mimir/internal/schedule"
	"github.com/MeshJS/mimir/internal/store"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Telemetry must precede llm.New; the model runtime binds its
	// tracer provider during initialization.
	a.otelCleanup = provideTelemetry(ctx, cfg.Telemetry, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	st, err := store.New(pool, logger)
	if err != nil {
		return nil, err
	}
	a.Store = st

	model, err := llm.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Model = model

	a.tokenizers = llm.NewRegistry(logger)

	// Chunk sizes and embedding batch estimates follow the embedder's
	// token accounting; chat budgets follow the chat model's.
	embedTok := a.tokenizers.For(cfg.EmbedderModel)
	a.splitter = chunk.New(chunk.WithTokenBudget(embedTok, cfg.ChunkMaxTokens))

	embedSched := schedule.New("embedding", budgetFor(cfg.Embedding), logger)
	a.chatSched = schedule.New("chat", budgetFor(cfg.Chat), logger)

	batcher, err := llm.NewBatcher(llm.BatcherConfig{
		Embedder:  model,
		Scheduler: embedSched,
		Tokenizer: embedTok,
		BatchSize: cfg.EmbedBatchSize,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	a.batcher = batcher

	ranker, err := retrieval.NewRanker(st, cfg.Retrieval, logger)
	if err != nil {
		return nil, err
	}

	qs, err := query.New(query.Config{
		Embedder:      batcher,
		Retriever:     ranker,
		Generator:     model,
		Assembler:     answer.NewAssembler(cfg.Citation, logger),
		ChatScheduler: a.chatSched,
		Tokens:        a.tokenizers.For(cfg.ModelName),
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	a.Query = qs

	a.lockPath = provideLockPath(logger)

	return a, nil
}

// SetupStore initializes only the storage layer. Commands that never
// touch a model use it so they work without provider credentials being
// exercised.
func SetupStore(ctx context.Context, cfg *config.Config, logger log.Logger) (*store.Store, func(), error) {
	if cfg == nil {
		return nil, nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	pool, cleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(pool, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return st, cleanup, nil
}

// budgetFor converts a configured budget into scheduler terms.
func budgetFor(b config.BudgetConfig) schedule.Budget {
	return schedule.Budget{
		Concurrency:       b.Concurrency,
		RequestsPerMinute: b.RequestsPerMinute,
		TokensPerMinute:   b.TokensPerMinute,
		Retries:           b.Retries,
	}
}

// provideTelemetry sets up trace export and returns the cleanup that
// flushes pending spans on shutdown.
func provideTelemetry(ctx context.Context, cfg config.TelemetryConfig, logger log.Logger) func() {
	shutdown := observability.Setup(ctx, cfg, logger)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL connection
// pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideLockPath places the sync lock next to the configuration so
// every process of the same user serializes on it. Falls back to the
// temp dir when the home directory is unavailable.
func provideLockPath(logger log.Logger) string {
	fallback := filepath.Join(os.TempDir(), "mimir-sync.lock")

	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("resolving home directory for sync lock", "error", err)
		return fallback
	}
	dir := filepath.Join(home, ".mimir")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Warn("creating lock directory", "path", dir, "error", err)
		return fallback
	}
	return filepath.Join(dir, "sync.lock")
}
