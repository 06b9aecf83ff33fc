// Package app builds the application from configuration and owns its
// lifecycle.
//
// Setup wires the container in dependency order: telemetry first so
// the tracer provider is ready when the model runtime initializes,
// then the database pool with migrations, the model client, and the
// pipelines on top. Close releases everything in reverse.
package app

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MeshJS/mimir/internal/chunk"
	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/ingest"
	"github.com/MeshJS/mimir/internal/llm"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/query"
	"github.com/MeshJS/mimir/internal/schedule"
	"github.com/MeshJS/mimir/internal/source"
	"github.com/MeshJS/mimir/internal/store"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger log.Logger

	DBPool *pgxpool.Pool
	Store  *store.Store
	Model  *llm.Client
	Query  *query.Service

	splitter   *chunk.Splitter
	batcher    *llm.Batcher
	tokenizers *llm.Registry
	chatSched  *schedule.Scheduler
	lockPath   string

	otelCleanup func()
	dbCleanup   func()
}

// Close releases all resources. Safe to call on a partially
// initialized App; Setup relies on that when it fails midway.
func (a *App) Close() error {
	logger := a.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	logger.Info("shutting down")

	if a.dbCleanup != nil {
		a.dbCleanup()
		logger.Debug("database pool closed")
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}

// CreateIngestor builds a sync pipeline rooted at dir. The pipeline
// shares the container's store, model client and budgets; only the
// document source is per-run.
func (a *App) CreateIngestor(dir string) (*ingest.Ingestor, error) {
	docs, err := source.NewDir(dir, a.Logger)
	if err != nil {
		return nil, err
	}

	return ingest.New(ingest.Config{
		Source:        docs,
		Splitter:      a.splitter,
		Store:         a.Store,
		Contexts:      a.Model,
		Embedder:      a.batcher,
		ChatScheduler: a.chatSched,
		Tokens:        a.tokenizers.For(a.Config.ModelName),
		LockPath:      a.lockPath,
		Logger:        a.Logger,
	})
}
