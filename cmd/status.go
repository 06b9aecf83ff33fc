package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeshJS/mimir/internal/app"
	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/log"
)

// runStatus prints knowledge base statistics. Only the storage layer
// is initialized; no model calls are made.
func runStatus(logger log.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, cleanup, err := app.SetupStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connecting to knowledge base: %w", err)
	}
	defer cleanup()

	stats, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("reading statistics: %w", err)
	}

	fmt.Printf("Knowledge base: %s:%d/%s\n", cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)
	fmt.Printf("  documents  %d\n", stats.Files)
	fmt.Printf("  chunks     %d\n", stats.Chunks)
	if stats.LastSync.IsZero() {
		fmt.Println("  last sync  never")
	} else {
		fmt.Printf("  last sync  %s\n", stats.LastSync.Local().Format(time.RFC1123))
	}
	fmt.Println()
	fmt.Printf("Provider: %s (%s)\n", cfg.Provider, cfg.FullModelName())
	fmt.Printf("Embedder: %s\n", cfg.EmbedderModel)
	return nil
}
