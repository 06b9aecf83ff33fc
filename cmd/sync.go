package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MeshJS/mimir/internal/app"
	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/ingest"
	"github.com/MeshJS/mimir/internal/log"
)

// runSync indexes a documentation directory into the knowledge base.
func runSync(logger log.Logger, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dir := cfg.DocsDir
	if len(args) > 0 && args[0] != "" {
		dir = args[0]
	}
	if dir == "" {
		dir = "."
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	ing, err := a.CreateIngestor(dir)
	if err != nil {
		return fmt.Errorf("opening documentation source: %w", err)
	}

	report, err := ing.Sync(ctx)
	if err != nil {
		if errors.Is(err, ingest.ErrSyncRunning) {
			return errors.New("another sync is already running, try again later")
		}
		// Partial progress is still committed; show it before failing.
		fmt.Print(formatReport(report))
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Print(formatReport(report))
	return nil
}

// formatReport renders a run summary for the terminal.
func formatReport(r ingest.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scanned %d documents in %s\n", r.Documents, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  upserted   %d\n", r.Upserted)
	fmt.Fprintf(&b, "  unchanged  %d\n", r.Unchanged)
	fmt.Fprintf(&b, "  reordered  %d\n", r.Reordered)
	fmt.Fprintf(&b, "  deleted    %d\n", r.Deleted)
	if r.RemovedFiles > 0 {
		fmt.Fprintf(&b, "  removed    %d files gone from the source\n", r.RemovedFiles)
	}
	return b.String()
}
