// Package ingest runs the sync pipeline that keeps the chunk store
// aligned with a document source.
//
// One run walks every source document, splits it into chunks, diffs
// them against the stored records and applies the minimal writes:
// deletions and position moves commit immediately, while genuinely new
// or changed chunks get a generated retrieval context and an embedding
// before being upserted. Context generation fans out across documents
// and is joined before one aggregate embedding submission, so a
// partial context set is never embedded.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MeshJS/mimir/internal/chunk"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/reconcile"
	"github.com/MeshJS/mimir/internal/schedule"
	"github.com/MeshJS/mimir/internal/source"
	"github.com/MeshJS/mimir/internal/store"
)

// ErrSyncRunning reports that another process holds the sync lock.
// Concurrent runs against one store would race the two-phase position
// updates, so the second run refuses to start.
var ErrSyncRunning = errors.New("another sync is already running")

// Source lists the documents of one sync run. *source.Dir satisfies it.
type Source interface {
	List(ctx context.Context) ([]source.Document, error)
}

// Splitter turns document text into ordered chunks. *chunk.Splitter
// satisfies it.
type Splitter interface {
	Split(text string) []chunk.Chunk
}

// Store is the slice of the chunk store the pipeline writes through.
// *store.Store satisfies it.
type Store interface {
	ListFilepaths(ctx context.Context) ([]string, error)
	FetchExisting(ctx context.Context, filepath string) (map[int]reconcile.Record, error)
	DeleteChunks(ctx context.Context, ids []int64) error
	DeleteFileChunks(ctx context.Context, filepath string) (int64, error)
	UpdatePositions(ctx context.Context, moves []reconcile.Reorder) error
	UpsertChunks(ctx context.Context, chunks []store.Chunk) error
}

// ContextGenerator produces the retrieval context for one chunk.
// *llm.Client satisfies it.
type ContextGenerator interface {
	GenerateContext(ctx context.Context, chunkContent, documentContent string) (string, error)
}

// Embedder embeds the full pending set in one order-preserving call.
// *llm.Batcher satisfies it.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenCounter estimates token costs for scheduler budgets.
// *llm.Tokenizer satisfies it.
type TokenCounter interface {
	Count(text string) int
}

// Report summarizes one sync run. On failure the counts cover the work
// committed before the fault.
type Report struct {
	RunID        string
	Documents    int // source documents scanned
	Unchanged    int // chunks matched in place, no writes
	Upserted     int // new or updated chunks written with embeddings
	Reordered    int // chunks moved to a new position
	Deleted      int // chunk rows removed
	RemovedFiles int // documents gone from the source, chunks dropped
	Duration     time.Duration
}

// Config assembles an Ingestor's collaborators.
type Config struct {
	Source   Source
	Splitter Splitter
	Store    Store
	Contexts ContextGenerator
	Embedder Embedder
	// ChatScheduler admits the per-chunk context generation calls.
	ChatScheduler *schedule.Scheduler
	// Tokens estimates context-call costs for the scheduler's token
	// budget. Optional; without it calls are admitted at zero cost.
	Tokens TokenCounter
	// LockPath guards the store against concurrent runs. Optional.
	LockPath string
	Logger   log.Logger
}

func (c *Config) validate() error {
	if c.Source == nil {
		return errors.New("source is required")
	}
	if c.Splitter == nil {
		return errors.New("splitter is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Contexts == nil {
		return errors.New("context generator is required")
	}
	if c.Embedder == nil {
		return errors.New("embedder is required")
	}
	if c.ChatScheduler == nil {
		return errors.New("chat scheduler is required")
	}
	return nil
}

// Ingestor runs sync runs. Safe for sequential reuse; the lock file
// serializes concurrent runs across processes.
type Ingestor struct {
	source   Source
	splitter Splitter
	store    Store
	contexts ContextGenerator
	embedder Embedder
	chatSync *schedule.Scheduler
	tokens   TokenCounter
	lockPath string
	logger   log.Logger
}

// New creates an Ingestor from cfg.
func New(cfg Config) (*Ingestor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Ingestor{
		source:   cfg.Source,
		splitter: cfg.Splitter,
		store:    cfg.Store,
		contexts: cfg.Contexts,
		embedder: cfg.Embedder,
		chatSync: cfg.ChatScheduler,
		tokens:   cfg.Tokens,
		lockPath: cfg.LockPath,
		logger:   cfg.Logger,
	}, nil
}

// docWork is one document's share of a run: the fresh chunks that need
// context generation and embedding.
type docWork struct {
	doc     source.Document
	pending []chunk.Chunk
}

// Sync reconciles the store with the source. Deletions and reorders
// commit per document as soon as they are known; new or changed chunks
// across all documents are embedded in one aggregate submission and
// upserted per document. The returned Report is meaningful even when
// err is non-nil.
func (ing *Ingestor) Sync(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	start := time.Now()
	defer func() { report.Duration = time.Since(start) }()

	if ing.lockPath != "" {
		lock := flock.New(ing.lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return report, fmt.Errorf("acquiring sync lock %s: %w", ing.lockPath, err)
		}
		if !locked {
			return report, fmt.Errorf("sync lock %s is held: %w", ing.lockPath, ErrSyncRunning)
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				ing.logger.Warn("releasing sync lock", "path", ing.lockPath, "error", err)
			}
		}()
	}

	logger := ing.logger.With("run_id", report.RunID)

	docs, err := ing.source.List(ctx)
	if err != nil {
		return report, fmt.Errorf("listing source documents: %w", err)
	}
	report.Documents = len(docs)
	logger.Info("sync started", "documents", len(docs))

	if err := ing.removeVanished(ctx, docs, &report, logger); err != nil {
		return report, err
	}

	work, err := ing.reconcileAll(ctx, docs, &report, logger)
	if err != nil {
		return report, err
	}
	if len(work) == 0 {
		logger.Info("sync complete, store already current",
			"unchanged", report.Unchanged,
			"reordered", report.Reordered,
			"deleted", report.Deleted,
		)
		return report, nil
	}

	contexts, err := ing.generateContexts(ctx, work)
	if err != nil {
		return report, fmt.Errorf("generating chunk contexts: %w", err)
	}

	vectors, err := ing.embedPending(ctx, work, contexts)
	if err != nil {
		return report, fmt.Errorf("embedding pending chunks: %w", err)
	}

	if err := ing.upsertAll(ctx, work, contexts, vectors, &report); err != nil {
		return report, err
	}

	logger.Info("sync complete",
		"documents", report.Documents,
		"upserted", report.Upserted,
		"unchanged", report.Unchanged,
		"reordered", report.Reordered,
		"deleted", report.Deleted,
		"removed_files", report.RemovedFiles,
		"elapsed", time.Since(start),
	)
	return report, nil
}

// removeVanished drops every stored chunk of documents the source no
// longer lists.
func (ing *Ingestor) removeVanished(ctx context.Context, docs []source.Document, report *Report, logger log.Logger) error {
	stored, err := ing.store.ListFilepaths(ctx)
	if err != nil {
		return fmt.Errorf("listing stored filepaths: %w", err)
	}

	current := make(map[string]bool, len(docs))
	for _, doc := range docs {
		current[doc.Path] = true
	}

	for _, path := range stored {
		if current[path] {
			continue
		}
		removed, err := ing.store.DeleteFileChunks(ctx, path)
		if err != nil {
			return fmt.Errorf("removing vanished document %s: %w", path, err)
		}
		report.RemovedFiles++
		report.Deleted += int(removed)
		logger.Info("removed vanished document", "filepath", path, "chunks", removed)
	}
	return nil
}

// reconcileAll diffs every document against the store and commits the
// deletions and position moves immediately. The returned work holds
// each document's pending chunks in source order.
func (ing *Ingestor) reconcileAll(ctx context.Context, docs []source.Document, report *Report, logger log.Logger) ([]docWork, error) {
	var work []docWork
	for _, doc := range docs {
		fresh := ing.splitter.Split(doc.Content)

		existing, err := ing.store.FetchExisting(ctx, doc.Path)
		if err != nil {
			return nil, fmt.Errorf("fetching stored chunks for %s: %w", doc.Path, err)
		}

		plan, err := reconcile.Diff(fresh, existing)
		if err != nil {
			return nil, fmt.Errorf("reconciling %s: %w", doc.Path, err)
		}

		// Deletes go first so a reorder never lands on a position a
		// doomed record still holds.
		if err := ing.store.DeleteChunks(ctx, plan.DeleteIDs); err != nil {
			return nil, fmt.Errorf("deleting stale chunks of %s: %w", doc.Path, err)
		}
		report.Deleted += len(plan.DeleteIDs)

		if err := ing.store.UpdatePositions(ctx, plan.Reorders); err != nil {
			return nil, fmt.Errorf("moving chunks of %s: %w", doc.Path, err)
		}
		report.Reordered += len(plan.Reorders)
		report.Unchanged += len(fresh) - len(plan.Pending)

		logger.Debug("reconciled document",
			"filepath", doc.Path,
			"chunks", len(fresh),
			"pending", len(plan.Pending),
			"reordered", len(plan.Reorders),
			"deleted", len(plan.DeleteIDs),
		)

		if len(plan.Pending) > 0 {
			work = append(work, docWork{doc: doc, pending: plan.Pending})
		}
	}
	return work, nil
}

// generateContexts fans one task per document out and joins them all
// before anything is embedded. Each task generates its document's
// chunk contexts through the chat scheduler, so the fan-out is bounded
// by the chat budget no matter how many documents changed. The first
// failure cancels the rest and fails the run.
func (ing *Ingestor) generateContexts(ctx context.Context, work []docWork) ([][]string, error) {
	contexts := make([][]string, len(work))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, w := range work {
		eg.Go(func() error {
			docContexts, err := schedule.Collect(egCtx, ing.chatSync, w.pending,
				func(c chunk.Chunk) int { return ing.estimateContextCost(c, w.doc) },
				func(ctx context.Context, c chunk.Chunk) (string, error) {
					return ing.contexts.GenerateContext(ctx, c.Content, w.doc.Content)
				})
			if err != nil {
				return fmt.Errorf("document %s: %w", w.doc.Path, err)
			}
			contexts[i] = docContexts
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return contexts, nil
}

// estimateContextCost approximates the prompt size of one context
// call: the whole document plus the chunk itself.
func (ing *Ingestor) estimateContextCost(c chunk.Chunk, doc source.Document) int {
	if ing.tokens == nil {
		return 0
	}
	return ing.tokens.Count(doc.Content) + ing.tokens.Count(c.Content)
}

// embedPending embeds every pending chunk of the run in one aggregate
// submission, each prefixed with its generated context so the vector
// carries document-level meaning.
func (ing *Ingestor) embedPending(ctx context.Context, work []docWork, contexts [][]string) ([][]float32, error) {
	var texts []string
	for i, w := range work {
		for j, c := range w.pending {
			texts = append(texts, embeddingText(contexts[i][j], c.Content))
		}
	}
	return ing.embedder.EmbedAll(ctx, texts)
}

// embeddingText is the exact text a chunk is embedded under.
func embeddingText(contextText, content string) string {
	if contextText == "" {
		return content
	}
	return contextText + "\n\n" + content
}

// upsertAll writes each document's pending chunks with their vectors,
// consuming the aggregate vector list in the same order embedPending
// flattened it.
func (ing *Ingestor) upsertAll(ctx context.Context, work []docWork, contexts [][]string, vectors [][]float32, report *Report) error {
	next := 0
	for i, w := range work {
		rows := make([]store.Chunk, len(w.pending))
		for j, c := range w.pending {
			rows[j] = store.Chunk{
				Filepath:  w.doc.Path,
				Position:  c.Position,
				Title:     c.Title,
				Content:   c.Content,
				Context:   contexts[i][j],
				Checksum:  c.Checksum,
				Embedding: vectors[next],
			}
			next++
		}
		if err := ing.store.UpsertChunks(ctx, rows); err != nil {
			return fmt.Errorf("upserting chunks of %s: %w", w.doc.Path, err)
		}
		report.Upserted += len(rows)
	}
	return nil
}
