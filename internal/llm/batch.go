package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/schedule"
)

// DefaultBatchSize bounds how many texts go into one embedding call.
// Large batches amortize per-request overhead but risk tripping
// provider payload limits.
const DefaultBatchSize = 100

// Embedder is the embedding capability the Batcher dispatches to.
// *Client satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	Embedder  Embedder
	Scheduler *schedule.Scheduler
	Tokenizer *Tokenizer // optional; enables token-budget estimates
	BatchSize int        // texts per call, <=0 means DefaultBatchSize
	Logger    log.Logger
}

func (c *BatcherConfig) validate() error {
	if c.Embedder == nil {
		return errors.New("embedder is required")
	}
	if c.Scheduler == nil {
		return errors.New("scheduler is required")
	}
	return nil
}

// Batcher embeds arbitrarily many texts by splitting them into bounded
// batches and dispatching those concurrently under the scheduler's
// budgets. Results always come back in input order.
type Batcher struct {
	embedder  Embedder
	scheduler *schedule.Scheduler
	tokenizer *Tokenizer
	batchSize int
	logger    log.Logger
}

// NewBatcher creates a Batcher from cfg.
func NewBatcher(cfg BatcherConfig) (*Batcher, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid batcher config: %w", err)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Batcher{
		embedder:  cfg.Embedder,
		scheduler: cfg.Scheduler,
		tokenizer: cfg.Tokenizer,
		batchSize: cfg.BatchSize,
		logger:    cfg.Logger,
	}, nil
}

// EmbedAll returns one vector per text, index-aligned with texts. Texts
// are grouped into batches of at most the configured size; batches run
// concurrently and are reassembled by batch index, so input order is
// preserved regardless of completion order. Any cardinality mismatch
// fails the whole call with ErrVectorCountMismatch.
func (b *Batcher) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batches := make([][]string, 0, (len(texts)+b.batchSize-1)/b.batchSize)
	for start := 0; start < len(texts); start += b.batchSize {
		end := min(start+b.batchSize, len(texts))
		batches = append(batches, texts[start:end])
	}

	b.logger.Debug("embedding texts",
		"texts", len(texts),
		"batches", len(batches),
		"batch_size", b.batchSize,
	)

	estimate := func(batch []string) int {
		if b.tokenizer == nil {
			return 0
		}
		total := 0
		for _, text := range batch {
			total += b.tokenizer.Count(text)
		}
		return total
	}

	results, err := schedule.Collect(ctx, b.scheduler, batches, estimate,
		func(ctx context.Context, batch []string) ([][]float32, error) {
			vectors, err := b.embedder.EmbedBatch(ctx, batch)
			if err != nil {
				return nil, err
			}
			if len(vectors) != len(batch) {
				return nil, fmt.Errorf("%w: batch sent %d texts, received %d vectors",
					ErrVectorCountMismatch, len(batch), len(vectors))
			}
			return vectors, nil
		})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts in %d batches: %w", len(texts), len(batches), err)
	}

	vectors := make([][]float32, 0, len(texts))
	for _, batch := range results {
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d vectors",
			ErrVectorCountMismatch, len(texts), len(vectors))
	}
	return vectors, nil
}
