// Package store persists chunks in PostgreSQL with pgvector and serves
// both legs of hybrid search.
//
// Rows are addressed by (filepath, position), which the schema enforces
// with a UNIQUE constraint. Position moves therefore run in two phases
// inside one transaction: rows first jump to disjoint temporary
// positions far above any real one, then land on their final positions.
// Callers must apply deletions before position moves so a row never
// lands on a position that a doomed row still occupies.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/reconcile"
)

// ErrLexicalSearch marks full-text search failures. Retrieval treats
// this class as degradable: the vector leg alone still answers.
var ErrLexicalSearch = errors.New("lexical search unavailable")

// tempPositionOffset is added to a row's id to form its phase-one
// position during a reorder. Far above any real position, and id-based,
// so temporary positions never collide with final ones or each other.
const tempPositionOffset = int64(1) << 40

// defaultTopK bounds search results when the caller passes no limit.
const defaultTopK = 10

// querier is the common interface satisfied by both *pgxpool.Pool and
// pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// chunkCols is the standard SELECT column list for scanSearchResults.
const chunkCols = `id, filepath, position, title, content, context, checksum, created_at, updated_at`

const upsertChunkSQL = `INSERT INTO chunks (filepath, position, title, content, context, checksum, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (filepath, position) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		context = EXCLUDED.context,
		checksum = EXCLUDED.checksum,
		embedding = EXCLUDED.embedding,
		updated_at = now()`

// Chunk is the unit written by UpsertChunks: one section plus its
// embedding.
type Chunk struct {
	Filepath  string
	Position  int
	Title     string
	Content   string
	Context   string
	Checksum  string
	Embedding []float32
}

// SearchResult is one stored chunk returned by a search leg. Similarity
// is set by VectorSearch, LexicalRank by LexicalSearch; the other field
// stays zero.
type SearchResult struct {
	ID          int64
	Filepath    string
	Position    int
	Title       string
	Content     string
	Context     string
	Checksum    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Similarity  float64
	LexicalRank float64
}

// Stats summarizes the stored corpus.
type Stats struct {
	Chunks   int64
	Files    int64
	LastSync time.Time // zero when the store is empty
}

// Store manages the chunks table. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store.
func New(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// FetchExisting returns the stored records for one file keyed by
// position, in the shape the reconciler diffs against.
func (s *Store) FetchExisting(ctx context.Context, filepath string) (map[int]reconcile.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position, checksum FROM chunks WHERE filepath = $1`,
		filepath,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching chunks for %s: %w", filepath, err)
	}
	defer rows.Close()

	existing := make(map[int]reconcile.Record)
	for rows.Next() {
		var (
			rec      reconcile.Record
			position int
		)
		if err := rows.Scan(&rec.ID, &position, &rec.Checksum); err != nil {
			return nil, fmt.Errorf("scanning chunk record: %w", err)
		}
		existing[position] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk records: %w", err)
	}
	return existing, nil
}

// UpsertChunks writes chunks in one transaction, inserting new
// (filepath, position) rows and replacing the content and embedding of
// existing ones.
func (s *Store) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("upsert rollback", "error", rbErr)
		}
	}()

	for _, c := range chunks {
		if err := upsertChunk(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing %d chunk upserts: %w", len(chunks), err)
	}
	s.logger.Debug("upserted chunks", "filepath", chunks[0].Filepath, "count", len(chunks))
	return nil
}

func upsertChunk(ctx context.Context, q querier, c Chunk) error {
	_, err := q.Exec(ctx, upsertChunkSQL,
		c.Filepath, c.Position, c.Title, c.Content, c.Context, c.Checksum,
		pgvector.NewVector(c.Embedding),
	)
	if err != nil {
		return fmt.Errorf("upserting chunk %s[%d]: %w", c.Filepath, c.Position, err)
	}
	return nil
}

// UpdatePositions moves rows to their new positions in two phases
// inside one transaction, so UNIQUE(filepath, position) never sees an
// intermediate collision.
func (s *Store) UpdatePositions(ctx context.Context, moves []reconcile.Reorder) error {
	if len(moves) == 0 {
		return nil
	}

	ids := make([]int64, len(moves))
	for i, m := range moves {
		ids[i] = m.ID
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning position transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("position update rollback", "error", rbErr)
		}
	}()

	// Phase one: park every moving row on a unique temporary position.
	tag, err := tx.Exec(ctx,
		`UPDATE chunks SET position = $1 + id WHERE id = ANY($2)`,
		tempPositionOffset, ids,
	)
	if err != nil {
		return fmt.Errorf("parking %d chunks: %w", len(moves), err)
	}
	if got := tag.RowsAffected(); got != int64(len(moves)) {
		return fmt.Errorf("position update matched %d of %d chunks, store changed underneath sync", got, len(moves))
	}

	// Phase two: land each row on its final position.
	for _, m := range moves {
		tag, err := tx.Exec(ctx,
			`UPDATE chunks SET position = $2, updated_at = now() WHERE id = $1`,
			m.ID, m.NewPosition,
		)
		if err != nil {
			return fmt.Errorf("moving chunk %d to position %d: %w", m.ID, m.NewPosition, err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("chunk %d vanished during position update", m.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing %d position updates: %w", len(moves), err)
	}
	s.logger.Debug("updated chunk positions", "count", len(moves))
	return nil
}

// DeleteChunks removes rows by id. Missing ids are ignored.
func (s *Store) DeleteChunks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("deleting %d chunks: %w", len(ids), err)
	}
	return nil
}

// DeleteFileChunks removes every chunk of one file and reports how many
// rows went away. Used when a synced file disappears from the source
// tree.
func (s *Store) DeleteFileChunks(ctx context.Context, filepath string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE filepath = $1`, filepath)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for %s: %w", filepath, err)
	}
	return tag.RowsAffected(), nil
}

// ListFilepaths returns every distinct synced filepath in lexical
// order.
func (s *Store) ListFilepaths(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT filepath FROM chunks ORDER BY filepath`)
	if err != nil {
		return nil, fmt.Errorf("listing filepaths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning filepath: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating filepaths: %w", err)
	}
	return paths, nil
}

// VectorSearch returns the topK chunks nearest to embedding by cosine
// distance, filtered to similarity >= minSimilarity. Results arrive in
// descending similarity order with Similarity populated.
func (s *Store) VectorSearch(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]SearchResult, error) {
	if len(embedding) == 0 {
		return nil, errors.New("empty query embedding")
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+`,
		        1 - (embedding <=> $1) AS similarity
		 FROM chunks
		 WHERE 1 - (embedding <=> $1) >= $2
		 ORDER BY embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(embedding), minSimilarity, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return scanSearchResults(rows, func(r *SearchResult, score float64) {
		r.Similarity = score
	})
}

// LexicalSearch returns the topK chunks matching query under Postgres
// full-text search, ranked by ts_rank_cd with LexicalRank populated.
// Every failure is wrapped in ErrLexicalSearch.
func (s *Store) LexicalSearch(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkCols+`,
		        ts_rank_cd(search_text, websearch_to_tsquery('english', $1)) AS rank
		 FROM chunks
		 WHERE search_text @@ websearch_to_tsquery('english', $1)
		 ORDER BY rank DESC, id
		 LIMIT $2`,
		query, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLexicalSearch, err)
	}
	defer rows.Close()

	results, err := scanSearchResults(rows, func(r *SearchResult, score float64) {
		r.LexicalRank = score
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLexicalSearch, err)
	}
	return results, nil
}

// Stats reports corpus totals and the most recent write.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		stats    Stats
		lastSync *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT filepath), MAX(updated_at) FROM chunks`,
	).Scan(&stats.Chunks, &stats.Files, &lastSync)
	if err != nil {
		return Stats{}, fmt.Errorf("reading store stats: %w", err)
	}
	if lastSync != nil {
		stats.LastSync = *lastSync
	}
	return stats, nil
}

func scanSearchResults(rows pgx.Rows, assign func(*SearchResult, float64)) ([]SearchResult, error) {
	var results []SearchResult
	for rows.Next() {
		var (
			r     SearchResult
			score float64
		)
		if err := rows.Scan(
			&r.ID, &r.Filepath, &r.Position, &r.Title, &r.Content,
			&r.Context, &r.Checksum, &r.CreatedAt, &r.UpdatedAt, &score,
		); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		assign(&r, score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}
