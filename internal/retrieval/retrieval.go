// Package retrieval merges the vector and lexical legs of hybrid
// search into one ranked, bounded match list.
//
// The vector leg always runs. The lexical leg runs only in hybrid mode
// and is best-effort: when PostgreSQL full-text search fails, the
// ranker logs the failure and answers from the vector results alone.
// Matches found by both legs carry both signals and rank ahead of
// their single-leg peers at equal similarity.
package retrieval

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/store"
)

// Match is one ranked retrieval result handed to answer generation.
// At least one of Similarity and LexicalRank is set; a nil signal
// means the corresponding leg did not return the chunk.
type Match struct {
	ID       int64
	Filepath string
	Position int
	Title    string
	Content  string
	Context  string

	// Similarity is the cosine similarity from the vector leg.
	Similarity *float64
	// LexicalRank is the ts_rank_cd score from the lexical leg.
	LexicalRank *float64
}

// Searcher is the slice of the store the ranker needs. *store.Store
// satisfies it.
type Searcher interface {
	VectorSearch(ctx context.Context, embedding []float32, topK int, minSimilarity float64) ([]store.SearchResult, error)
	LexicalSearch(ctx context.Context, query string, topK int) ([]store.SearchResult, error)
}

// Ranker executes hybrid search against the store.
type Ranker struct {
	store  Searcher
	topK   int
	minSim float64
	hybrid bool
	logger log.Logger
}

// NewRanker creates a Ranker with the configured retrieval policy.
func NewRanker(s Searcher, cfg config.RetrievalConfig, logger log.Logger) (*Ranker, error) {
	if s == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.TopK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d", cfg.TopK)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Ranker{
		store:  s,
		topK:   cfg.TopK,
		minSim: cfg.MinSimilarity,
		hybrid: cfg.Hybrid,
		logger: logger,
	}, nil
}

// Search runs the vector leg with embedding and, in hybrid mode, the
// lexical leg with the raw query text. Results merge on
// (filepath, position) and come back ranked and truncated to the
// configured top-K. A lexical failure never fails the search.
func (r *Ranker) Search(ctx context.Context, query string, embedding []float32) ([]Match, error) {
	vres, err := r.store.VectorSearch(ctx, embedding, r.topK, r.minSim)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	var lres []store.SearchResult
	if r.hybrid {
		lres, err = r.store.LexicalSearch(ctx, query, r.topK)
		if err != nil {
			r.logger.Warn("lexical search failed, degrading to vector-only",
				"query_len", len(query), "error", err)
			lres = nil
		}
	}

	matches := merge(vres, lres)
	if len(matches) > r.topK {
		matches = matches[:r.topK]
	}
	return matches, nil
}

// mergeKey identifies a stored chunk across both result sets.
type mergeKey struct {
	filepath string
	position int
}

// scored pairs a match with its original index in each leg's result
// list; absentIndex marks a leg that did not return the chunk.
type scored struct {
	match  Match
	vecIdx int
	lexIdx int
}

const absentIndex = math.MaxInt

// merge combines the two result sets on (filepath, position) and sorts
// by similarity descending, lexical rank descending, then original
// vector and lexical indexes ascending. A missing score counts as
// negative infinity and a missing index as last, so matches either leg
// actually returned always rank ahead. No candidate is dropped here;
// truncation is the caller's policy.
func merge(vres, lres []store.SearchResult) []Match {
	entries := make([]scored, 0, len(vres)+len(lres))
	index := make(map[mergeKey]int, len(vres))

	for i, res := range vres {
		sim := res.Similarity
		entries = append(entries, scored{
			match:  toMatch(res, &sim, nil),
			vecIdx: i,
			lexIdx: absentIndex,
		})
		index[mergeKey{res.Filepath, res.Position}] = len(entries) - 1
	}

	for j, res := range lres {
		rank := res.LexicalRank
		if at, ok := index[mergeKey{res.Filepath, res.Position}]; ok {
			entries[at].match.LexicalRank = &rank
			entries[at].lexIdx = j
			continue
		}
		entries = append(entries, scored{
			match:  toMatch(res, nil, &rank),
			vecIdx: absentIndex,
			lexIdx: j,
		})
	}

	slices.SortStableFunc(entries, func(a, b scored) int {
		if c := cmp.Compare(scoreOf(b.match.Similarity), scoreOf(a.match.Similarity)); c != 0 {
			return c
		}
		if c := cmp.Compare(scoreOf(b.match.LexicalRank), scoreOf(a.match.LexicalRank)); c != 0 {
			return c
		}
		if c := cmp.Compare(a.vecIdx, b.vecIdx); c != 0 {
			return c
		}
		return cmp.Compare(a.lexIdx, b.lexIdx)
	})

	matches := make([]Match, len(entries))
	for i, e := range entries {
		matches[i] = e.match
	}
	return matches
}

func scoreOf(score *float64) float64 {
	if score == nil {
		return math.Inf(-1)
	}
	return *score
}

func toMatch(res store.SearchResult, sim, rank *float64) Match {
	return Match{
		ID:          res.ID,
		Filepath:    res.Filepath,
		Position:    res.Position,
		Title:       res.Title,
		Content:     res.Content,
		Context:     res.Context,
		Similarity:  sim,
		LexicalRank: rank,
	}
}
