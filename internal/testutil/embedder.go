package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"sync"
)

// MockEmbedder produces deterministic embeddings without calling a
// provider. Unpinned texts get a unit vector on a hash-derived axis, so
// equal texts are identical and distinct texts are (almost always)
// orthogonal. SetVector pins exact vectors when a test needs precise
// cosine similarities.
//
// Safe for concurrent use.
type MockEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dim     int
}

// NewMockEmbedder creates a mock embedder emitting dim-length vectors.
func NewMockEmbedder(dim int) *MockEmbedder {
	return &MockEmbedder{
		vectors: make(map[string][]float32),
		dim:     dim,
	}
}

// SetVector pins an explicit vector for text.
func (e *MockEmbedder) SetVector(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vectors[text] = vec
}

// EmbedBatch returns one vector per text, index-aligned.
func (e *MockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vectorFor(text)
	}
	return vectors, nil
}

func (e *MockEmbedder) vectorFor(text string) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	if vec, ok := e.vectors[text]; ok {
		return vec
	}

	sum := sha256.Sum256([]byte(text))
	axis := int(binary.BigEndian.Uint32(sum[:4]) % uint32(e.dim))
	return UnitVector(e.dim, axis)
}

// UnitVector returns a dim-length vector with a single 1 at axis.
// Vectors on the same axis have cosine similarity 1, on different axes
// 0, which makes search thresholds easy to reason about in tests.
func UnitVector(dim, axis int) []float32 {
	vec := make([]float32, dim)
	vec[axis%dim] = 1
	return vec
}
