package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/MeshJS/mimir/internal/log"
)

// fallbackEncoding is used when a model has no registered tiktoken
// encoding. cl100k_base over-counts Gemini tokens slightly, which only
// makes chunk and budget estimates conservative.
const fallbackEncoding = "cl100k_base"

// Tokenizer counts and converts tokens for one model. A nil underlying
// encoder means approximation mode: Count assumes four characters per
// token and Encode/Decode operate on runes, so hard splits still
// round-trip exactly.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// Count returns the token count of text.
func (t *Tokenizer) Count(text string) int {
	if t.enc == nil {
		runes := len([]rune(text))
		return (runes + 3) / 4
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Encode converts text to token IDs.
func (t *Tokenizer) Encode(text string) []int {
	if t.enc == nil {
		runes := []rune(text)
		ids := make([]int, len(runes))
		for i, r := range runes {
			ids[i] = int(r)
		}
		return ids
	}
	return t.enc.Encode(text, nil, nil)
}

// Decode converts token IDs back to text. Decode(Encode(s)) == s for
// any s produced by the same Tokenizer.
func (t *Tokenizer) Decode(ids []int) string {
	if t.enc == nil {
		runes := make([]rune, len(ids))
		for i, id := range ids {
			runes[i] = rune(id)
		}
		return string(runes)
	}
	return t.enc.Decode(ids)
}

// Registry caches one Tokenizer per model name. Building an encoder
// loads its BPE ranks, which is too expensive to repeat per call.
type Registry struct {
	mu     sync.Mutex
	cache  map[string]*Tokenizer
	logger log.Logger
}

// NewRegistry creates an empty tokenizer registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		cache:  make(map[string]*Tokenizer),
		logger: logger,
	}
}

// For returns the tokenizer for model, building and caching it on first
// use. It never fails: unknown models fall back to cl100k_base, and if
// that encoding cannot be loaded either, to character approximation.
func (r *Registry) For(model string) *Tokenizer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tok, ok := r.cache[model]; ok {
		return tok
	}

	tok := r.build(model)
	r.cache[model] = tok
	return tok
}

func (r *Registry) build(model string) *Tokenizer {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return &Tokenizer{enc: enc}
	}

	r.logger.Debug("no tiktoken encoding for model, using fallback",
		"model", model, "fallback", fallbackEncoding)

	enc, err = tiktoken.GetEncoding(fallbackEncoding)
	if err == nil {
		return &Tokenizer{enc: enc}
	}

	// Offline without a cached BPE file. Estimates stay usable, just less
	// precise.
	r.logger.Warn("tiktoken encoding unavailable, approximating token counts",
		"model", model, "error", err)
	return &Tokenizer{}
}
