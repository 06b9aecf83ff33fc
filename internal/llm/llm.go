// Package llm wraps the Genkit model layer behind the small surface the
// rest of mimir needs: order-preserving batch embedding, contextual
// summaries for chunks, and answer generation with optional token
// streaming.
//
// The provider (gemini, ollama, openai) is chosen by configuration at
// startup. Callers depend on capabilities (embed, generate), never on a
// vendor SDK; provider differences stay inside this package.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"google.golang.org/genai"

	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/log"
)

// VectorDimension is the embedding width stored in the chunks table.
// gemini-embedding-001 emits 3072 dimensions by default and supports
// truncation via OutputDimensionality; the pgvector column is declared
// vector(768), so every stored vector must match this width.
const VectorDimension int32 = 768

var (
	// ErrVectorCountMismatch indicates the provider returned a different
	// number of vectors than texts sent. Persisting such a response would
	// associate chunks with the wrong embeddings, so callers must treat
	// this as fatal for the batch.
	ErrVectorCountMismatch = errors.New("embedding count does not match text count")

	// ErrEmptyResponse indicates the model returned no usable text.
	ErrEmptyResponse = errors.New("model returned empty response")
)

// contextPrompt situates one chunk within its whole document. The model
// is instructed to answer with the context sentence only; anything else
// would be stored verbatim alongside the chunk.
const contextPrompt = `<document>
%s
</document>

Here is the chunk we want to situate within the whole document:

<chunk>
%s
</chunk>

Please give a short succinct context to situate this chunk within the
overall document for the purposes of improving search retrieval of the
chunk. Answer only with the succinct context and nothing else.`

// StreamCallback receives each streamed text fragment as it arrives.
// Returning an error aborts the stream.
type StreamCallback func(ctx context.Context, token string) error

// GenerateOptions tune a single answer generation. Zero values fall
// back to the configured defaults.
type GenerateOptions struct {
	Temperature *float32
	MaxTokens   int
	OnToken     StreamCallback
}

// Client is the configured model client. Safe for concurrent use.
type Client struct {
	g           *genkit.Genkit
	embedder    ai.Embedder
	provider    string
	modelName   string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	temperature float32
	maxTokens   int
	logger      log.Logger
}

// New initializes Genkit with the configured provider and resolves the
// chat model and embedder. Providers are a closed set; supporting a new
// one means adding a case here.
func New(ctx context.Context, cfg *config.Config, logger log.Logger) (*Client, error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.NewNop()
	}

	var (
		g        *genkit.Genkit
		embedder ai.Embedder
	)

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery)
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		embedder = ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)

	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		// OpenAI auto-registers embedders in Init()
		embedder = genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))

	default: // "gemini" / "googleai"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		embedder = googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}

	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not available for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	logger.Info("initialized model client",
		"provider", cfg.Provider,
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
	)

	return &Client{
		g:           g,
		embedder:    embedder,
		provider:    cfg.Provider,
		modelName:   cfg.FullModelName(),
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// EmbedBatch embeds texts in a single provider call. The returned
// vectors are index-aligned with texts; a response with a different
// cardinality is rejected with ErrVectorCountMismatch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	docs := make([]*ai.Document, len(texts))
	for i, text := range texts {
		docs[i] = ai.DocumentFromText(text, nil)
	}

	req := &ai.EmbedRequest{Input: docs}
	if c.usesGoogleSDK() {
		dim := VectorDimension
		req.Options = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	resp, err := c.embedder.Embed(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d vectors",
			ErrVectorCountMismatch, len(texts), len(resp.Embeddings))
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if len(emb.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty vector at index %d", ErrVectorCountMismatch, i)
		}
		vectors[i] = emb.Embedding
	}
	return vectors, nil
}

// GenerateContext produces a short retrieval context for one chunk
// against its full document. The result is prepended to the chunk text
// before embedding so the vector carries document-level meaning.
func (c *Client) GenerateContext(ctx context.Context, chunkContent, documentContent string) (string, error) {
	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(contextPrompt, documentContent, chunkContent),
	)
	if err != nil {
		return "", fmt.Errorf("generating chunk context: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generating chunk context: %w", ErrEmptyResponse)
	}
	return text, nil
}

// GenerateAnswer produces an answer for prompt under system. When
// opts.OnToken is set, the response also streams through it fragment by
// fragment; the returned string is always the complete text.
func (c *Client) GenerateAnswer(ctx context.Context, system, prompt string, opts GenerateOptions) (string, error) {
	genOpts := []ai.GenerateOption{
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	}
	if system != "" {
		genOpts = append(genOpts, ai.WithSystem(system))
	}
	if cfgOpt := c.generationConfig(opts); cfgOpt != nil {
		genOpts = append(genOpts, cfgOpt)
	}
	if opts.OnToken != nil {
		genOpts = append(genOpts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return opts.OnToken(ctx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, c.g, genOpts...)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generating answer: %w", ErrEmptyResponse)
	}
	return text, nil
}

// generationConfig builds the provider generation config. Only the
// Google SDK config is wired; other providers expect their own config
// types and run with plugin defaults.
func (c *Client) generationConfig(opts GenerateOptions) ai.GenerateOption {
	if !c.usesGoogleSDK() {
		return nil
	}

	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}
	return ai.WithConfig(cfg)
}

func (c *Client) usesGoogleSDK() bool {
	return c.provider == config.ProviderGemini || c.provider == config.ProviderGoogleAI
}
