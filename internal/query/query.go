// Package query answers questions from the synced knowledge base.
//
// One ask embeds the question, retrieves the best-ranked chunks,
// prompts the chat model with them as numbered sources and assembles
// the response into an answer with verifiable citations.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MeshJS/mimir/internal/answer"
	"github.com/MeshJS/mimir/internal/llm"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/retrieval"
	"github.com/MeshJS/mimir/internal/schedule"
)

// ErrNoSources reports that retrieval found nothing relevant enough to
// answer from. Callers present it as a normal outcome, not a fault.
var ErrNoSources = errors.New("no relevant sources found")

// answerSystemPrompt pins the model to the retrieved sources. The
// numbered-citation instruction is what the answer assembler parses
// back out.
const answerSystemPrompt = `You are a documentation assistant. Answer the question using only the numbered sources provided.

Rules:
- Cite the sources you use with their number in square brackets, like [1] or [2].
- If several sources support a claim, cite each of them.
- If the sources do not contain the answer, say so plainly. Never invent information.
- Keep the answer concise and use Markdown formatting.`

// Embedder turns the question into a vector under the embedding
// budget. *llm.Batcher satisfies it.
type Embedder interface {
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever ranks stored chunks against the question.
// *retrieval.Ranker satisfies it.
type Retriever interface {
	Search(ctx context.Context, query string, embedding []float32) ([]retrieval.Match, error)
}

// Generator produces the answer text. *llm.Client satisfies it.
type Generator interface {
	GenerateAnswer(ctx context.Context, system, prompt string, opts llm.GenerateOptions) (string, error)
}

// Assembler resolves the generated text into an answer with citations.
// *answer.Assembler satisfies it.
type Assembler interface {
	Assemble(text string, matches []retrieval.Match) answer.Answer
}

// TokenCounter estimates prompt costs for the chat budget.
// *llm.Tokenizer satisfies it.
type TokenCounter interface {
	Count(text string) int
}

// Config assembles a Service's collaborators.
type Config struct {
	Embedder  Embedder
	Retriever Retriever
	Generator Generator
	Assembler Assembler
	// ChatScheduler admits the answer generation call.
	ChatScheduler *schedule.Scheduler
	// Tokens estimates the prompt cost for the scheduler's token
	// budget. Optional; without it calls are admitted at zero cost.
	Tokens TokenCounter
	Logger log.Logger
}

func (c *Config) validate() error {
	if c.Embedder == nil {
		return errors.New("embedder is required")
	}
	if c.Retriever == nil {
		return errors.New("retriever is required")
	}
	if c.Generator == nil {
		return errors.New("generator is required")
	}
	if c.Assembler == nil {
		return errors.New("assembler is required")
	}
	if c.ChatScheduler == nil {
		return errors.New("chat scheduler is required")
	}
	return nil
}

// AskOptions tune a single question.
type AskOptions struct {
	// OnToken receives answer tokens as they stream. Tokens replay from
	// the start when a transient provider failure forces a retry.
	OnToken llm.StreamCallback
}

// Service answers questions. Safe for concurrent use.
type Service struct {
	embedder  Embedder
	retriever Retriever
	generator Generator
	assembler Assembler
	chatSync  *schedule.Scheduler
	tokens    TokenCounter
	logger    log.Logger
}

// New creates a Service from cfg.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid query config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	return &Service{
		embedder:  cfg.Embedder,
		retriever: cfg.Retriever,
		generator: cfg.Generator,
		assembler: cfg.Assembler,
		chatSync:  cfg.ChatScheduler,
		tokens:    cfg.Tokens,
		logger:    cfg.Logger,
	}, nil
}

// Ask answers question from the knowledge base. It returns ErrNoSources
// when retrieval comes back empty; every other error is a fault.
func (s *Service) Ask(ctx context.Context, question string, opts AskOptions) (answer.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return answer.Answer{}, errors.New("question is empty")
	}

	vectors, err := s.embedder.EmbedAll(ctx, []string{question})
	if err != nil {
		return answer.Answer{}, fmt.Errorf("embedding question: %w", err)
	}
	if len(vectors) != 1 {
		return answer.Answer{}, fmt.Errorf("embedding question: got %d vectors for one text", len(vectors))
	}

	matches, err := s.retriever.Search(ctx, question, vectors[0])
	if err != nil {
		return answer.Answer{}, fmt.Errorf("searching knowledge base: %w", err)
	}
	if len(matches) == 0 {
		return answer.Answer{}, ErrNoSources
	}
	s.logger.Debug("sources retrieved", "question_len", len(question), "matches", len(matches))

	prompt := buildPrompt(question, matches)

	var text string
	err = s.chatSync.Do(ctx, s.estimateAskCost(prompt), func(ctx context.Context) error {
		var genErr error
		text, genErr = s.generator.GenerateAnswer(ctx, answerSystemPrompt, prompt, llm.GenerateOptions{
			OnToken: opts.OnToken,
		})
		return genErr
	})
	if err != nil {
		return answer.Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	result := s.assembler.Assemble(text, matches)
	s.logger.Info("question answered",
		"matches", len(matches),
		"cited", len(result.Sources),
	)
	return result, nil
}

func (s *Service) estimateAskCost(prompt string) int {
	if s.tokens == nil {
		return 0
	}
	return s.tokens.Count(answerSystemPrompt) + s.tokens.Count(prompt)
}

// buildPrompt lays the question and the ranked chunks out as numbered
// sources. The numbering is 1-based and matches what the assembler
// resolves citation markers against.
func buildPrompt(question string, matches []retrieval.Match) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nSources:\n")
	for i, m := range matches {
		fmt.Fprintf(&b, "\n[%d] ", i+1)
		if m.Title != "" {
			fmt.Fprintf(&b, "%s (%s)\n", m.Title, m.Filepath)
		} else {
			b.WriteString(m.Filepath)
			b.WriteByte('\n')
		}
		if m.Context != "" {
			b.WriteString(m.Context)
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
