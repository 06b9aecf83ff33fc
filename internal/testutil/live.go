package testutil

import (
	"context"
	"os"
	"testing"

	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/llm"
	"github.com/MeshJS/mimir/internal/log"
)

// SetupLiveClient builds a model client against the real Gemini API.
//
// Tests using it exercise the full provider path: Genkit plugin
// initialization, embedding requests, and answer generation. They skip
// unless GEMINI_API_KEY is set, and in -short mode, so the default test
// run stays offline.
func SetupLiveClient(t *testing.T) *llm.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping live model test in short mode")
	}
	if os.Getenv("GEMINI_API_KEY") == "" {
		t.Skip("GEMINI_API_KEY not set - skipping test requiring a live model")
	}

	cfg := &config.Config{
		Provider:      config.ProviderGemini,
		ModelName:     "gemini-2.5-flash",
		EmbedderModel: config.DefaultGeminiEmbedderModel,
		Temperature:   0.2,
		MaxTokens:     1024,
	}

	client, err := llm.New(context.Background(), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("initializing live model client: %v", err)
	}
	return client
}
