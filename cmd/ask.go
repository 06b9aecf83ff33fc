package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MeshJS/mimir/internal/app"
	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/log"
	"github.com/MeshJS/mimir/internal/query"
)

// runAsk answers one question from the knowledge base. By default the
// answer streams token by token followed by the sources list; with
// --render the full answer is collected and printed as styled
// Markdown.
func runAsk(logger log.Logger, args []string) error {
	question, render := parseAskArgs(args)
	if strings.TrimSpace(question) == "" {
		return errors.New("usage: mimir ask [--render] <question>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
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

	var opts query.AskOptions
	if !render {
		opts.OnToken = func(_ context.Context, token string) error {
			fmt.Print(token)
			return nil
		}
	}

	ans, err := a.Query.Ask(ctx, question, opts)
	if errors.Is(err, query.ErrNoSources) {
		fmt.Println("No indexed documentation matches this question. Run `mimir sync` first, or rephrase.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	if render {
		fmt.Println(renderMarkdown(ans.String()))
		return nil
	}

	// The body already streamed; close its line and attach the
	// canonical sources.
	fmt.Println()
	if block := ans.SourcesBlock(); block != "" {
		fmt.Println()
		fmt.Println(block)
	}
	return nil
}

// parseAskArgs separates flags from the question words. Everything
// that is not a recognized flag is part of the question.
func parseAskArgs(args []string) (question string, render bool) {
	words := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == "--render" || arg == "-r" {
			render = true
			continue
		}
		words = append(words, arg)
	}
	return strings.Join(words, " "), render
}
