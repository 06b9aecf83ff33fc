// Package cmd provides the mimir command line interface.
//
// Commands:
//   - sync: index a documentation directory into the knowledge base
//   - ask: answer a question from the indexed sources
//   - status: show knowledge base statistics
//
// Signal handling and graceful shutdown are implemented for all
// commands via context cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeshJS/mimir/internal/log"
)

// Execute is the main entry point for the mimir CLI application.
func Execute() error {
	// Initialize logger once at entry point
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "sync":
		return runSync(logger, os.Args[2:])
	case "ask":
		return runAsk(logger, os.Args[2:])
	case "status":
		return runStatus(logger)
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("mimir - ask questions answered from your own documentation")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mimir sync [dir]     Index a documentation directory (default: docs_dir from config)")
	fmt.Println("  mimir ask <question> Answer a question from the indexed sources")
	fmt.Println("  mimir status         Show knowledge base statistics")
	fmt.Println("  mimir --version      Show version information")
	fmt.Println("  mimir --help         Show this help")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  ask --render         Render the answer as styled Markdown instead of streaming")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY       Gemini provider key (default provider)")
	fmt.Println("  OPENAI_API_KEY       OpenAI provider key")
	fmt.Println("  DATABASE_URL         PostgreSQL connection URL (overrides config file)")
	fmt.Println("  DEBUG                Optional: enable debug logging")
	fmt.Println()
	fmt.Println("Configuration file: ~/.mimir/config.yaml")
}
