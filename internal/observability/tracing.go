// Package observability wires OpenTelemetry trace export into the
// model runtime.
//
// Genkit traces every model call it makes. Setup registers an OTLP
// HTTP exporter on Genkit's TracerProvider so those spans leave the
// process: pointed at a local collector agent by default, or directly
// at a backend when an API key is configured. Telemetry is optional;
// when disabled or misconfigured the application runs untraced.
package observability

import (
	"context"
	"os"

	"github.com/firebase/genkit/go/core/tracing"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MeshJS/mimir/internal/config"
	"github.com/MeshJS/mimir/internal/log"
)

// DefaultEndpoint is the conventional OTLP HTTP port of a collector
// agent running next to the process.
const DefaultEndpoint = "localhost:4318"

// Setup registers an OTLP span exporter with Genkit's TracerProvider
// and returns a shutdown function that flushes pending spans. It must
// run before the model client initializes Genkit so the provider is
// ready when the first span starts.
//
// Setup never fails the application: a broken exporter logs a warning
// and returns a no-op shutdown.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger log.Logger) func(context.Context) error {
	if logger == nil {
		logger = log.NewNop()
	}
	if !cfg.Enabled {
		return noopShutdown
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	// Genkit's TracerProvider reads resource attributes from the OTEL
	// env vars. SAFETY: os.Setenv is not concurrent-safe, but Setup runs
	// exactly once during startup before goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}
	if cfg.Environment != "" {
		_ = os.Setenv("OTEL_RESOURCE_ATTRIBUTES", "deployment.environment="+cfg.Environment)
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if cfg.APIKey != "" {
		// Direct backend export authenticates per request.
		opts = append(opts, otlptracehttp.WithHeaders(map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}))
	} else {
		// A local agent handles authentication and forwarding; no TLS
		// on localhost.
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return noopShutdown
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	logger.Debug("trace export enabled",
		"endpoint", endpoint,
		"service", cfg.ServiceName,
		"environment", cfg.Environment,
	)

	return tracing.TracerProvider().Shutdown
}

func noopShutdown(context.Context) error { return nil }
