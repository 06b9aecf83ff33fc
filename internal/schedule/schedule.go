// Package schedule admits outbound model calls under per-kind rate
// budgets. A Scheduler bounds simultaneous calls, paces them against a
// requests-per-minute limiter and, when a token budget is configured,
// reserves an estimated token cost before a call may even compete for
// a concurrency slot. Transient provider failures are retried with
// exponential backoff; everything else fails fast.
//
// One Scheduler is built per call kind (embedding, chat) so a burst of
// embeddings can never starve interactive answers:
//
//	embedSched := schedule.New("embedding", budget, logger)
//	err := embedSched.Do(ctx, estTokens, func(ctx context.Context) error { ... })
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/MeshJS/mimir/internal/log"
)

// Budget caps one call kind's outbound volume. The zero value of a
// field falls back to a safe default; TokensPerMinute of zero disables
// token accounting entirely.
type Budget struct {
	Concurrency       int
	RequestsPerMinute int
	TokensPerMinute   int
	Retries           int
}

// RetryConfig configures backoff between retry attempts.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category. Matched
// case-insensitively against err.Error().
//
// NOTE: string matching is used because Genkit and the provider SDKs
// do not expose typed errors for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},                     // rate limiting
	{"500", "502", "503", "504", "unavailable", "overloaded"},   // transient server errors
	{"connection reset", "timeout", "temporary", "broken pipe"}, // network errors
}

// retryableError reports whether err is transient and should trigger a
// retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// Scheduler admits calls of one kind under a shared budget. Safe for
// concurrent use by any number of in-flight tasks.
type Scheduler struct {
	kind     string
	slots    chan struct{}
	requests *rate.Limiter
	tokens   *rate.Limiter
	retry    RetryConfig
	logger   log.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetry overrides the default retry backoff settings.
func WithRetry(rc RetryConfig) Option {
	return func(s *Scheduler) {
		if rc.MaxRetries >= 0 && rc.InitialInterval > 0 && rc.MaxInterval >= rc.InitialInterval {
			s.retry = rc
		}
	}
}

// New creates a Scheduler for one call kind. The kind appears in log
// records and error messages only.
func New(kind string, budget Budget, logger log.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = log.NewNop()
	}
	concurrency := budget.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	perMinute := budget.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 60
	}

	s := &Scheduler{
		kind:     kind,
		slots:    make(chan struct{}, concurrency),
		requests: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		retry:    DefaultRetryConfig(),
		logger:   logger,
	}
	if budget.TokensPerMinute > 0 {
		s.tokens = rate.NewLimiter(rate.Limit(float64(budget.TokensPerMinute)/60.0), budget.TokensPerMinute)
	}
	if budget.Retries > 0 {
		s.retry.MaxRetries = budget.Retries
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Do runs call under the scheduler's budgets. The estimated token cost
// is reserved first and may itself block; only then does the task
// compete for a concurrency slot, and each attempt waits on the
// request limiter. Cancelling ctx aborts any pending wait or retry
// immediately.
func (s *Scheduler) Do(ctx context.Context, estTokens int, call func(context.Context) error) error {
	if err := s.reserveTokens(ctx, estTokens); err != nil {
		return fmt.Errorf("reserving %s token budget: %w", s.kind, err)
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s slot: %w", s.kind, ctx.Err())
	}
	defer func() { <-s.slots }()

	return s.withRetry(ctx, call)
}

// reserveTokens blocks until the token budget can absorb the estimated
// cost. Estimates above the limiter's burst are clamped so that a
// single oversized request cannot deadlock the budget.
func (s *Scheduler) reserveTokens(ctx context.Context, estTokens int) error {
	if s.tokens == nil || estTokens <= 0 {
		return nil
	}
	if burst := s.tokens.Burst(); estTokens > burst {
		s.logger.Debug("token estimate exceeds budget burst, clamping",
			"kind", s.kind, "estimate", estTokens, "burst", burst)
		estTokens = burst
	}
	return s.tokens.WaitN(ctx, estTokens)
}

// withRetry executes call with exponential backoff, pacing every
// attempt through the request limiter. Non-retryable errors surface
// immediately; each failed transient attempt logs the attempt number
// and the attempts remaining.
func (s *Scheduler) withRetry(ctx context.Context, call func(context.Context) error) error {
	var lastErr error
	delay := s.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		if err := s.requests.Wait(ctx); err != nil {
			return fmt.Errorf("%s request limiter wait: %w", s.kind, err)
		}

		err := call(ctx)
		if err == nil {
			if attempt > 0 {
				s.logger.Debug("call succeeded after retry",
					"kind", s.kind,
					"attempts", attempt+1,
					"elapsed", time.Since(start),
				)
			}
			return nil
		}
		lastErr = err

		if !retryableError(err) {
			return err
		}
		if attempt == s.retry.MaxRetries {
			break
		}

		s.logger.Warn("transient provider error, retrying",
			"kind", s.kind,
			"attempt", attempt+1,
			"remaining", s.retry.MaxRetries-attempt,
			"delay", delay,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("canceled during %s retry wait: %w", s.kind, ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, s.retry.MaxInterval)
		}
	}

	return fmt.Errorf("%s call failed after %d attempts (elapsed %v): %w",
		s.kind, s.retry.MaxRetries+1, time.Since(start), lastErr)
}

// Collect runs one task per input concurrently under the scheduler and
// returns the outputs in submission order, regardless of completion
// order. The first failure cancels the remaining tasks and is returned.
// tokens may be nil when the scheduler carries no token budget.
func Collect[In, Out any](ctx context.Context, s *Scheduler, inputs []In, tokens func(In) int, call func(context.Context, In) (Out, error)) ([]Out, error) {
	results := make([]Out, len(inputs))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		eg.Go(func() error {
			cost := 0
			if tokens != nil {
				cost = tokens(in)
			}
			return s.Do(egCtx, cost, func(ctx context.Context) error {
				out, err := call(ctx, in)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
