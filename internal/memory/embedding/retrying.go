package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blueberrycongee/convostore/internal/resilience"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
)

// RetryConfig configures Retrying.
type RetryConfig struct {
	// MaxAttempts bounds the total number of calls, including the first.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles after
	// every further failure.
	BaseDelay time.Duration
	// Breaker, when set, rejects calls while the provider is failing.
	Breaker *resilience.CircuitBreaker
	Logger  *slog.Logger
}

// Retrying wraps an Embedder with bounded exponential-backoff retries.
// Only transient failures (429, 5xx, transport errors) are retried.
type Retrying struct {
	inner       Embedder
	maxAttempts int
	baseDelay   time.Duration
	breaker     *resilience.CircuitBreaker
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewRetrying wraps inner.
func NewRetrying(inner Embedder, cfg RetryConfig) *Retrying {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Retrying{
		inner:       inner,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		breaker:     cfg.Breaker,
		logger:      cfg.Logger,
		sleep:       sleepContext,
	}
}

// EmbedBatch calls the wrapped embedder, retrying transient failures.
func (r *Retrying) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.baseDelay << (attempt - 1)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if r.breaker != nil && !r.breaker.Allow() {
			return nil, fmt.Errorf("embedding provider %s: %w", r.inner.Model(), resilience.ErrCircuitOpen)
		}

		out, err := r.inner.EmbedBatch(ctx, texts)
		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			return out, nil
		}
		lastErr = err
		if !isTransient(ctx, err) {
			if r.breaker != nil {
				r.breaker.Release()
			}
			return nil, err
		}
		if r.breaker != nil {
			r.breaker.RecordFailure()
		}
		r.logger.Warn("embedding attempt failed",
			"model", r.inner.Model(),
			"attempt", attempt+1,
			"max_attempts", r.maxAttempts,
			"error", err)
	}
	return nil, fmt.Errorf("embedding failed after %d attempts: %w", r.maxAttempts, lastErr)
}

// Model returns the wrapped model name.
func (r *Retrying) Model() string {
	return r.inner.Model()
}

// Dimension returns the wrapped dimension.
func (r *Retrying) Dimension() int {
	return r.inner.Dimension()
}

func isTransient(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
