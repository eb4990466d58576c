package resilience

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"go-query-pipeline/internal/model"
)

// Retryable decides whether an error is worth another attempt
type Retryable func(error) bool

// Policy retries allow-listed errors with deterministic exponential backoff.
// Delay for retry n (0-indexed) is min(initial * base^n, max), with no jitter.
type Policy struct {
	cfg       model.RetryConfig
	retryable Retryable
	sleep     func(context.Context, time.Duration) error
	logger    *slog.Logger

	calls     atomic.Int64
	attempts  atomic.Int64
	retries   atomic.Int64
	exhausted atomic.Int64
}

// PolicyOption customizes a Policy
type PolicyOption func(*Policy)

// WithRetryable replaces the default allow-list
func WithRetryable(fn Retryable) PolicyOption {
	return func(p *Policy) { p.retryable = fn }
}

// WithSleep replaces the wait between attempts, mostly for tests
func WithSleep(fn func(context.Context, time.Duration) error) PolicyOption {
	return func(p *Policy) { p.sleep = fn }
}

// WithPolicyLogger sets the logger
func WithPolicyLogger(logger *slog.Logger) PolicyOption {
	return func(p *Policy) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPolicy creates a retry policy
func NewPolicy(cfg model.RetryConfig, opts ...PolicyOption) *Policy {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.ExponentialBase < 1 {
		cfg.ExponentialBase = 1
	}
	p := &Policy{
		cfg:       cfg,
		retryable: IsTransient,
		sleep:     sleepContext,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "retry")
	return p
}

// Delay returns the wait before retry n (0-indexed)
func (p *Policy) Delay(n int) time.Duration {
	d := float64(p.cfg.InitialDelay) * math.Pow(p.cfg.ExponentialBase, float64(n))
	if d > float64(p.cfg.MaxDelay) || math.IsInf(d, 0) {
		return p.cfg.MaxDelay
	}
	return time.Duration(d)
}

// Run is Do for functions without a result
func (p *Policy) Run(ctx context.Context, op string, fn func(context.Context) error) error {
	_, err := Do(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do calls fn until it succeeds, returns a non-retryable error, or runs out
// of attempts. The last error is returned as is.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p.calls.Add(1)

	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := p.Delay(attempt - 1)
			p.logger.Warn("retrying after transient error",
				"op", op, "attempt", attempt+1, "max_attempts", p.cfg.MaxAttempts,
				"delay", delay, "error", lastErr)
			if err := p.sleep(ctx, delay); err != nil {
				return zero, lastErr
			}
			p.retries.Add(1)
		}

		p.attempts.Add(1)
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !p.retryable(err) {
			return zero, err
		}
	}

	p.exhausted.Add(1)
	p.logger.Error("retries exhausted", "op", op, "attempts", p.cfg.MaxAttempts, "error", lastErr)
	return zero, lastErr
}

// Stats returns retry counters
func (p *Policy) Stats() model.RetryStats {
	return model.RetryStats{
		Calls:     p.calls.Load(),
		Attempts:  p.attempts.Load(),
		Retries:   p.retries.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

// IsTransient is the default allow-list: network timeouts and resets,
// broken driver connections and anything wrapping model.ErrTransient.
// Typed pipeline errors and cancellation are never retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if model.KindOf(err) != "" || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, model.ErrTransient) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
