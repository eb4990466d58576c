package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go-query-pipeline/internal/model"
)

// State of a circuit breaker
type State int

const (
	// StateClosed lets calls through and counts failures
	StateClosed State = iota
	// StateOpen rejects calls until the timeout elapses
	StateOpen
	// StateHalfOpen lets a few probes through to test recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Breaker guards one named dependency
type Breaker struct {
	name   string
	cfg    model.BreakerConfig
	now    func() time.Time
	logger *slog.Logger

	mu              sync.Mutex
	state           State
	failCounter     int
	successCounter  int
	inFlightProbes  int
	lastFailureTime time.Time
	openedAt        time.Time
	rejected        int64
}

// BreakerOption customizes a Breaker
type BreakerOption func(*Breaker)

// WithBreakerClock replaces time.Now
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

// WithBreakerLogger sets the logger
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(b *Breaker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBreaker creates a closed breaker
func NewBreaker(name string, cfg model.BreakerConfig, opts ...BreakerOption) *Breaker {
	if cfg.FailMax <= 0 {
		cfg.FailMax = model.DefaultBreakerConfig().FailMax
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	b := &Breaker{
		name:   name,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "circuit_breaker", "breaker", name)
	return b
}

// Name of the guarded dependency
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. While open it returns a
// *model.CircuitBreakerOpenError; once the timeout has elapsed the next
// call moves the breaker to half-open and is let through as a probe.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateOpen:
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.cfg.TimeoutDuration {
			b.rejected++
			return &model.CircuitBreakerOpenError{Name: b.name, RetryAfter: b.cfg.TimeoutDuration - elapsed}
		}
		b.transitionTo(StateHalfOpen, now)
		b.inFlightProbes = 1
		return nil
	case StateHalfOpen:
		if b.inFlightProbes >= b.cfg.SuccessThreshold {
			b.rejected++
			return &model.CircuitBreakerOpenError{Name: b.name}
		}
		b.inFlightProbes++
		return nil
	default:
		return nil
	}
}

// RecordSuccess registers a successful call
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failCounter = 0
	case StateHalfOpen:
		b.successCounter++
		if b.inFlightProbes > 0 {
			b.inFlightProbes--
		}
		if b.successCounter >= b.cfg.SuccessThreshold {
			b.transitionTo(StateClosed, b.now())
		}
	}
}

// RecordFailure registers a failed call
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.lastFailureTime = now

	switch b.state {
	case StateClosed:
		b.failCounter++
		if b.failCounter >= b.cfg.FailMax {
			b.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		// any failure while probing reopens
		b.failCounter++
		b.transitionTo(StateOpen, now)
	}
}

// must be called with mu held
func (b *Breaker) transitionTo(next State, now time.Time) {
	prev := b.state
	b.state = next
	b.successCounter = 0
	b.inFlightProbes = 0
	switch next {
	case StateOpen:
		b.openedAt = now
	case StateClosed:
		b.failCounter = 0
	}
	b.logger.Info("circuit breaker state change", "from", prev.String(), "to", next.String())
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot
func (b *Breaker) Stats() model.BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return model.BreakerStats{
		Name:            b.name,
		State:           b.state.String(),
		FailCounter:     b.failCounter,
		SuccessCounter:  b.successCounter,
		LastFailureTime: b.lastFailureTime,
		Rejected:        b.rejected,
	}
}

// Reset forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed, b.now())
}

// Call runs fn through the breaker. Caller cancellation is not counted
// against the dependency.
func Call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.Allow(); err != nil {
		return zero, err
	}

	out, err := fn(ctx)
	switch {
	case err == nil:
		b.RecordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		b.release()
	default:
		b.RecordFailure()
	}
	if err != nil {
		return zero, err
	}
	return out, nil
}

// release gives back a half-open probe slot without judging the dependency
func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.inFlightProbes > 0 {
		b.inFlightProbes--
	}
}
