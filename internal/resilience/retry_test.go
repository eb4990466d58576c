package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-query-pipeline/internal/model"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestPolicy_DelaySequence(t *testing.T) {
	p := NewPolicy(model.RetryConfig{
		MaxAttempts:     7,
		InitialDelay:    time.Second,
		MaxDelay:        10 * time.Second,
		ExponentialBase: 2.0,
	})

	want := []time.Duration{1, 2, 4, 8, 10, 10, 10}
	for n, w := range want {
		assert.Equal(t, w*time.Second, p.Delay(n), "delay %d", n)
	}
	assert.Equal(t, 10*time.Second, p.Delay(5000))
}

func TestPolicy_RetriesTransientUntilSuccess(t *testing.T) {
	rec := &recordedSleeps{}
	p := NewPolicy(model.DefaultRetryConfig(), WithSleep(rec.sleep))

	calls := 0
	out, err := Do(context.Background(), p, "classify", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", fmt.Errorf("upstream 503: %w", model.ErrTransient)
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.Calls)
	assert.Equal(t, int64(3), stats.Attempts)
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(0), stats.Exhausted)
}

func TestPolicy_ExhaustedReturnsLastErrorUnwrapped(t *testing.T) {
	rec := &recordedSleeps{}
	p := NewPolicy(model.DefaultRetryConfig(), WithSleep(rec.sleep))

	var last error
	calls := 0
	err := p.Run(context.Background(), "query", func(context.Context) error {
		calls++
		last = fmt.Errorf("attempt %d: %w", calls, model.ErrTransient)
		return last
	})

	assert.Same(t, last, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), p.Stats().Exhausted)
}

func TestPolicy_NonRetryableFailsFast(t *testing.T) {
	rec := &recordedSleeps{}
	p := NewPolicy(model.DefaultRetryConfig(), WithSleep(rec.sleep))

	cases := []error{
		errors.New("syntax error"),
		&model.NoDataError{Intent: model.IntentSales},
		&model.CircuitBreakerOpenError{Name: "llm-classify"},
	}
	for _, want := range cases {
		calls := 0
		err := p.Run(context.Background(), "op", func(context.Context) error {
			calls++
			return want
		})
		assert.Same(t, want, err)
		assert.Equal(t, 1, calls)
	}
	assert.Empty(t, rec.delays)
}

func TestPolicy_CustomAllowList(t *testing.T) {
	errRateLimited := errors.New("rate limited")
	p := NewPolicy(model.RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2},
		WithRetryable(func(err error) bool { return errors.Is(err, errRateLimited) }))

	calls := 0
	_ = p.Run(context.Background(), "op", func(context.Context) error {
		calls++
		return errRateLimited
	})
	assert.Equal(t, 2, calls)
}

func TestPolicy_CancelledWhileWaiting(t *testing.T) {
	p := NewPolicy(model.RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, ExponentialBase: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	err := p.Run(ctx, "op", func(context.Context) error {
		calls++
		return model.ErrTransient
	})
	assert.ErrorIs(t, err, model.ErrTransient)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRetryWrapsBreaker(t *testing.T) {
	clock := newFakeClock()
	b := NewBreaker("llm-classify", model.BreakerConfig{FailMax: 2, TimeoutDuration: time.Minute, SuccessThreshold: 1},
		WithBreakerClock(clock.Now))
	rec := &recordedSleeps{}
	p := NewPolicy(model.RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: 10 * time.Second, ExponentialBase: 2},
		WithSleep(rec.sleep))

	calls := 0
	_, err := Do(context.Background(), p, "classify", func(ctx context.Context) (int, error) {
		return Call(ctx, b, func(context.Context) (int, error) {
			calls++
			return 0, model.ErrTransient
		})
	})

	// two real failures trip the breaker, the third attempt fast-fails and stops retrying
	assert.Equal(t, model.KindBreakerOpen, model.KindOf(err))
	assert.Equal(t, 2, calls)
	assert.Len(t, rec.delays, 2)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(model.ErrTransient))
	assert.True(t, IsTransient(fmt.Errorf("wrapped: %w", model.ErrTransient)))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(&model.NeedsClarificationError{Field: "product_id"}))
	assert.False(t, IsTransient(errors.New("plain")))
}
