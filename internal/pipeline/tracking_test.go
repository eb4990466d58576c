package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"go-query-pipeline/internal/model"
)

func TestStatsCollector(t *testing.T) {
	stats := model.Stats{
		Pool:  model.PoolStats{ActiveConnections: 2, IdleConnections: 3, Hits: 10, Misses: 5, Timeouts: 1},
		Cache: model.CacheStats{Entries: 7, Hits: 4, Misses: 6, Evictions: 2, Expired: 1},
		Breakers: []model.BreakerStats{
			{Name: "external-db", State: "CLOSED"},
			{Name: "llm-classify", State: "OPEN", Rejected: 3},
		},
		Retry: model.RetryStats{Attempts: 9, Exhausted: 1},
	}
	c := NewStatsCollector(func() model.Stats { return stats })

	// 5 pool + 5 cache + 2x2 breaker + 2 retry
	assert.Equal(t, 16, testutil.CollectAndCount(c))

	expected := `
# HELP querypipe_breaker_state Breaker state (0 closed, 1 open, 2 half-open)
# TYPE querypipe_breaker_state gauge
querypipe_breaker_state{name="external-db"} 0
querypipe_breaker_state{name="llm-classify"} 1
# HELP querypipe_cache_entries Entries currently cached
# TYPE querypipe_cache_entries gauge
querypipe_cache_entries 7
`
	assert.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"querypipe_breaker_state", "querypipe_cache_entries"))
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, "ok", outcomeOf(nil))
	assert.Equal(t, "no_data", outcomeOf(fmt.Errorf("wrapped: %w", &model.NoDataError{})))
	assert.Equal(t, "circuit_breaker_open", outcomeOf(&model.CircuitBreakerOpenError{Name: "x"}))
	assert.Equal(t, "invalid_filter", outcomeOf(fmt.Errorf("%w: cor", model.ErrInvalidFilter)))
	assert.Equal(t, "unsupported_intent", outcomeOf(model.ErrUnsupportedIntent))
	assert.Equal(t, "error", outcomeOf(errors.New("boom")))
	assert.Equal(t, "error", outcomeOf(context.DeadlineExceeded))
}

func TestRequestTracker_RecordsStages(t *testing.T) {
	rt := newRequestTracker("req-1", discardLogger())
	rt.StartStage("interpret")()
	rt.StartStage("calculate")()

	assert.Len(t, rt.stages, 2)
	assert.Equal(t, "interpret", rt.stages[0].Stage)
	rt.Complete(model.IntentSales, nil)
	rt.Complete("", errors.New("boom"))
}
